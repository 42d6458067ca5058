package websearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/metrics"
)

// Result is a single search hit.
type Result struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
}

// Results is the search capability's output for one query.
type Results struct {
	Query        string   `json:"query"`
	Results      []Result `json:"results"`
	TotalResults int      `json:"total_results"`
	SearchTimeMs int      `json:"search_time_ms"`
	Sources      []string `json:"sources"`
}

// Client is a local search capability. It answers a handful of common query
// shapes with canned results and echoes everything else; swapping in a real
// web search API only changes this package.
type Client struct {
	logger *zap.Logger
	now    func() time.Time
}

// New creates a search client.
func New(logger *zap.Logger) *Client {
	return &Client{logger: logger, now: time.Now}
}

// Search resolves a query. It never fails for non-empty queries.
func (c *Client) Search(ctx context.Context, query string) (*Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}

	res := &Results{
		Query:        query,
		TotalResults: 1,
		SearchTimeMs: 150,
		Sources:      []string{"local_search"},
	}

	lowered := strings.ToLower(query)
	switch {
	case strings.Contains(lowered, "weather"):
		res.Results = []Result{{
			Title:   "Weather Information",
			Summary: "Current weather conditions and forecast. Connect a weather API for live data.",
			URL:     "https://weather.example.com",
		}}
	case strings.Contains(lowered, "time"):
		res.Results = []Result{{
			Title:   "Current Time",
			Summary: fmt.Sprintf("The current time is %s", c.now().Format("15:04:05")),
			URL:     "https://time.example.com",
		}}
	case containsAny(lowered, "python", "golang", "programming", "code"):
		res.Results = []Result{{
			Title:    "Programming Information",
			Summary:  fmt.Sprintf("Information about %s: relevant resources and documentation.", query),
			URL:      "https://docs.example.com",
			Category: "programming",
		}}
	default:
		res.Results = []Result{{
			Title:   fmt.Sprintf("Search result for: %s", query),
			Summary: fmt.Sprintf("Best available answer for the query %q.", query),
			URL:     "https://example.com/search-result",
		}}
	}

	metrics.CapabilityCalls.WithLabelValues("search", "ok").Inc()
	c.logger.Debug("Search resolved", zap.String("query", query), zap.Int("results", len(res.Results)))
	return res, nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
