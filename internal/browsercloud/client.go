package browsercloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tasklane/orchestrator/internal/metrics"
	"github.com/tasklane/orchestrator/internal/tracing"
)

// TaskRequest starts a browser automation task.
type TaskRequest struct {
	Task            string   `json:"task"`
	ItemID          string   `json:"item_id,omitempty"`
	AllowedDomains  []string `json:"allowed_domains,omitempty"`
	Wait            bool     `json:"wait"`
	SaveBrowserData bool     `json:"save_browser_data"`
}

// TaskCreated is the async-start acknowledgement.
type TaskCreated struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id,omitempty"`
	LiveURL   string `json:"live_url,omitempty"`
}

// TaskResult is the polled outcome of a browser task.
type TaskResult struct {
	Status     string   `json:"status"`
	Success    bool     `json:"success"`
	DoneOutput string   `json:"done_output,omitempty"`
	Steps      []string `json:"steps,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	LiveURL    string   `json:"live_url,omitempty"`
}

// Config holds client settings.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec float64
}

// Client talks to a browser automation cloud. The cloud is a black box:
// tasks start asynchronously and are observed by polling.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a browser cloud client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// RunTask starts a browser task and returns its handle.
func (c *Client) RunTask(ctx context.Context, req TaskRequest) (*TaskCreated, error) {
	var created TaskCreated
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", req, &created); err != nil {
		metrics.CapabilityCalls.WithLabelValues("browser", "error").Inc()
		return nil, fmt.Errorf("run browser task: %w", err)
	}
	metrics.CapabilityCalls.WithLabelValues("browser", "ok").Inc()
	c.logger.Info("Browser task started",
		zap.String("task_id", created.TaskID),
		zap.String("live_url", created.LiveURL))
	return &created, nil
}

// GetTaskResult polls a browser task.
func (c *Client) GetTaskResult(ctx context.Context, taskID string) (*TaskResult, error) {
	var result TaskResult
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+taskID, nil, &result); err != nil {
		metrics.CapabilityCalls.WithLabelValues("browser", "error").Inc()
		return nil, fmt.Errorf("get browser task %s: %w", taskID, err)
	}
	metrics.CapabilityCalls.WithLabelValues("browser", "ok").Inc()
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)

	started := time.Now()
	resp, err := c.http.Do(req)
	metrics.CapabilityCallDuration.WithLabelValues("browser").Observe(time.Since(started).Seconds())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("browser cloud returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
