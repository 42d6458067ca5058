// Package agents contains the capability agents dispatched by the
// supervisor. Each agent keeps its own domain vocabulary for fitness
// scoring; only the tier mechanics are shared.
package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/orchestration"
	"github.com/tasklane/orchestrator/internal/websearch"
)

// SearchAgentID is the search agent's stable identifier.
const SearchAgentID = "search_agent"

// searcher is the slice of the search capability the agent needs.
type searcher interface {
	Search(ctx context.Context, query string) (*websearch.Results, error)
}

// SearchAgent handles research and information gathering tasks.
type SearchAgent struct {
	search  searcher
	matcher *orchestration.TierMatcher
	logger  *zap.Logger
}

// NewSearchAgent creates the search agent.
func NewSearchAgent(search searcher, logger *zap.Logger) *SearchAgent {
	return &SearchAgent{
		search: search,
		matcher: orchestration.NewTierMatcher(
			[]string{
				`\b(research|find|search|look up|what is|how to|compare)\b`,
				`\b(information|data|facts|details)\b`,
				`\b(weather|news|stock|price)\b`,
			},
			[]string{
				`\b(tell me|explain|describe)\b`,
				`\b(latest|current|recent)\b`,
			},
			0.3,
		),
		logger: logger,
	}
}

func (a *SearchAgent) ID() string { return SearchAgentID }

func (a *SearchAgent) Capabilities() []string {
	return []string{"research", "information_gathering", "fact_checking", "web_search"}
}

func (a *SearchAgent) CanHandle(task orchestration.Task) float64 {
	return a.matcher.Score(task.Request)
}

// HandleMessage reacts to an incoming message. Failures come back as error
// messages, never as panics or out-of-band errors.
func (a *SearchAgent) HandleMessage(ctx context.Context, msg orchestration.Message, state *orchestration.State) orchestration.Message {
	switch msg.Type {
	case orchestration.TypeRequest:
		return a.handleRequest(ctx, msg, state)
	case orchestration.TypeNegotiate:
		return a.handleNegotiation(msg, state)
	default:
		return unknownTypeReply(a.ID(), msg)
	}
}

func (a *SearchAgent) handleRequest(ctx context.Context, msg orchestration.Message, state *orchestration.State) orchestration.Message {
	query := state.OriginalRequest
	if req, ok := msg.Content.(orchestration.RequestPayload); ok && req.Query != "" {
		query = req.Query
	}

	results, err := a.search.Search(ctx, query)
	if err != nil {
		a.logger.Warn("Search failed", zap.String("query", query), zap.Error(err))
		return orchestration.ReplyTo(msg, a.ID(), orchestration.SupervisorID, orchestration.ErrorPayload{
			Error:         err.Error(),
			OriginalQuery: query,
		})
	}

	return orchestration.ReplyTo(msg, a.ID(), orchestration.SupervisorID, orchestration.ResponsePayload{
		Status: "completed",
		Data: map[string]interface{}{
			"results":    results,
			"confidence": a.CanHandle(orchestration.Task{Request: query}),
			"query":      query,
			"timestamp":  time.Now().Format(time.RFC3339),
		},
	})
}

func (a *SearchAgent) handleNegotiation(msg orchestration.Message, state *orchestration.State) orchestration.Message {
	task := orchestration.Task{Request: state.OriginalRequest}
	if neg, ok := msg.Content.(orchestration.NegotiatePayload); ok && neg.Task != nil {
		task = *neg.Task
	}
	return orchestration.ReplyTo(msg, a.ID(), orchestration.SupervisorID, orchestration.NegotiatePayload{
		Bid:              a.CanHandle(task),
		Capabilities:     a.Capabilities(),
		CurrentLoad:      0,
		EstimatedSeconds: a.estimateSeconds(task.Request),
	})
}

// estimateSeconds is a crude length heuristic, not a measurement.
func (a *SearchAgent) estimateSeconds(request string) int {
	switch {
	case len(request) < 50:
		return 5
	case len(request) < 150:
		return 10
	default:
		return 20
	}
}
