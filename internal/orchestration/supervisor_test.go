package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/analysis"
)

// scriptedAgent lets each test decide how the agent answers.
type scriptedAgent struct {
	id     string
	handle func(ctx context.Context, msg Message, state *State) Message
}

func (a *scriptedAgent) ID() string             { return a.id }
func (a *scriptedAgent) Capabilities() []string { return []string{"scripted"} }
func (a *scriptedAgent) CanHandle(Task) float64 { return HighConfidence }
func (a *scriptedAgent) HandleMessage(ctx context.Context, msg Message, state *State) Message {
	return a.handle(ctx, msg, state)
}

func respondingAgent(id string) *scriptedAgent {
	return &scriptedAgent{id: id, handle: func(_ context.Context, msg Message, _ *State) Message {
		return ReplyTo(msg, id, SupervisorID, ResponsePayload{
			Status: "completed",
			Data:   map[string]interface{}{"answer": "42"},
		})
	}}
}

func erroringAgent(id, errText string) *scriptedAgent {
	return &scriptedAgent{id: id, handle: func(_ context.Context, msg Message, _ *State) Message {
		return ReplyTo(msg, id, SupervisorID, ErrorPayload{Error: errText})
	}}
}

func panickingAgent(id string) *scriptedAgent {
	return &scriptedAgent{id: id, handle: func(context.Context, Message, *State) Message {
		panic("agent exploded")
	}}
}

// stallingAgent acknowledges but never completes, forcing the monitor to
// hit its poll bound.
func stallingAgent(id string) *scriptedAgent {
	return &scriptedAgent{id: id, handle: func(_ context.Context, msg Message, _ *State) Message {
		return ReplyTo(msg, id, SupervisorID, StatusPayload{Status: "working"})
	}}
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *capturingPublisher) PublishTaskEvent(taskID, eventType, agentID, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *capturingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func newTestSupervisor(t *testing.T, agents []Agent, events EventPublisher) *Supervisor {
	t.Helper()
	analyzer, err := analysis.NewAnalyzer(nil, zap.NewNop())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MonitorMaxPolls = 5
	cfg.MonitorInterval = time.Millisecond
	return NewSupervisor(analyzer, agents, cfg, zap.NewNop(), events)
}

func TestExecuteTaskSuccess(t *testing.T) {
	events := &capturingPublisher{}
	sup := newTestSupervisor(t, []Agent{respondingAgent("search_agent")}, events)

	state := sup.ExecuteTask(context.Background(), "task-1", "Research the history of Go")

	assert.Equal(t, StatusCompleted, state.ExecutionStatus)
	assert.True(t, state.ExecutionStatus.Terminal())
	assert.Empty(t, state.Errors)
	assert.True(t, state.ConsensusReached)

	rp, ok := state.AgentResponse("search_agent")
	require.True(t, ok)
	assert.Equal(t, "completed", rp.Status)

	agg, ok := state.Aggregated()
	require.True(t, ok)
	assert.Equal(t, 1, agg.TotalAgents)
	assert.Equal(t, 1, agg.SuccessfulAgents)

	assert.Equal(t, "completed", state.AgentStates["search_agent"].Status)
	assert.NotNil(t, state.AgentStates["search_agent"].CompletedAt)

	seen := events.seen()
	assert.Equal(t, "workflow_started", seen[0])
	assert.Equal(t, "workflow_completed", seen[len(seen)-1])
	assert.Contains(t, seen, "agent_dispatched")
	assert.Contains(t, seen, "agent_completed")
	assert.Contains(t, seen, "results_aggregated")
}

func TestExecuteTaskResponsesCorrelateToRequests(t *testing.T) {
	sup := newTestSupervisor(t, []Agent{respondingAgent("search_agent")}, nil)

	state := sup.ExecuteTask(context.Background(), "task-1", "Research the history of Go")

	var req, resp *Message
	for i := range state.MessageQueue {
		m := &state.MessageQueue[i]
		switch m.Type {
		case TypeRequest:
			req = m
		case TypeResponse:
			resp = m
		}
	}
	require.NotNil(t, req)
	require.NotNil(t, resp)
	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.Equal(t, SupervisorID, req.FromAgent)
	assert.Equal(t, SupervisorID, resp.ToAgent)
}

func TestExecuteTaskSkipsRejectedRequests(t *testing.T) {
	sup := newTestSupervisor(t, []Agent{respondingAgent("search_agent")}, nil)

	state := sup.ExecuteTask(context.Background(), "task-2", "Call mom about dinner plans")

	assert.Equal(t, StatusCompleted, state.ExecutionStatus)
	require.NotNil(t, state.Analysis)
	assert.False(t, state.Analysis.Suitable)
	assert.Empty(t, state.ActiveAgents)
	assert.Empty(t, state.Results)
	assert.Empty(t, state.MessageQueue)
}

func TestExecuteTaskSurvivesPanickingAgent(t *testing.T) {
	sup := newTestSupervisor(t, []Agent{panickingAgent("search_agent")}, nil)

	state := sup.ExecuteTask(context.Background(), "task-3", "Research the history of Go")

	assert.Equal(t, StatusFailed, state.ExecutionStatus)
	assert.True(t, state.ExecutionStatus.Terminal())
	require.NotEmpty(t, state.Errors)
	assert.Equal(t, "search_agent", state.Errors[0].AgentID)
	assert.Contains(t, state.Errors[0].Error, "panicked")

	_, ok := state.AgentResponse("search_agent")
	assert.False(t, ok)
	_, ok = state.Aggregated()
	assert.False(t, ok)
}

func TestExecuteTaskRecordsAgentErrorMessages(t *testing.T) {
	sup := newTestSupervisor(t, []Agent{erroringAgent("search_agent", "search backend down")}, nil)

	state := sup.ExecuteTask(context.Background(), "task-4", "Research the history of Go")

	assert.Equal(t, StatusFailed, state.ExecutionStatus)
	require.NotEmpty(t, state.Errors)
	assert.Equal(t, "search_agent", state.Errors[0].AgentID)
	assert.Equal(t, "search backend down", state.Errors[0].Error)
}

func TestExecuteTaskFailsOnUnregisteredAgent(t *testing.T) {
	sup := newTestSupervisor(t, nil, nil)

	state := sup.ExecuteTask(context.Background(), "task-5", "Research the history of Go")

	assert.Equal(t, StatusFailed, state.ExecutionStatus)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0].Error, "no agent registered")
}

func TestExecuteTaskMonitorPollBound(t *testing.T) {
	sup := newTestSupervisor(t, []Agent{stallingAgent("search_agent")}, nil)

	state := sup.ExecuteTask(context.Background(), "task-6", "Research the history of Go")

	assert.Equal(t, StatusFailed, state.ExecutionStatus)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0].Error, "timed out")
}

func TestExecuteTaskHonorsCancellation(t *testing.T) {
	sup := newTestSupervisor(t, []Agent{stallingAgent("search_agent")}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := sup.ExecuteTask(ctx, "task-7", "Research the history of Go")

	assert.Equal(t, StatusFailed, state.ExecutionStatus)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0].Error, "cancelled")
}

type explodingPublisher struct{}

func (explodingPublisher) PublishTaskEvent(taskID, eventType, agentID, message string) {
	if eventType == "network_initialized" {
		panic("publisher exploded")
	}
}

func TestExecuteTaskRecoversInternalPanics(t *testing.T) {
	sup := newTestSupervisor(t, []Agent{respondingAgent("search_agent")}, explodingPublisher{})

	state := sup.ExecuteTask(context.Background(), "task-8", "Research the history of Go")

	assert.Equal(t, StatusFailed, state.ExecutionStatus)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0].Error, "orchestration panic")
}

func TestExecuteTaskConcurrentRunsAreIndependent(t *testing.T) {
	sup := newTestSupervisor(t, []Agent{
		respondingAgent("search_agent"),
		panickingAgent("browser_agent"),
		panickingAgent("voice_agent"),
	}, nil)

	var wg sync.WaitGroup
	states := make([]*State, 8)
	for i := range states {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i] = sup.ExecuteTask(context.Background(), "task-a", "Research the history of Go")
		}(i)
	}
	wg.Wait()

	for _, state := range states {
		require.NotNil(t, state)
		assert.Equal(t, StatusCompleted, state.ExecutionStatus)
		_, ok := state.AgentResponse("search_agent")
		assert.True(t, ok)
	}
}

func TestCollectBids(t *testing.T) {
	biddingSearch := &scriptedAgent{id: "search_agent", handle: func(_ context.Context, msg Message, _ *State) Message {
		return ReplyTo(msg, "search_agent", SupervisorID, NegotiatePayload{Bid: 0.9, EstimatedSeconds: 5})
	}}
	biddingBrowser := &scriptedAgent{id: "browser_agent", handle: func(_ context.Context, msg Message, _ *State) Message {
		return ReplyTo(msg, "browser_agent", SupervisorID, NegotiatePayload{Bid: 0.2, EstimatedSeconds: 60})
	}}
	sup := newTestSupervisor(t, []Agent{biddingSearch, biddingBrowser}, nil)

	state := NewState("task-9", "Research the history of Go")
	state.ActiveAgents = []string{"search_agent", "browser_agent"}

	bids := sup.CollectBids(context.Background(), state)

	require.Len(t, bids, 2)
	assert.Equal(t, 0.9, bids["search_agent"].Bid)
	assert.Equal(t, 0.2, bids["browser_agent"].Bid)
	assert.Equal(t, StatusNegotiating, state.ExecutionStatus)
	assert.Equal(t, 1, state.NegotiationRounds)
}
