package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/analysis"
	"github.com/tasklane/orchestrator/internal/metrics"
)

// Config tunes the supervisor's routing and polling behavior.
type Config struct {
	// ConfidenceThreshold gates orchestration after analysis.
	ConfidenceThreshold float64
	// MonitorMaxPolls bounds the monitor self-loop; MonitorInterval is the
	// pause between polls. Together they replace the unbounded re-scan the
	// monitor step would otherwise be.
	MonitorMaxPolls int
	MonitorInterval time.Duration
	// DispatchTimeout bounds a single agent dispatch.
	DispatchTimeout time.Duration
}

// DefaultConfig returns the supervisor defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.6,
		MonitorMaxPolls:     30,
		MonitorInterval:     200 * time.Millisecond,
		DispatchTimeout:     2 * time.Minute,
	}
}

// EventPublisher receives progress events from orchestration runs.
// Implementations must be non-blocking.
type EventPublisher interface {
	PublishTaskEvent(taskID, eventType, agentID, message string)
}

// completion is the monitor step's routing decision.
type completion int

const (
	completionContinue completion = iota
	completionAggregate
	completionError
)

// Supervisor sequences one orchestration run: analysis, agent dispatch,
// monitoring, aggregation, completion. One Supervisor serves many
// concurrent runs; all per-run data lives in the State it owns for the
// duration of ExecuteTask.
type Supervisor struct {
	analyzer *analysis.Analyzer
	agents   map[string]Agent
	cfg      Config
	logger   *zap.Logger
	events   EventPublisher // optional
}

// NewSupervisor builds a supervisor over the given agents.
func NewSupervisor(analyzer *analysis.Analyzer, agents []Agent, cfg Config, logger *zap.Logger, events EventPublisher) *Supervisor {
	byID := make(map[string]Agent, len(agents))
	for _, a := range agents {
		byID[a.ID()] = a
	}
	return &Supervisor{
		analyzer: analyzer,
		agents:   byID,
		cfg:      cfg,
		logger:   logger,
		events:   events,
	}
}

// Analyzer exposes the analyzer for the trigger surface, which classifies
// items before deciding to start a run.
func (s *Supervisor) Analyzer() *analysis.Analyzer { return s.analyzer }

// ExecuteTask runs the workflow to completion and always returns a state
// with a terminal execution status. It never returns an error and never
// panics: unexpected failures are recovered, recorded, and reported as a
// failed state.
func (s *Supervisor) ExecuteTask(ctx context.Context, taskID, request string) (state *State) {
	state = NewState(taskID, request)
	started := time.Now()
	metrics.OrchestrationsStarted.Inc()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Orchestration panicked",
				zap.String("task_id", taskID), zap.Any("panic", r))
			state.RecordError("", fmt.Errorf("orchestration panic: %v", r))
			state.ExecutionStatus = StatusFailed
			state.LastActivity = time.Now()
		}
		metrics.OrchestrationsCompleted.WithLabelValues(string(state.ExecutionStatus)).Inc()
		metrics.OrchestrationDuration.Observe(time.Since(started).Seconds())
	}()

	s.logger.Info("Starting orchestration",
		zap.String("task_id", taskID), zap.String("request", request))
	s.publish(state, "workflow_started", "", request)

	s.analyzeTask(state)
	if !s.shouldProcess(state) {
		s.completeTask(state)
		return state
	}

	s.initialize(state)
	s.broadcastTask(ctx, state)

	polls := 0
	for {
		s.monitorAgents(state)
		polls++

		switch s.checkCompletion(state) {
		case completionError:
			s.completeTask(state)
			metrics.MonitorPolls.Observe(float64(polls))
			return state
		case completionAggregate:
			s.aggregateResults(state)
			s.completeTask(state)
			metrics.MonitorPolls.Observe(float64(polls))
			return state
		case completionContinue:
			if polls >= s.cfg.MonitorMaxPolls {
				state.RecordError("", fmt.Errorf("monitoring timed out after %d polls", polls))
				s.completeTask(state)
				metrics.MonitorPolls.Observe(float64(polls))
				return state
			}
			select {
			case <-ctx.Done():
				state.RecordError("", fmt.Errorf("orchestration cancelled: %w", ctx.Err()))
				s.completeTask(state)
				metrics.MonitorPolls.Observe(float64(polls))
				return state
			case <-time.After(s.cfg.MonitorInterval):
			}
		}
	}
}

// analyzeTask classifies the request and, when suitable, derives the
// formatted instruction and the participating agent set.
func (s *Supervisor) analyzeTask(state *State) {
	verdict := s.analyzer.Classify(state.OriginalRequest)
	state.Analysis = &verdict

	s.logger.Info("Task analyzed",
		zap.String("task_id", state.TaskID),
		zap.Bool("suitable", verdict.Suitable),
		zap.Float64("confidence", verdict.Confidence),
		zap.String("task_type", verdict.TaskType),
	)
	s.publish(state, "task_analyzed", "", verdict.TaskType)

	if verdict.Suitable {
		state.FormattedRequest = s.analyzer.FormatRequest(state.OriginalRequest, "", verdict.TaskType)
		state.ActiveAgents = s.analyzer.SuggestedAgents(verdict.TaskType)
		s.logger.Info("Agents selected",
			zap.String("task_id", state.TaskID),
			zap.Strings("agents", state.ActiveAgents))
	}
}

// shouldProcess gates dispatch on suitability and the confidence threshold.
func (s *Supervisor) shouldProcess(state *State) bool {
	if state.Analysis == nil {
		return false
	}
	if state.Analysis.Suitable && state.Analysis.Confidence > s.cfg.ConfidenceThreshold {
		return true
	}
	s.logger.Info("Skipping task, not suitable for automation",
		zap.String("task_id", state.TaskID),
		zap.String("reasoning", state.Analysis.Reasoning))
	return false
}

// initialize marks the run as running and seeds agent status records.
func (s *Supervisor) initialize(state *State) {
	state.ExecutionStatus = StatusRunning
	now := time.Now()
	for _, agentID := range state.ActiveAgents {
		state.SetAgentStatus(agentID, AgentStatus{Status: "ready", InitializedAt: &now})
	}
	s.logger.Info("Agent network initialized",
		zap.String("task_id", state.TaskID),
		zap.Strings("agents", state.ActiveAgents))
	s.publish(state, "network_initialized", "", "")
}

// broadcastTask dispatches a request message to every active agent in
// order. The agent call itself is guarded: a panic inside an agent is the
// coarse dispatch-failure channel and lands in state.Errors, distinct from
// the error messages well-behaved agents return.
func (s *Supervisor) broadcastTask(ctx context.Context, state *State) {
	taskType := ""
	if state.Analysis != nil {
		taskType = state.Analysis.TaskType
	}

	for _, agentID := range state.ActiveAgents {
		agent, ok := s.agents[agentID]
		if !ok {
			state.RecordError(agentID, fmt.Errorf("no agent registered for id %q", agentID))
			continue
		}

		request := NewMessage(SupervisorID, agentID, RequestPayload{
			Query:    state.OriginalRequest,
			TaskType: taskType,
			Priority: "normal",
			TaskID:   state.TaskID,
		}, "")
		state.AddMessage(request)
		s.publish(state, "agent_dispatched", agentID, "")

		response, err := s.dispatch(ctx, agent, request, state)
		if err != nil {
			s.logger.Error("Agent dispatch failed",
				zap.String("task_id", state.TaskID),
				zap.String("agent_id", agentID),
				zap.Error(err))
			state.RecordError(agentID, err)
			continue
		}
		state.AddMessage(response)

		now := time.Now()
		status := state.AgentStates[agentID]
		status.Status = "processing"
		status.StartedAt = &now
		state.SetAgentStatus(agentID, status)
	}
}

// dispatch invokes one agent under a timeout, converting panics to errors.
func (s *Supervisor) dispatch(ctx context.Context, agent Agent, msg Message, state *State) (response Message, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", agent.ID(), r)
		}
	}()

	started := time.Now()
	response = agent.HandleMessage(ctx, msg, state)
	metrics.AgentExecutions.WithLabelValues(agent.ID(), string(msg.Type)).Inc()
	metrics.AgentExecutionDuration.WithLabelValues(agent.ID()).
		Observe(float64(time.Since(started).Milliseconds()))
	return response, nil
}

// monitorAgents processes queue messages addressed to the supervisor,
// recording responses as results and agent errors as failure records. Only
// messages past the watermark are visited, so re-entry never double-fires.
func (s *Supervisor) monitorAgents(state *State) {
	for _, msg := range state.unprocessed() {
		if msg.ToAgent != SupervisorID {
			continue
		}
		switch content := msg.Content.(type) {
		case ResponsePayload:
			state.Results[msg.FromAgent] = content
			now := time.Now()
			status := state.AgentStates[msg.FromAgent]
			status.Status = "completed"
			status.CompletedAt = &now
			state.SetAgentStatus(msg.FromAgent, status)
			s.logger.Info("Agent completed task",
				zap.String("task_id", state.TaskID),
				zap.String("agent_id", msg.FromAgent),
				zap.String("status", content.Status))
			s.publish(state, "agent_completed", msg.FromAgent, content.Status)
		case ErrorPayload:
			metrics.AgentErrors.WithLabelValues(msg.FromAgent).Inc()
			state.RecordError(msg.FromAgent, fmt.Errorf("%s", content.Error))
			s.publish(state, "agent_failed", msg.FromAgent, content.Error)
		}
	}
	state.LastActivity = time.Now()
}

// checkCompletion decides whether to keep polling, aggregate, or abort.
func (s *Supervisor) checkCompletion(state *State) completion {
	if len(state.Errors) > 0 {
		return completionError
	}
	for _, agentID := range state.ActiveAgents {
		if state.AgentStates[agentID].Status != "completed" {
			return completionContinue
		}
	}
	return completionAggregate
}

// aggregateResults summarizes agent outcomes into the reserved results slot.
func (s *Supervisor) aggregateResults(state *State) {
	state.ExecutionStatus = StatusCompleting

	byAgent := make(map[string]ResponsePayload)
	successful := 0
	for _, agentID := range state.ActiveAgents {
		if rp, ok := state.AgentResponse(agentID); ok {
			byAgent[agentID] = rp
			successful++
		}
	}

	aggregate := &AggregateResult{
		TotalAgents:      len(state.ActiveAgents),
		SuccessfulAgents: successful,
		Results:          byAgent,
		CompletedAt:      time.Now(),
	}
	state.Results[AggregatedKey] = aggregate
	state.ConsensusReached = true

	s.logger.Info("Results aggregated",
		zap.String("task_id", state.TaskID),
		zap.Int("successful", successful),
		zap.Int("total", aggregate.TotalAgents))
	s.publish(state, "results_aggregated", "", "")
}

// completeTask is the terminal step.
func (s *Supervisor) completeTask(state *State) {
	if len(state.Errors) > 0 {
		state.ExecutionStatus = StatusFailed
		s.logger.Error("Orchestration failed",
			zap.String("task_id", state.TaskID),
			zap.Int("errors", len(state.Errors)))
	} else {
		state.ExecutionStatus = StatusCompleted
		s.logger.Info("Orchestration completed",
			zap.String("task_id", state.TaskID))
	}
	state.LastActivity = time.Now()
	s.publish(state, "workflow_completed", "", string(state.ExecutionStatus))
}

// CollectBids solicits a negotiate bid from every active agent. The data
// model anticipates multi-agent negotiation; no bidding policy is wired
// into ExecuteTask yet, so selection stays with the caller.
func (s *Supervisor) CollectBids(ctx context.Context, state *State) map[string]NegotiatePayload {
	state.ExecutionStatus = StatusNegotiating
	state.NegotiationRounds++

	bids := make(map[string]NegotiatePayload)
	for _, agentID := range state.ActiveAgents {
		agent, ok := s.agents[agentID]
		if !ok {
			continue
		}
		solicitation := NewMessage(SupervisorID, agentID, NegotiatePayload{
			Task: &Task{Request: state.OriginalRequest},
		}, "")
		state.AddMessage(solicitation)

		reply, err := s.dispatch(ctx, agent, solicitation, state)
		if err != nil {
			state.RecordError(agentID, err)
			continue
		}
		state.AddMessage(reply)
		if bid, ok := reply.Content.(NegotiatePayload); ok {
			bids[agentID] = bid
		}
	}
	return bids
}

func (s *Supervisor) publish(state *State, eventType, agentID, message string) {
	if s.events == nil {
		return
	}
	s.events.PublishTaskEvent(state.TaskID, eventType, agentID, message)
}
