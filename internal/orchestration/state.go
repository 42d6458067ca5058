package orchestration

import (
	"time"

	"github.com/tasklane/orchestrator/internal/analysis"
	"github.com/tasklane/orchestrator/internal/metrics"
)

// ExecutionStatus tracks one orchestration run through its lifecycle.
type ExecutionStatus string

const (
	StatusInitializing ExecutionStatus = "initializing"
	StatusRunning      ExecutionStatus = "running"
	StatusNegotiating  ExecutionStatus = "negotiating"
	StatusCompleting   ExecutionStatus = "completing"
	StatusCompleted    ExecutionStatus = "completed"
	StatusFailed       ExecutionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AggregatedKey is the reserved Results slot holding the run summary.
const AggregatedKey = "aggregated"

// SupervisorID is the reserved agent identifier of the supervisor itself.
const SupervisorID = "supervisor"

// AgentStatus is the per-agent status record the supervisor maintains.
type AgentStatus struct {
	Status        string     `json:"status"`
	InitializedAt *time.Time `json:"initialized_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ErrorRecord is a dispatch-level or workflow-level failure captured as data.
type ErrorRecord struct {
	AgentID   string    `json:"agent_id,omitempty"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// AggregateResult is the summary written to Results under AggregatedKey.
type AggregateResult struct {
	TotalAgents      int                        `json:"total_agents"`
	SuccessfulAgents int                        `json:"successful_agents"`
	Results          map[string]ResponsePayload `json:"results"`
	CompletedAt      time.Time                  `json:"completed_at"`
}

// State is the mutable record threaded through one orchestration run. It is
// owned exclusively by the supervisor for the duration of one ExecuteTask
// call and never shared across concurrent tasks.
type State struct {
	TaskID          string `json:"task_id"`
	OriginalRequest string `json:"original_request"`

	Analysis         *analysis.Verdict `json:"task_analysis,omitempty"`
	FormattedRequest string            `json:"formatted_request,omitempty"`

	// MessageQueue is the append-only log of all messages seen.
	// ActiveMessages keeps the most recent message per correlation.
	MessageQueue   []Message          `json:"message_queue"`
	ActiveMessages map[string]Message `json:"active_messages"`

	AgentStates  map[string]AgentStatus `json:"agent_states"`
	ActiveAgents []string               `json:"active_agents"`

	ExecutionStatus ExecutionStatus        `json:"execution_status"`
	Results         map[string]interface{} `json:"results"`
	Errors          []ErrorRecord          `json:"errors"`

	LastActivity      time.Time `json:"last_activity"`
	ConsensusReached  bool      `json:"consensus_reached"`
	NegotiationRounds int       `json:"negotiation_rounds"`

	// monitor watermark: queue index below which messages have already
	// been processed, so re-entering the monitor step never double-applies.
	processedIdx int
}

// NewState creates the initial state for a task run.
func NewState(taskID, request string) *State {
	return &State{
		TaskID:          taskID,
		OriginalRequest: request,
		MessageQueue:    make([]Message, 0, 8),
		ActiveMessages:  make(map[string]Message),
		AgentStates:     make(map[string]AgentStatus),
		ActiveAgents:    nil, // set by analysis
		ExecutionStatus: StatusInitializing,
		Results:         make(map[string]interface{}),
		Errors:          make([]ErrorRecord, 0),
		LastActivity:    time.Now(),
	}
}

// AddMessage appends a message to the queue and indexes it by correlation.
func (s *State) AddMessage(m Message) {
	s.MessageQueue = append(s.MessageQueue, m)
	s.ActiveMessages[m.CorrelationID] = m
	s.LastActivity = time.Now()
	metrics.MessagesTotal.WithLabelValues(string(m.Type)).Inc()
}

// SetAgentStatus replaces an agent's status record.
func (s *State) SetAgentStatus(agentID string, status AgentStatus) {
	s.AgentStates[agentID] = status
	s.LastActivity = time.Now()
}

// RecordError appends a failure record. An empty agentID marks a
// workflow-level failure.
func (s *State) RecordError(agentID string, err error) {
	s.Errors = append(s.Errors, ErrorRecord{
		AgentID:   agentID,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
	s.LastActivity = time.Now()
}

// unprocessed returns queue messages past the watermark and advances it.
func (s *State) unprocessed() []Message {
	msgs := s.MessageQueue[s.processedIdx:]
	s.processedIdx = len(s.MessageQueue)
	return msgs
}

// AgentResponse returns the response payload recorded for agentID, if any.
func (s *State) AgentResponse(agentID string) (ResponsePayload, bool) {
	v, ok := s.Results[agentID]
	if !ok {
		return ResponsePayload{}, false
	}
	rp, ok := v.(ResponsePayload)
	return rp, ok
}

// Aggregated returns the run summary, if aggregation has happened.
func (s *State) Aggregated() (*AggregateResult, bool) {
	v, ok := s.Results[AggregatedKey]
	if !ok {
		return nil, false
	}
	ar, ok := v.(*AggregateResult)
	return ar, ok
}
