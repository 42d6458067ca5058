package orchestration

import (
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the payload carried by a Message.
type MessageType string

const (
	TypeRequest   MessageType = "request"
	TypeResponse  MessageType = "response"
	TypeError     MessageType = "error"
	TypeStatus    MessageType = "status"
	TypeNegotiate MessageType = "negotiate"
)

// Payload is the closed set of message contents. Each variant may carry
// capability-specific extras, but the supervisor's dispatch switches stay
// exhaustive over the variants themselves.
type Payload interface {
	Kind() MessageType
}

// RequestPayload asks an agent to perform work.
type RequestPayload struct {
	Query    string `json:"query"`
	TaskType string `json:"task_type"`
	Priority string `json:"priority"`
	TaskID   string `json:"task_id,omitempty"`
}

func (RequestPayload) Kind() MessageType { return TypeRequest }

// ResponsePayload reports a completed or started unit of agent work. Data
// holds capability-specific fields (search results, browser task handle,
// call id).
type ResponsePayload struct {
	Status string                 `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

func (ResponsePayload) Kind() MessageType { return TypeResponse }

// ErrorPayload converts an agent-local failure into data.
type ErrorPayload struct {
	Error         string `json:"error"`
	OriginalQuery string `json:"original_query,omitempty"`
}

func (ErrorPayload) Kind() MessageType { return TypeError }

// StatusPayload carries informational progress updates.
type StatusPayload struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (StatusPayload) Kind() MessageType { return TypeStatus }

// NegotiatePayload is either the supervisor's solicitation (Task set) or
// an agent's bid for it (Bid and friends set).
type NegotiatePayload struct {
	Task             *Task    `json:"task,omitempty"`
	Bid              float64  `json:"bid"`
	Capabilities     []string `json:"capabilities,omitempty"`
	CurrentLoad      int      `json:"current_load"`
	EstimatedSeconds int      `json:"estimated_time"`
}

func (NegotiatePayload) Kind() MessageType { return TypeNegotiate }

// Message is the envelope agents and the supervisor exchange. Every
// response or error answering a message m carries CorrelationID == m.ID.
type Message struct {
	ID            string      `json:"id"`
	FromAgent     string      `json:"from_agent"`
	ToAgent       string      `json:"to_agent"`
	Type          MessageType `json:"message_type"`
	Content       Payload     `json:"content"`
	CorrelationID string      `json:"correlation_id"`
	Timestamp     time.Time   `json:"timestamp"`
}

// NewMessage creates a message with a fresh id. An empty correlationID
// starts a new correlation chain.
func NewMessage(fromAgent, toAgent string, content Payload, correlationID string) Message {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Message{
		ID:            uuid.NewString(),
		FromAgent:     fromAgent,
		ToAgent:       toAgent,
		Type:          content.Kind(),
		Content:       content,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
}

// Reply builds a message answering m, correlated to m's own id.
func Reply(m Message, fromAgent string, content Payload) Message {
	return NewMessage(fromAgent, m.FromAgent, content, m.ID)
}

// ReplyTo builds a message answering m addressed to an explicit recipient,
// correlated to m's own id.
func ReplyTo(m Message, fromAgent, toAgent string, content Payload) Message {
	return NewMessage(fromAgent, toAgent, content, m.ID)
}
