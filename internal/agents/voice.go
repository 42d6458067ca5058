package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/orchestration"
)

// VoiceAgentID is the voice agent's stable identifier.
const VoiceAgentID = "voice_agent"

// caller is the slice of the voice platform the agent needs.
type caller interface {
	CreateCall(ctx context.Context, phoneNumber, assistantID string) (string, error)
	AssistantID() string
}

// callMapper records which task a provider call belongs to, so the webhook
// surface can settle the task when the call ends.
type callMapper interface {
	CreateMapping(ctx context.Context, callID, taskID string) error
}

// callDetails is what the agent can extract from free-text phrasing.
type callDetails struct {
	phoneNumber   string
	recipientName string
	purpose       string
}

var (
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+?1?[-.\s]?\(?([0-9]{3})\)?[-.\s]?([0-9]{3})[-.\s]?([0-9]{4})`),
		regexp.MustCompile(`\b\d{10}\b`),
		regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`),
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}-\d{4}`),
	}
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bcall\s+([A-Za-z]+(?:\s+[A-Za-z]+)?)\s+at\b`),
		regexp.MustCompile(`(?i)\bcontact\s+([A-Za-z]+(?:\s+[A-Za-z]+)?)\s+at\b`),
	}
)

// VoiceAgent places outbound phone calls through the voice platform. The
// call outcome arrives later on the webhook surface; the agent's response
// only confirms the call was started and mapped to its task.
type VoiceAgent struct {
	calls   caller
	mapping callMapper
	matcher *orchestration.TierMatcher
	logger  *zap.Logger
}

// NewVoiceAgent creates the voice agent.
func NewVoiceAgent(calls caller, mapping callMapper, logger *zap.Logger) *VoiceAgent {
	return &VoiceAgent{
		calls:   calls,
		mapping: mapping,
		matcher: orchestration.NewTierMatcher(
			[]string{
				`\b(call|phone|speak to|contact)\b.*\b(person|customer|client|support|service)\b`,
				`\b(make.*call|give.*call)\b`,
				`\b(call|phone).*\b(restaurant|hotel|business)\b`,
				`\b(call|phone).*\b(book|reserve|make)\b.*\b(table|room|reservation)\b`,
			},
			[]string{
				`\b(follow up|check in|confirm)\b`,
				`\b(customer service|support|help desk)\b`,
			},
			0.2,
		),
		logger: logger,
	}
}

func (a *VoiceAgent) ID() string { return VoiceAgentID }

func (a *VoiceAgent) Capabilities() []string {
	return []string{"voice_call", "phone_booking", "customer_contact", "appointment_scheduling"}
}

func (a *VoiceAgent) CanHandle(task orchestration.Task) float64 {
	return a.matcher.Score(task.Request)
}

func (a *VoiceAgent) HandleMessage(ctx context.Context, msg orchestration.Message, state *orchestration.State) orchestration.Message {
	switch msg.Type {
	case orchestration.TypeRequest:
		return a.handleCallRequest(ctx, msg, state)
	case orchestration.TypeNegotiate:
		return a.handleNegotiation(msg, state)
	default:
		return unknownTypeReply(a.ID(), msg)
	}
}

func (a *VoiceAgent) handleCallRequest(ctx context.Context, msg orchestration.Message, state *orchestration.State) orchestration.Message {
	request := state.OriginalRequest
	taskID := state.TaskID
	if req, ok := msg.Content.(orchestration.RequestPayload); ok {
		if req.Query != "" {
			request = req.Query
		}
		if req.TaskID != "" {
			taskID = req.TaskID
		}
	}

	fail := func(err error) orchestration.Message {
		a.logger.Warn("Voice call request failed",
			zap.String("task_id", taskID), zap.Error(err))
		return orchestration.ReplyTo(msg, a.ID(), orchestration.SupervisorID, orchestration.ErrorPayload{
			Error:         err.Error(),
			OriginalQuery: request,
		})
	}

	if taskID == "" {
		return fail(fmt.Errorf("task id is required for call tracking"))
	}

	details := extractCallDetails(request)
	if details.phoneNumber == "" {
		return fail(fmt.Errorf("phone number is required for voice calls; include one in the task description"))
	}

	callID, err := a.calls.CreateCall(ctx, details.phoneNumber, a.calls.AssistantID())
	if err != nil {
		return fail(fmt.Errorf("initiate call: %w", err))
	}

	if err := a.mapping.CreateMapping(ctx, callID, taskID); err != nil {
		// The call is already ringing; losing the mapping means the webhook
		// cannot settle the task, so surface it as a failure.
		return fail(fmt.Errorf("record call mapping: %w", err))
	}

	a.logger.Info("Call initiated",
		zap.String("call_id", callID),
		zap.String("task_id", taskID),
		zap.String("purpose", details.purpose))

	return orchestration.ReplyTo(msg, a.ID(), orchestration.SupervisorID, orchestration.ResponsePayload{
		Status: "call_initiated",
		Data: map[string]interface{}{
			"call_id":      callID,
			"task_id":      taskID,
			"phone_number": details.phoneNumber,
			"assistant_id": a.calls.AssistantID(),
			"call_purpose": details.purpose,
			"recipient":    details.recipientName,
			"timestamp":    time.Now().Format(time.RFC3339),
		},
	})
}

func (a *VoiceAgent) handleNegotiation(msg orchestration.Message, state *orchestration.State) orchestration.Message {
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

// estimateSeconds: calls take minutes, not seconds.
func (a *VoiceAgent) estimateSeconds(request string) int {
	switch {
	case len(request) < 50:
		return 300
	case len(request) < 150:
		return 600
	default:
		return 1200
	}
}

// extractCallDetails pulls phone number, recipient, and purpose out of
// natural-language phrasing.
func extractCallDetails(request string) callDetails {
	details := callDetails{purpose: "General inquiry"}

	for _, re := range phonePatterns {
		if m := re.FindString(request); m != "" {
			details.phoneNumber = strings.TrimSpace(m)
			break
		}
	}
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(request); m != nil {
			details.recipientName = m[1]
			break
		}
	}

	lowered := strings.ToLower(request)
	switch {
	case strings.Contains(lowered, "appointment"):
		details.purpose = "Appointment scheduling"
	case strings.Contains(lowered, "booking") || strings.Contains(lowered, "reservation"):
		details.purpose = "Reservation booking"
	case strings.Contains(lowered, "customer service") || strings.Contains(lowered, "support"):
		details.purpose = "Customer service inquiry"
	case strings.Contains(lowered, "follow up"):
		details.purpose = "Follow-up call"
	}

	return details
}
