package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/callmeta"
	"github.com/tasklane/orchestrator/internal/db"
)

// voiceWebhook is the envelope the voice provider posts for call events.
type voiceWebhook struct {
	Message struct {
		Type string `json:"type"`
		Call struct {
			ID     string `json:"id"`
			Status string `json:"status,omitempty"`
		} `json:"call"`
		Summary string `json:"summary,omitempty"`
	} `json:"message"`
}

// handleVoiceWebhook settles items when their outbound call ends. The
// provider retries deliveries and sends both "hang" and an
// "end-of-call-report", so completion must be idempotent.
// POST /webhooks/voice
func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	var payload voiceWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	msgType := payload.Message.Type
	callID := payload.Message.Call.ID
	s.logger.Info("Received voice webhook",
		zap.String("type", msgType), zap.String("call_id", callID))

	if callID == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "no_call_id"})
		return
	}

	switch msgType {
	case "hang", "end-of-call-report":
		if err := s.settleCall(r, callID, payload.Message.Summary); err != nil {
			s.logger.Error("Failed to settle call",
				zap.String("call_id", callID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "webhook processing error")
			return
		}
	case "status-update":
		s.logger.Info("Call status update",
			zap.String("call_id", callID),
			zap.String("status", payload.Message.Call.Status))
	default:
		s.logger.Info("Unhandled voice webhook type", zap.String("type", msgType))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "processed", "message_type": msgType})
}

// settleCall completes the item behind a finished call exactly once.
func (s *Server) settleCall(r *http.Request, callID, summary string) error {
	ctx := r.Context()

	taskID, err := s.calls.TaskIDForCall(ctx, callID)
	if errors.Is(err, callmeta.ErrNotFound) {
		s.logger.Warn("No task found for completed call", zap.String("call_id", callID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve call mapping: %w", err)
	}

	first, err := s.calls.MarkCompleted(ctx, callID)
	if err != nil {
		return fmt.Errorf("mark call completed: %w", err)
	}
	if !first {
		// Duplicate delivery; the item is already settled.
		return nil
	}

	itemID, err := uuid.Parse(taskID)
	if err != nil {
		return fmt.Errorf("call %s maps to invalid task id %q: %w", callID, taskID, err)
	}

	output := "**Call Completed.**"
	if summary != "" {
		output = fmt.Sprintf("**Call Completed:**\n%s", summary)
	}
	if err := s.items.SetState(ctx, itemID, db.ItemStateCompleted, &output); err != nil {
		// Release the marker so the provider's redelivery can retry the write.
		if clearErr := s.calls.ClearCompleted(ctx, callID); clearErr != nil {
			s.logger.Error("Failed to clear completion marker",
				zap.String("call_id", callID), zap.Error(clearErr))
		}
		return fmt.Errorf("complete item: %w", err)
	}
	if err := s.items.AppendLog(ctx, itemID, "info", "call completed", db.JSONB{"call_id": callID}); err != nil {
		s.logger.Warn("Failed to append item log",
			zap.String("item_id", itemID.String()), zap.Error(err))
	}

	s.logger.Info("Item completed after call ended",
		zap.String("item_id", itemID.String()), zap.String("call_id", callID))
	return nil
}
