package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/analysis"
	"github.com/tasklane/orchestrator/internal/db"
)

// itemStore is the slice of the items store the API needs.
type itemStore interface {
	UpsertItem(ctx context.Context, externalID, title, description string, metadata db.JSONB) (*db.Item, error)
	GetItem(ctx context.Context, id uuid.UUID) (*db.Item, error)
	RecordAnalysis(ctx context.Context, id uuid.UUID, taskType string, confidence float64, suitable bool) error
	SetState(ctx context.Context, id uuid.UUID, state string, doneOutput *string) error
	AppendLog(ctx context.Context, itemID uuid.UUID, level, message string, metadata db.JSONB) error
	ListLogs(ctx context.Context, itemID uuid.UUID, limit int) ([]db.ItemLog, error)
	ListItems(ctx context.Context, state string, limit int, cursor int64) ([]db.Item, int64, error)
}

// dispatcher hands claimed items to the background worker pool.
type dispatcher interface {
	Enqueue(item db.Item) error
	ProcessBatch(ctx context.Context) (int, error)
}

// callRegistry resolves provider call ids back to the items they serve.
type callRegistry interface {
	TaskIDForCall(ctx context.Context, callID string) (string, error)
	MarkCompleted(ctx context.Context, callID string) (bool, error)
	ClearCompleted(ctx context.Context, callID string) error
}

// classifier is the analysis surface exposed over HTTP.
type classifier interface {
	ClassifyItem(title, description string) analysis.Verdict
}

// Server is the orchestrator's HTTP trigger surface.
type Server struct {
	analyzer classifier
	items    itemStore
	runner   dispatcher
	calls    callRegistry
	logger   *zap.Logger
}

// NewServer wires the API handlers.
func NewServer(analyzer classifier, items itemStore, runner dispatcher, calls callRegistry, logger *zap.Logger) *Server {
	return &Server{
		analyzer: analyzer,
		items:    items,
		runner:   runner,
		calls:    calls,
		logger:   logger,
	}
}

// RegisterRoutes registers API routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orchestrator/items", s.handleCreateItem)
	mux.HandleFunc("GET /orchestrator/items", s.handleListItems)
	mux.HandleFunc("GET /orchestrator/items/{id}/status", s.handleItemStatus)
	mux.HandleFunc("POST /orchestrator/analyze/{id}", s.handleAnalyze)
	mux.HandleFunc("POST /orchestrator/batch-analyze", s.handleBatchAnalyze)
	mux.HandleFunc("POST /webhooks/voice", s.handleVoiceWebhook)
}

type createItemRequest struct {
	ExternalID  string                 `json:"external_id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// handleCreateItem registers or refreshes a tracked item.
// POST /orchestrator/items
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExternalID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "external_id and title are required")
		return
	}

	item, err := s.items.UpsertItem(r.Context(), req.ExternalID, req.Title, req.Description, req.Metadata)
	if err != nil {
		s.logger.Error("Item upsert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store item")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleListItems pages through items.
// GET /orchestrator/items?state=pending&limit=20&cursor=0
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	cursor, _ := strconv.ParseInt(q.Get("cursor"), 10, 64)

	items, next, err := s.items.ListItems(r.Context(), q.Get("state"), limit, cursor)
	if err != nil {
		s.logger.Error("Item listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":       items,
		"next_cursor": next,
	})
}

// handleItemStatus returns one item and its recent audit trail.
// GET /orchestrator/items/{id}/status
func (s *Server) handleItemStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := s.items.GetItem(r.Context(), id)
	if errors.Is(err, db.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		s.logger.Error("Item lookup failed", zap.String("item_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}

	logs, err := s.items.ListLogs(r.Context(), id, 20)
	if err != nil {
		s.logger.Warn("Item log lookup failed", zap.String("item_id", id.String()), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item": item,
		"logs": logs,
	})
}

// handleAnalyze classifies one item and, when it is automatable, hands it
// to the background runner.
// POST /orchestrator/analyze/{id}
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := s.items.GetItem(r.Context(), id)
	if errors.Is(err, db.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		s.logger.Error("Item lookup failed", zap.String("item_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}

	verdict := s.analyzer.ClassifyItem(item.Title, item.Description)
	if err := s.items.RecordAnalysis(r.Context(), id, verdict.TaskType, verdict.Confidence, verdict.Suitable); err != nil {
		s.logger.Warn("Failed to record analysis", zap.String("item_id", id.String()), zap.Error(err))
	}

	triggered := false
	if verdict.Suitable && item.State == db.ItemStatePending {
		if err := s.items.SetState(r.Context(), id, db.ItemStateProcessing, nil); err != nil {
			s.logger.Error("Failed to claim item", zap.String("item_id", id.String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to claim item")
			return
		}
		if err := s.runner.Enqueue(*item); err != nil {
			// Give the item back rather than leave it stuck in processing.
			if relErr := s.items.SetState(r.Context(), id, db.ItemStatePending, nil); relErr != nil {
				s.logger.Error("Failed to release item", zap.String("item_id", id.String()), zap.Error(relErr))
			}
			writeError(w, http.StatusServiceUnavailable, "orchestration queue is full")
			return
		}
		triggered = true
	}

	s.logger.Info("Item analyzed",
		zap.String("item_id", id.String()),
		zap.String("task_type", verdict.TaskType),
		zap.Float64("confidence", verdict.Confidence),
		zap.Bool("triggered", triggered))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item_id":   id,
		"analysis":  verdict,
		"triggered": triggered,
	})
}

// handleBatchAnalyze claims a batch of pending items for orchestration.
// POST /orchestrator/batch-analyze
func (s *Server) handleBatchAnalyze(w http.ResponseWriter, r *http.Request) {
	enqueued, err := s.runner.ProcessBatch(r.Context())
	if err != nil {
		s.logger.Error("Batch analyze failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to claim pending items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enqueued": enqueued})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
