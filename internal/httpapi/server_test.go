package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/analysis"
	"github.com/tasklane/orchestrator/internal/callmeta"
	"github.com/tasklane/orchestrator/internal/db"
)

type fakeItems struct {
	items         map[uuid.UUID]*db.Item
	states        map[uuid.UUID]string
	logs          []string
	setStateFails int
}

func newFakeItems(items ...*db.Item) *fakeItems {
	f := &fakeItems{items: map[uuid.UUID]*db.Item{}, states: map[uuid.UUID]string{}}
	for _, item := range items {
		f.items[item.ID] = item
		f.states[item.ID] = item.State
	}
	return f
}

func (f *fakeItems) UpsertItem(ctx context.Context, externalID, title, description string, metadata db.JSONB) (*db.Item, error) {
	item := &db.Item{ID: uuid.New(), ExternalID: externalID, Title: title, Description: description, State: db.ItemStatePending}
	f.items[item.ID] = item
	f.states[item.ID] = item.State
	return item, nil
}

func (f *fakeItems) GetItem(ctx context.Context, id uuid.UUID) (*db.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, db.ErrItemNotFound
	}
	return item, nil
}

func (f *fakeItems) RecordAnalysis(ctx context.Context, id uuid.UUID, taskType string, confidence float64, suitable bool) error {
	return nil
}

func (f *fakeItems) SetState(ctx context.Context, id uuid.UUID, state string, doneOutput *string) error {
	if f.setStateFails > 0 {
		f.setStateFails--
		return assert.AnError
	}
	if _, ok := f.items[id]; !ok {
		return db.ErrItemNotFound
	}
	f.states[id] = state
	if doneOutput != nil {
		f.items[id].DoneOutput = doneOutput
	}
	return nil
}

func (f *fakeItems) AppendLog(ctx context.Context, itemID uuid.UUID, level, message string, metadata db.JSONB) error {
	f.logs = append(f.logs, message)
	return nil
}

func (f *fakeItems) ListLogs(ctx context.Context, itemID uuid.UUID, limit int) ([]db.ItemLog, error) {
	return []db.ItemLog{{ItemID: itemID, Level: "info", Message: "orchestration started"}}, nil
}

func (f *fakeItems) ListItems(ctx context.Context, state string, limit int, cursor int64) ([]db.Item, int64, error) {
	var out []db.Item
	for _, item := range f.items {
		if state == "" || f.states[item.ID] == state {
			out = append(out, *item)
		}
	}
	return out, 0, nil
}

type fakeRunner struct {
	enqueued []db.Item
	full     bool
	batch    int
}

func (f *fakeRunner) Enqueue(item db.Item) error {
	if f.full {
		return fmt.Errorf("runner queue full")
	}
	f.enqueued = append(f.enqueued, item)
	return nil
}

func (f *fakeRunner) ProcessBatch(ctx context.Context) (int, error) { return f.batch, nil }

type fakeCalls struct {
	taskByCall map[string]string
	completed  map[string]bool
}

func (f *fakeCalls) TaskIDForCall(ctx context.Context, callID string) (string, error) {
	taskID, ok := f.taskByCall[callID]
	if !ok {
		return "", callmeta.ErrNotFound
	}
	return taskID, nil
}

func (f *fakeCalls) MarkCompleted(ctx context.Context, callID string) (bool, error) {
	if f.completed == nil {
		f.completed = map[string]bool{}
	}
	if f.completed[callID] {
		return false, nil
	}
	f.completed[callID] = true
	return true, nil
}

func (f *fakeCalls) ClearCompleted(ctx context.Context, callID string) error {
	delete(f.completed, callID)
	return nil
}

func newTestServer(t *testing.T, items *fakeItems, run *fakeRunner, calls *fakeCalls) *http.ServeMux {
	t.Helper()
	analyzer, err := analysis.NewAnalyzer(nil, zap.NewNop())
	require.NoError(t, err)
	if run == nil {
		run = &fakeRunner{}
	}
	if calls == nil {
		calls = &fakeCalls{}
	}
	mux := http.NewServeMux()
	NewServer(analyzer, items, run, calls, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestCreateItem(t *testing.T) {
	items := newFakeItems()
	mux := newTestServer(t, items, nil, nil)

	body, _ := json.Marshal(createItemRequest{ExternalID: "todo-1", Title: "Research the history of Go"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orchestrator/items", bytes.NewReader(body)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, items.items, 1)
}

func TestCreateItemValidation(t *testing.T) {
	mux := newTestServer(t, newFakeItems(), nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orchestrator/items", strings.NewReader(`{"title":"no external id"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeTriggersOrchestration(t *testing.T) {
	item := &db.Item{ID: uuid.New(), Title: "Research the history of Go", State: db.ItemStatePending}
	items := newFakeItems(item)
	run := &fakeRunner{}
	mux := newTestServer(t, items, run, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orchestrator/analyze/"+item.ID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Analysis  analysis.Verdict `json:"analysis"`
		Triggered bool             `json:"triggered"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Analysis.Suitable)
	assert.Equal(t, "research", resp.Analysis.TaskType)
	assert.True(t, resp.Triggered)

	require.Len(t, run.enqueued, 1)
	assert.Equal(t, db.ItemStateProcessing, items.states[item.ID])
}

func TestAnalyzeRejectedItemIsNotTriggered(t *testing.T) {
	item := &db.Item{ID: uuid.New(), Title: "Call mom about dinner plans", State: db.ItemStatePending}
	items := newFakeItems(item)
	run := &fakeRunner{}
	mux := newTestServer(t, items, run, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orchestrator/analyze/"+item.ID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"triggered":false`)
	assert.Empty(t, run.enqueued)
	assert.Equal(t, db.ItemStatePending, items.states[item.ID])
}

func TestAnalyzeQueueFullReleasesItem(t *testing.T) {
	item := &db.Item{ID: uuid.New(), Title: "Research the history of Go", State: db.ItemStatePending}
	items := newFakeItems(item)
	mux := newTestServer(t, items, &fakeRunner{full: true}, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orchestrator/analyze/"+item.ID.String(), nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, db.ItemStatePending, items.states[item.ID])
}

func TestAnalyzeUnknownItem(t *testing.T) {
	mux := newTestServer(t, newFakeItems(), nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orchestrator/analyze/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orchestrator/analyze/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchAnalyze(t *testing.T) {
	mux := newTestServer(t, newFakeItems(), &fakeRunner{batch: 3}, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orchestrator/batch-analyze", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enqueued":3`)
}

func TestItemStatus(t *testing.T) {
	item := &db.Item{ID: uuid.New(), Title: "Research the history of Go", State: db.ItemStateProcessing}
	mux := newTestServer(t, newFakeItems(item), nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orchestrator/items/"+item.ID.String()+"/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orchestration started")
}

func TestVoiceWebhookCompletesItem(t *testing.T) {
	item := &db.Item{ID: uuid.New(), Title: "Call the restaurant at 555-123-4567", State: db.ItemStateProcessing}
	items := newFakeItems(item)
	calls := &fakeCalls{taskByCall: map[string]string{"call-42": item.ID.String()}}
	mux := newTestServer(t, items, nil, calls)

	payload := `{"message":{"type":"end-of-call-report","call":{"id":"call-42"},"summary":"Table booked for 4 at 7pm"}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(payload)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, db.ItemStateCompleted, items.states[item.ID])
	require.NotNil(t, items.items[item.ID].DoneOutput)
	assert.Contains(t, *items.items[item.ID].DoneOutput, "Table booked for 4 at 7pm")
}

func TestVoiceWebhookIsIdempotent(t *testing.T) {
	item := &db.Item{ID: uuid.New(), Title: "Call support", State: db.ItemStateProcessing}
	items := newFakeItems(item)
	calls := &fakeCalls{taskByCall: map[string]string{"call-42": item.ID.String()}}
	mux := newTestServer(t, items, nil, calls)

	payload := `{"message":{"type":"hang","call":{"id":"call-42"}}}`
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(payload)))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	// One completion log despite two deliveries.
	count := 0
	for _, msg := range items.logs {
		if msg == "call completed" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestVoiceWebhookRetriesAfterFailedWrite(t *testing.T) {
	item := &db.Item{ID: uuid.New(), Title: "Call support", State: db.ItemStateProcessing}
	items := newFakeItems(item)
	items.setStateFails = 1
	calls := &fakeCalls{taskByCall: map[string]string{"call-42": item.ID.String()}}
	mux := newTestServer(t, items, nil, calls)

	payload := `{"message":{"type":"end-of-call-report","call":{"id":"call-42"},"summary":"Done"}}`

	// First delivery hits a transient store failure; the completion marker
	// must be released so redelivery is not swallowed as a duplicate.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(payload)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEqual(t, db.ItemStateCompleted, items.states[item.ID])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(payload)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, db.ItemStateCompleted, items.states[item.ID])
}

func TestVoiceWebhookIgnoresUnknownCall(t *testing.T) {
	mux := newTestServer(t, newFakeItems(), nil, &fakeCalls{})

	payload := `{"message":{"type":"hang","call":{"id":"call-unknown"}}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(payload)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVoiceWebhookNoCallID(t *testing.T) {
	mux := newTestServer(t, newFakeItems(), nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(`{"message":{"type":"transcript"}}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}
