package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*ItemStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewItemStore(sqlx.NewDb(mockDB, "sqlmock"), zap.NewNop()), mock
}

func itemColumns() []string {
	return []string{
		"id", "seq", "external_id", "title", "description", "state", "task_type",
		"confidence", "suitable", "done_output", "metadata", "created_at",
		"updated_at", "completed_at",
	}
}

func itemRow(id uuid.UUID, seq int64, state string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(itemColumns()).
		AddRow(id, seq, "todo-1", "Research Go", "", state, "", 0.0, false, nil, nil, now, now, nil)
}

func TestUpsertItemInsertsPending(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("INSERT INTO items").
		WithArgs(sqlmock.AnyArg(), "todo-1", "Research Go", "", ItemStatePending, nil, sqlmock.AnyArg()).
		WillReturnRows(itemRow(id, 1, ItemStatePending))

	item, err := store.UpsertItem(context.Background(), "todo-1", "Research Go", "", nil)
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, ItemStatePending, item.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetItemNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM items WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(itemColumns()))

	_, err := store.GetItem(context.Background(), id)
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStateCompletedWritesOutput(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	output := "Searched the web, 3 results"

	mock.ExpectExec("UPDATE items").
		WithArgs(id, ItemStateCompleted, &output, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SetState(context.Background(), id, ItemStateCompleted, &output)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStateUnknownItem(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE items").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetState(context.Background(), id, ItemStateProcessing, nil)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRecordAnalysis(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE items SET task_type").
		WithArgs(id, "research", 0.85, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RecordAnalysis(context.Background(), id, "research", 0.85, true)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLog(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("INSERT INTO item_logs").
		WithArgs(id, "info", "orchestration started", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.AppendLog(context.Background(), id, "info", "orchestration started", JSONB{"task_id": "t-1"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListItemsKeysetCursor(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(itemColumns())
	now := time.Now()
	rows.AddRow(uuid.New(), int64(10), "todo-10", "a", "", ItemStatePending, "", 0.0, false, nil, nil, now, now, nil)
	rows.AddRow(uuid.New(), int64(9), "todo-9", "b", "", ItemStatePending, "", 0.0, false, nil, nil, now, now, nil)

	mock.ExpectQuery("SELECT (.+) FROM items").
		WithArgs(ItemStatePending, int64(0), 2).
		WillReturnRows(rows)

	items, next, err := store.ListItems(context.Background(), ItemStatePending, 2, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// A full page points the cursor at the last row seen.
	assert.Equal(t, int64(9), next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListItemsLastPage(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM items").
		WithArgs("", int64(9), 2).
		WillReturnRows(itemRow(uuid.New(), 8, ItemStateCompleted))

	items, next, err := store.ListItems(context.Background(), "", 2, 9)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Zero(t, next)
}

func TestClaimPending(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	// The claim must skip items already analyzed as unsuitable, or a released
	// item would be reclaimed and re-orchestrated on every poll.
	mock.ExpectQuery(`UPDATE items SET state(?s).*task_type = '' OR suitable`).
		WithArgs(ItemStateProcessing, sqlmock.AnyArg(), ItemStatePending, 5).
		WillReturnRows(itemRow(id, 3, ItemStateProcessing))

	items, err := store.ClaimPending(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ItemStateProcessing, items[0].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}
