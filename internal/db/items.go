package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/metrics"
)

// ErrItemNotFound is returned when an item id resolves to nothing.
var ErrItemNotFound = errors.New("item not found")

// ItemStore persists items and their audit logs.
type ItemStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewItemStore creates a store over an open pool.
func NewItemStore(db *sqlx.DB, logger *zap.Logger) *ItemStore {
	return &ItemStore{db: db, logger: logger}
}

// UpsertItem inserts a pending item or refreshes the title and description
// of an existing one, keyed by the source system's external id.
func (s *ItemStore) UpsertItem(ctx context.Context, externalID, title, description string, metadata JSONB) (*Item, error) {
	query := `
		INSERT INTO items (id, external_id, title, description, state, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (external_id) DO UPDATE
		SET title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, seq, external_id, title, description, state, task_type, confidence, suitable,
		          done_output, metadata, created_at, updated_at, completed_at`

	var item Item
	err := s.db.GetContext(ctx, &item, query,
		uuid.New(), externalID, title, description, ItemStatePending, metadata, time.Now())
	if err != nil {
		return nil, fmt.Errorf("upsert item: %w", err)
	}
	return &item, nil
}

// GetItem fetches one item by id.
func (s *ItemStore) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	query := `
		SELECT id, seq, external_id, title, description, state, task_type, confidence, suitable,
		       done_output, metadata, created_at, updated_at, completed_at
		FROM items WHERE id = $1`

	var item Item
	err := s.db.GetContext(ctx, &item, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

// RecordAnalysis snapshots the latest classification onto the item.
func (s *ItemStore) RecordAnalysis(ctx context.Context, id uuid.UUID, taskType string, confidence float64, suitable bool) error {
	query := `
		UPDATE items SET task_type = $2, confidence = $3, suitable = $4, updated_at = $5
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, taskType, confidence, suitable, time.Now())
	if err != nil {
		return fmt.Errorf("record analysis: %w", err)
	}
	return requireRow(res)
}

// SetState moves an item to a new lifecycle state. A non-nil doneOutput is
// written alongside; completed items get a completion timestamp.
func (s *ItemStore) SetState(ctx context.Context, id uuid.UUID, state string, doneOutput *string) error {
	now := time.Now()
	var completedAt *time.Time
	if state == ItemStateCompleted {
		completedAt = &now
	}

	query := `
		UPDATE items
		SET state = $2,
		    done_output = COALESCE($3, done_output),
		    completed_at = COALESCE($4, completed_at),
		    updated_at = $5
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, state, doneOutput, completedAt, now)
	if err != nil {
		return fmt.Errorf("set item state: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	metrics.ItemStateTransitions.WithLabelValues(state).Inc()
	s.logger.Debug("Item state changed",
		zap.String("item_id", id.String()),
		zap.String("state", state))
	return nil
}

// AppendLog adds one audit-trail entry for an item.
func (s *ItemStore) AppendLog(ctx context.Context, itemID uuid.UUID, level, message string, metadata JSONB) error {
	query := `
		INSERT INTO item_logs (item_id, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.ExecContext(ctx, query, itemID, level, message, metadata, time.Now()); err != nil {
		return fmt.Errorf("append item log: %w", err)
	}
	return nil
}

// ListLogs returns an item's audit trail, newest first.
func (s *ItemStore) ListLogs(ctx context.Context, itemID uuid.UUID, limit int) ([]ItemLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, item_id, level, message, metadata, created_at
		FROM item_logs WHERE item_id = $1
		ORDER BY id DESC LIMIT $2`

	var logs []ItemLog
	if err := s.db.SelectContext(ctx, &logs, query, itemID, limit); err != nil {
		return nil, fmt.Errorf("list item logs: %w", err)
	}
	return logs, nil
}

// ListItems pages through items newest first using a keyset cursor over the
// sequence column. A zero cursor starts from the top; the returned cursor is
// zero once the listing is exhausted. An empty state lists all states.
func (s *ItemStore) ListItems(ctx context.Context, state string, limit int, cursor int64) ([]Item, int64, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, seq, external_id, title, description, state, task_type, confidence, suitable,
		       done_output, metadata, created_at, updated_at, completed_at
		FROM items
		WHERE ($1 = '' OR state = $1) AND ($2 = 0 OR seq < $2)
		ORDER BY seq DESC LIMIT $3`

	var items []Item
	if err := s.db.SelectContext(ctx, &items, query, state, cursor, limit); err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}

	var next int64
	if len(items) == limit {
		next = items[len(items)-1].Seq
	}
	return items, next, nil
}

// ClaimPending flips up to limit pending items to processing and returns
// them, so concurrent runners never pick up the same item twice. Items whose
// recorded analysis marked them unsuitable stay pending for a human; they are
// only claimable again after a fresh analysis flips suitable.
func (s *ItemStore) ClaimPending(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		UPDATE items SET state = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM items WHERE state = $3 AND (task_type = '' OR suitable)
			ORDER BY seq ASC LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, seq, external_id, title, description, state, task_type, confidence, suitable,
		          done_output, metadata, created_at, updated_at, completed_at`

	var items []Item
	err := s.db.SelectContext(ctx, &items, query, ItemStateProcessing, time.Now(), ItemStatePending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending items: %w", err)
	}
	if len(items) > 0 {
		metrics.ItemStateTransitions.WithLabelValues(ItemStateProcessing).Add(float64(len(items)))
	}
	return items, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}
