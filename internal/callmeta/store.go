package callmeta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a call id has no task mapping.
var ErrNotFound = errors.New("callmeta: no mapping for call")

const (
	callKeyPrefix = "callmeta:call:"
	doneKeyPrefix = "callmeta:done:"
)

// Store maps voice-provider call ids back to the task that placed them, and
// keeps an idempotency marker for task completion driven by webhooks.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a store over an existing Redis client. ttl bounds how long a
// mapping outlives the call.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl, logger: logger}
}

// CreateMapping records callID → taskID.
func (s *Store) CreateMapping(ctx context.Context, callID, taskID string) error {
	if callID == "" || taskID == "" {
		return fmt.Errorf("callmeta: call id and task id are required")
	}
	if err := s.client.Set(ctx, callKeyPrefix+callID, taskID, s.ttl).Err(); err != nil {
		return fmt.Errorf("callmeta: save mapping: %w", err)
	}
	s.logger.Debug("Call mapping created",
		zap.String("call_id", callID), zap.String("task_id", taskID))
	return nil
}

// TaskIDForCall resolves the task that originated callID.
func (s *Store) TaskIDForCall(ctx context.Context, callID string) (string, error) {
	taskID, err := s.client.Get(ctx, callKeyPrefix+callID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("callmeta: load mapping: %w", err)
	}
	return taskID, nil
}

// MarkCompleted sets the completion marker for callID. It returns true only
// on the first call, so webhook redelivery completes a task exactly once.
func (s *Store) MarkCompleted(ctx context.Context, callID string) (bool, error) {
	first, err := s.client.SetNX(ctx, doneKeyPrefix+callID, time.Now().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("callmeta: mark completed: %w", err)
	}
	return first, nil
}

// ClearCompleted drops the completion marker so a redelivered webhook can
// retry after a failed item write.
func (s *Store) ClearCompleted(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, doneKeyPrefix+callID).Err(); err != nil {
		return fmt.Errorf("callmeta: clear completed: %w", err)
	}
	return nil
}

// DeleteMapping removes a call mapping once the call has been settled.
func (s *Store) DeleteMapping(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, callKeyPrefix+callID).Err(); err != nil {
		return fmt.Errorf("callmeta: delete mapping: %w", err)
	}
	return nil
}
