package callmeta

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Hour, zap.NewNop())
}

func TestMappingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMapping(ctx, "call-1", "task-1"))

	taskID, err := s.TaskIDForCall(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", taskID)
}

func TestMappingNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.TaskIDForCall(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMappingRequiresIDs(t *testing.T) {
	s := newTestStore(t)

	assert.Error(t, s.CreateMapping(context.Background(), "", "task-1"))
	assert.Error(t, s.CreateMapping(context.Background(), "call-1", ""))
}

func TestMarkCompletedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.MarkCompleted(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, first)

	// Webhook redelivery must not complete the task twice.
	again, err := s.MarkCompleted(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestClearCompletedAllowsRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.MarkCompleted(ctx, "call-1")
	require.NoError(t, err)
	require.True(t, first)

	// Clearing the marker reopens the gate after a failed item write.
	require.NoError(t, s.ClearCompleted(ctx, "call-1"))

	retry, err := s.MarkCompleted(ctx, "call-1")
	require.NoError(t, err)
	assert.True(t, retry)
}

func TestDeleteMapping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMapping(ctx, "call-1", "task-1"))
	require.NoError(t, s.DeleteMapping(ctx, "call-1"))

	_, err := s.TaskIDForCall(ctx, "call-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
