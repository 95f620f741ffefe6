package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/taskforge/pkg/types"
)

func TestMemoryStore_StoreAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	start := time.Now()
	result := types.NewCompletedResult("t1", "w1", 42, start, start.Add(time.Millisecond))
	require.NoError(t, s.StoreResult(ctx, result))

	got, err := s.GetResult(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 42, got.Value)
	assert.Equal(t, "w1", got.WorkerID)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrTaskNotFound)
}

func TestMemoryStore_DuplicateRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	first := types.NewCompletedResult("t1", "w1", "first", now, now)
	second := types.NewFailedResult("t1", "w2", errors.New("boom"), now, now)

	require.NoError(t, s.StoreResult(ctx, first))
	assert.ErrorIs(t, s.StoreResult(ctx, second), types.ErrDuplicateResult)

	got, err := s.GetResult(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Value)
}

func TestMemoryStore_InvalidResult(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	assert.ErrorIs(t, s.StoreResult(ctx, nil), types.ErrInvalidTask)
	assert.ErrorIs(t, s.StoreResult(ctx, &types.TaskResult{}), types.ErrInvalidTask)
}
