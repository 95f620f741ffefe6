package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskError(t *testing.T) {
	cause := errors.New("boom")
	err := NewTaskError("execute", "t1", cause)

	assert.Contains(t, err.Error(), "t1")
	assert.Contains(t, err.Error(), "execute")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestTaskError_WithContext(t *testing.T) {
	err := NewTaskError("execute", "t1", errors.New("boom")).
		WithContext("stack_trace", "goroutine 1 ...").
		WithContext("worker_id", "w1")

	assert.Equal(t, "goroutine 1 ...", err.Context["stack_trace"])
	assert.Equal(t, "w1", err.Context["worker_id"])
}

func TestTaskError_IsThroughWrapping(t *testing.T) {
	inner := fmt.Errorf("wrapped: %w", ErrTaskTimeout)
	err := NewTaskError("execute", "t1", inner)

	assert.ErrorIs(t, err, ErrTaskTimeout)
}
