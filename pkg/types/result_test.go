package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatus_String(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", TaskStatus(99).String())
}

func TestTaskStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestParseTaskStatus(t *testing.T) {
	tests := []struct {
		in   string
		want TaskStatus
	}{
		{"pending", StatusPending},
		{"running", StatusRunning},
		{"completed", StatusCompleted},
		{"failed", StatusFailed},
		{"garbage", StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTaskStatus(tt.in))
		})
	}
}

func TestNewCompletedResult(t *testing.T) {
	start := time.Now()
	end := start.Add(100 * time.Millisecond)

	result := NewCompletedResult("t1", "w1", "value", start, end)

	assert.Equal(t, "t1", result.TaskID)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "value", result.Value)
	assert.NoError(t, result.Err)
	assert.Equal(t, "w1", result.WorkerID)
	assert.Equal(t, 100*time.Millisecond, result.ExecutionTime())
	assert.Empty(t, result.ErrorMessage())
}

func TestNewFailedResult(t *testing.T) {
	start := time.Now()
	cause := errors.New("boom")

	result := NewFailedResult("t1", "w1", cause, start, start.Add(time.Millisecond))

	assert.Equal(t, StatusFailed, result.Status)
	assert.ErrorIs(t, result.Err, cause)
	assert.Equal(t, "boom", result.ErrorMessage())
}

func TestTaskResult_ExecutionTimeZeroTimes(t *testing.T) {
	result := &TaskResult{TaskID: "t1"}
	assert.Zero(t, result.ExecutionTime())
}
