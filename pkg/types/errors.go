package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrPoolNotStarted indicates the pool has not been started.
	ErrPoolNotStarted = errors.New("worker pool is not started")

	// ErrPoolClosed indicates the pool is closed and cannot be reused.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrQueueFull indicates the task queue rejected an enqueue.
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueClosed indicates the task queue is closed.
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrTaskTimeout indicates a task exceeded its execution timeout.
	ErrTaskTimeout = errors.New("task execution timeout")

	// ErrWorkerAtCapacity indicates a worker has no free execution slots.
	ErrWorkerAtCapacity = errors.New("worker is at capacity")

	// ErrWorkerStopped indicates a worker that is not running was asked to execute.
	ErrWorkerStopped = errors.New("worker is not running")

	// ErrTaskNotFound indicates the result store has no result for a task id.
	ErrTaskNotFound = errors.New("task result not found")

	// ErrDuplicateResult indicates a second store attempt for the same task id.
	ErrDuplicateResult = errors.New("task result already stored")

	// ErrInvalidTask indicates a malformed task (e.g. missing function).
	ErrInvalidTask = errors.New("invalid task")
)

// TaskError wraps a task-level failure with the operation that produced it
// and optional context such as panic stack traces.
type TaskError struct {
	// Op is the name of the operation where the error occurred.
	Op string

	// TaskID identifies the task that failed.
	TaskID string

	// Cause is the underlying error.
	Cause error

	// Context contains additional diagnostic information.
	Context map[string]any
}

// NewTaskError creates a new TaskError.
func NewTaskError(op, taskID string, cause error) *TaskError {
	return &TaskError{
		Op:      op,
		TaskID:  taskID,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed in %s: %v", e.TaskID, e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target error.
func (e *TaskError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// WithContext adds a context entry and returns the error for chaining.
func (e *TaskError) WithContext(key string, value any) *TaskError {
	e.Context[key] = value
	return e
}
