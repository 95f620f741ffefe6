// Package types defines the core value types and interfaces shared across
// the taskforge engine: tasks, results, queue and store contracts, and the
// clock abstraction used for deterministic timing in tests.
package types

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// TaskFunc is the unit of work a Task carries. It must honor ctx cancellation
// if it wants to be interruptible on timeout or shutdown; the engine stops
// waiting for it either way.
type TaskFunc func(ctx context.Context) (any, error)

// Task describes a single unit of work. A Task is immutable once created;
// arguments are captured by the function closure.
type Task struct {
	id          string
	fn          TaskFunc
	timeout     time.Duration
	submittedAt time.Time
}

// NewTask creates a task with a generated ULID identifier and no timeout
// override (the pool default applies).
func NewTask(fn TaskFunc) *Task {
	return NewTaskWithID(ulid.Make().String(), fn)
}

// NewTaskWithID creates a task with a caller-supplied identifier.
func NewTaskWithID(id string, fn TaskFunc) *Task {
	return &Task{
		id:          id,
		fn:          fn,
		submittedAt: time.Now(),
	}
}

// NewTaskWithTimeout creates a task whose timeout overrides the pool default.
func NewTaskWithTimeout(fn TaskFunc, timeout time.Duration) *Task {
	t := NewTask(fn)
	t.timeout = timeout
	return t
}

// ID returns the task identifier.
func (t *Task) ID() string {
	return t.id
}

// Timeout returns the per-task timeout override, or zero when the pool
// default should be used.
func (t *Task) Timeout() time.Duration {
	return t.timeout
}

// SubmittedAt returns the task creation time.
func (t *Task) SubmittedAt() time.Time {
	return t.submittedAt
}

// Execute runs the task function.
func (t *Task) Execute(ctx context.Context) (any, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("task %s has no execution function: %w", t.id, ErrInvalidTask)
	}
	return t.fn(ctx)
}
