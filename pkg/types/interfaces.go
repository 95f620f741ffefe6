package types

import (
	"context"
	"time"
)

// TaskQueue is the queue contract the pool consumes. Implementations must be
// safe for concurrent use by multiple worker loops.
type TaskQueue interface {
	// Enqueue adds a task to the queue. Returns ErrQueueFull when the queue
	// cannot accept more tasks and ErrQueueClosed after Close.
	Enqueue(task *Task) error

	// Dequeue removes the next task, waiting up to wait for one to appear.
	// Returns (nil, nil) when the wait elapses with nothing available.
	Dequeue(ctx context.Context, wait time.Duration) (*Task, error)

	// Size returns the number of tasks currently queued.
	Size() int

	// MarkCompleted records that a dequeued task finished successfully.
	MarkCompleted(taskID string)

	// MarkFailed records that a dequeued task failed, with a reason.
	MarkFailed(taskID string, reason string)
}

// ResultStore is the keyed store for completed task results. Results are
// written exactly once per task and never mutated afterwards.
type ResultStore interface {
	// StoreResult persists a terminal result. Returns ErrDuplicateResult if a
	// result for the same task id already exists.
	StoreResult(ctx context.Context, result *TaskResult) error

	// GetResult returns the stored result, or ErrTaskNotFound.
	GetResult(ctx context.Context, taskID string) (*TaskResult, error)
}

// Pool is the caller-facing surface of a worker pool.
type Pool interface {
	// Start brings the pool to its minimum worker count and begins consuming.
	Start(ctx context.Context) error

	// Stop shuts down all loops and drains workers.
	Stop() error

	// Submit enqueues a task and returns its id without waiting for completion.
	Submit(task *Task) (string, error)

	// GetResult reads through to the result store.
	GetResult(ctx context.Context, taskID string) (*TaskResult, error)

	// ScaleWorkers converges the fleet to the clamped target size.
	ScaleWorkers(target int) error

	// Stats returns an aggregate snapshot for introspection.
	Stats() PoolStats
}
