// Package queue provides the in-memory TaskQueue implementation used by the
// pool when the embedding application does not supply its own.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/taskforge/pkg/types"
)

// maxFailureReasons caps the retained failure reasons so a long-running
// queue does not grow without bound; the oldest entries are evicted first.
const maxFailureReasons = 1024

// MemoryQueue is a bounded FIFO queue backed by a buffered channel. It is
// safe for concurrent producers and consumers.
type MemoryQueue struct {
	tasks    chan *types.Task
	clock    types.Clock
	done     chan struct{}
	closeOne sync.Once

	completed int64
	failed    int64

	mu           sync.Mutex
	failures     map[string]string
	failureOrder []string
}

// NewMemoryQueue creates a queue with the given capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return NewMemoryQueueWithClock(capacity, types.NewRealClock())
}

// NewMemoryQueueWithClock creates a queue with a custom clock for testing.
func NewMemoryQueueWithClock(capacity int, clock types.Clock) *MemoryQueue {
	if capacity <= 0 {
		capacity = 100
	}
	if clock == nil {
		clock = types.NewRealClock()
	}
	return &MemoryQueue{
		tasks:    make(chan *types.Task, capacity),
		clock:    clock,
		done:     make(chan struct{}),
		failures: make(map[string]string),
	}
}

// Enqueue adds a task without blocking. Returns ErrQueueFull when the buffer
// is exhausted and ErrQueueClosed after Close.
func (q *MemoryQueue) Enqueue(task *types.Task) error {
	if task == nil {
		return types.ErrInvalidTask
	}

	select {
	case <-q.done:
		return types.ErrQueueClosed
	default:
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		return types.ErrQueueFull
	}
}

// Dequeue returns the next task, waiting up to wait. Returns (nil, nil) when
// nothing arrives within the wait window. Tasks queued before Close can still
// be drained afterwards.
func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*types.Task, error) {
	select {
	case task := <-q.tasks:
		return task, nil
	default:
	}

	select {
	case <-q.done:
		return nil, types.ErrQueueClosed
	default:
	}

	if wait <= 0 {
		return nil, nil
	}

	timer := q.clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case task := <-q.tasks:
		return task, nil
	case <-timer.C():
		return nil, nil
	case <-q.done:
		return nil, types.ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the number of queued tasks.
func (q *MemoryQueue) Size() int {
	return len(q.tasks)
}

// MarkCompleted records a successful completion.
func (q *MemoryQueue) MarkCompleted(taskID string) {
	atomic.AddInt64(&q.completed, 1)
	q.mu.Lock()
	delete(q.failures, taskID)
	q.mu.Unlock()
}

// MarkFailed records a failed completion with its reason. Only the most
// recent maxFailureReasons reasons are retained.
func (q *MemoryQueue) MarkFailed(taskID string, reason string) {
	atomic.AddInt64(&q.failed, 1)
	q.mu.Lock()
	if _, exists := q.failures[taskID]; !exists {
		q.failureOrder = append(q.failureOrder, taskID)
	}
	q.failures[taskID] = reason
	for len(q.failureOrder) > maxFailureReasons {
		oldest := q.failureOrder[0]
		q.failureOrder = q.failureOrder[1:]
		delete(q.failures, oldest)
	}
	q.mu.Unlock()
}

// CompletedCount returns the number of tasks marked completed.
func (q *MemoryQueue) CompletedCount() int64 {
	return atomic.LoadInt64(&q.completed)
}

// FailedCount returns the number of tasks marked failed.
func (q *MemoryQueue) FailedCount() int64 {
	return atomic.LoadInt64(&q.failed)
}

// FailureReason returns the recorded failure reason for a task, if any.
func (q *MemoryQueue) FailureReason(taskID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	reason, ok := q.failures[taskID]
	return reason, ok
}

// Close marks the queue closed. Enqueue fails afterwards; already-queued
// tasks remain drainable.
func (q *MemoryQueue) Close() {
	q.closeOne.Do(func() {
		close(q.done)
	})
}

var _ types.TaskQueue = (*MemoryQueue)(nil)
