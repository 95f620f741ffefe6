package types

import "time"

// TaskStatus describes the lifecycle state of a task.
type TaskStatus int

const (
	// StatusPending means the task is enqueued but not yet picked up.
	StatusPending TaskStatus = iota
	// StatusRunning means a worker is currently executing the task.
	StatusRunning
	// StatusCompleted means the task finished and produced a payload.
	StatusCompleted
	// StatusFailed means the task errored, timed out, or was rejected.
	StatusFailed
)

// String returns the string representation of TaskStatus.
func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseTaskStatus converts a status string back to a TaskStatus. Unknown
// strings map to StatusFailed so a corrupt record never reads as success.
func ParseTaskStatus(s string) TaskStatus {
	switch s {
	case "pending":
		return StatusPending
	case "running":
		return StatusRunning
	case "completed":
		return StatusCompleted
	default:
		return StatusFailed
	}
}

// TaskResult is the outcome of one task execution. A result is terminal by
// the time it reaches the ResultStore and is never mutated afterwards.
type TaskResult struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Value     any        `json:"value,omitempty"`
	Err       error      `json:"-"`
	WorkerID  string     `json:"worker_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
}

// NewCompletedResult builds a successful result.
func NewCompletedResult(taskID, workerID string, value any, start, end time.Time) *TaskResult {
	return &TaskResult{
		TaskID:    taskID,
		Status:    StatusCompleted,
		Value:     value,
		WorkerID:  workerID,
		StartTime: start,
		EndTime:   end,
	}
}

// NewFailedResult builds a failed result carrying the cause.
func NewFailedResult(taskID, workerID string, cause error, start, end time.Time) *TaskResult {
	return &TaskResult{
		TaskID:    taskID,
		Status:    StatusFailed,
		Err:       cause,
		WorkerID:  workerID,
		StartTime: start,
		EndTime:   end,
	}
}

// ExecutionTime returns the wall-clock duration of the execution.
func (r *TaskResult) ExecutionTime() time.Duration {
	if r.EndTime.IsZero() || r.StartTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// ErrorMessage returns the failure cause as a string, or "" on success.
func (r *TaskResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
