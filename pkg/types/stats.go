package types

import "time"

// WorkerStats is a point-in-time snapshot of one worker.
type WorkerStats struct {
	ID                 string        `json:"id"`
	Running            bool          `json:"running"`
	Healthy            bool          `json:"healthy"`
	Uptime             time.Duration `json:"uptime"`
	ActiveTasks        int           `json:"active_tasks"`
	MaxConcurrentTasks int           `json:"max_concurrent_tasks"`
	CompletedTasks     int64         `json:"completed_tasks"`
	FailedTasks        int64         `json:"failed_tasks"`
	SuccessRate        float64       `json:"success_rate"`
	AvgExecutionTime   time.Duration `json:"avg_execution_time"`
	CurrentLoad        float64       `json:"current_load"`
	CPUFraction        float64       `json:"cpu_fraction"`
	MemoryRSSBytes     uint64        `json:"memory_rss_bytes"`
	LastHeartbeat      time.Time     `json:"last_heartbeat"`
}

// LoadSample is one entry in the pool's rolling load history.
type LoadSample struct {
	Timestamp    time.Time `json:"timestamp"`
	WorkerLoad   float64   `json:"worker_load"`
	QueueDepth   int       `json:"queue_depth"`
	CombinedLoad float64   `json:"combined_load"`
	WorkerCount  int       `json:"worker_count"`
	HealthyCount int       `json:"healthy_count"`
}

// PoolStats is an aggregate snapshot of the pool for dashboards and the
// monitoring API.
type PoolStats struct {
	Running        bool          `json:"running"`
	Uptime         time.Duration `json:"uptime"`
	WorkerCount    int           `json:"worker_count"`
	HealthyWorkers int           `json:"healthy_workers"`
	MinWorkers     int           `json:"min_workers"`
	MaxWorkers     int           `json:"max_workers"`
	CurrentLoad    float64       `json:"current_load"`
	QueueDepth     int           `json:"queue_depth"`
	TasksProcessed int64         `json:"tasks_processed"`
	TasksFailed    int64         `json:"tasks_failed"`
	ScaleEvents    int64         `json:"scale_events"`
	LastScaleEvent time.Time     `json:"last_scale_event"`
	Workers        []WorkerStats `json:"workers"`
	RecentLoad     []LoadSample  `json:"recent_load"`
}
