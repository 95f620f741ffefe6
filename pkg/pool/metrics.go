package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one pool instance. Collectors
// are bound to a caller-supplied registerer so multiple pools can coexist in
// one process under different registries.
type Metrics struct {
	TasksSubmitted prometheus.Counter
	TasksProcessed prometheus.Counter
	TasksFailed    prometheus.Counter
	ScaleEvents    prometheus.Counter
	WorkerCount    prometheus.Gauge
	HealthyWorkers prometheus.Gauge
	CombinedLoad   prometheus.Gauge
	QueueDepth     prometheus.Gauge
	ExecDuration   prometheus.Histogram
}

// NewMetrics creates and registers pool collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TasksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_submitted_total",
			Help: "Total number of tasks submitted to the pool.",
		}),
		TasksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_processed_total",
			Help: "Total number of tasks that completed successfully.",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_failed_total",
			Help: "Total number of tasks that failed, timed out, or were rejected.",
		}),
		ScaleEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_scale_events_total",
			Help: "Total number of fleet resize events.",
		}),
		WorkerCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskforge_workers",
			Help: "Current number of workers in the fleet.",
		}),
		HealthyWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskforge_healthy_workers",
			Help: "Current number of healthy workers.",
		}),
		CombinedLoad: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskforge_combined_load",
			Help: "Most recent combined load sample in [0,1].",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskforge_queue_depth",
			Help: "Most recent task queue depth.",
		}),
		ExecDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskforge_task_duration_seconds",
			Help:    "Task execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
