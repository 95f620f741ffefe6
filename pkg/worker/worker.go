package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/taskforge/pkg/sysmon"
	"github.com/jzx17/taskforge/pkg/types"
)

// Worker lifecycle states.
const (
	stateCreated int32 = iota
	stateRunning
	stateStopped
)

// forcedCancelGrace is how long Stop waits for forcibly cancelled tasks to
// unwind after the drain timeout elapses.
const forcedCancelGrace = 2 * time.Second

// Config contains worker configuration.
type Config struct {
	// MaxConcurrentTasks bounds in-flight executions per worker.
	MaxConcurrentTasks int

	// DefaultTaskTimeout applies when a task carries no timeout override.
	DefaultTaskTimeout time.Duration

	// HeartbeatInterval is how often the worker refreshes its heartbeat.
	HeartbeatInterval time.Duration

	// DrainTimeout bounds how long Stop waits for in-flight tasks.
	DrainTimeout time.Duration

	// HangWindow is the in-flight age beyond which a task counts as hung.
	HangWindow time.Duration

	// MemoryCeilingBytes fails the health check when process RSS exceeds it.
	// Zero disables the memory check.
	MemoryCeilingBytes uint64

	// Clock for time operations (optional, defaults to real clock).
	Clock types.Clock

	// Logger for worker events (optional, defaults to slog.Default).
	Logger *slog.Logger

	// Sampler reads process resources (optional; health and load degrade
	// gracefully without one).
	Sampler sysmon.Sampler
}

// DefaultConfig returns default worker configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentTasks: 10,
		DefaultTaskTimeout: 60 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		DrainTimeout:       30 * time.Second,
		HangWindow:         5 * time.Minute,
		MemoryCeilingBytes: 1 << 30,
		Clock:              types.NewRealClock(),
	}
}

// inflightTask tracks one in-flight execution.
type inflightTask struct {
	task      *types.Task
	startedAt time.Time
	cancel    context.CancelFunc
}

// execOutcome carries the task body's return values to ExecuteTask.
type execOutcome struct {
	value any
	err   error
}

// Worker executes tasks up to a concurrency bound and reports its own
// health and load. Workers are created and owned by the pool.
type Worker struct {
	id  string
	cfg *Config

	state         int32
	healthy       int32
	lastHeartbeat int64 // Unix nanosecond timestamp
	startedAt     int64 // Unix nanosecond timestamp, set once by Start

	quit chan struct{}

	mu       sync.Mutex
	inflight map[string]*inflightTask
	wg       sync.WaitGroup

	completed      int64
	failed         int64
	totalExecNanos int64

	clock  types.Clock
	logger *slog.Logger
}

// New creates a worker. A nil config uses defaults; a nil sampler is
// replaced with a process sampler when one can be constructed.
func New(id string, cfg *Config) *Worker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 1
	}
	if cfg.Sampler == nil {
		if sampler, err := sysmon.NewProcessSampler(); err == nil {
			cfg.Sampler = sampler
		}
	}

	return &Worker{
		id:       id,
		cfg:      cfg,
		healthy:  1,
		quit:     make(chan struct{}),
		inflight: make(map[string]*inflightTask),
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("worker_id", id),
	}
}

// ID returns the worker identifier.
func (w *Worker) ID() string {
	return w.id
}

// IsRunning reports whether the worker accepts work.
func (w *Worker) IsRunning() bool {
	return atomic.LoadInt32(&w.state) == stateRunning
}

// Start flips the worker to running and begins the heartbeat. Calling Start
// on an already-running worker is a no-op; a stopped worker cannot restart.
func (w *Worker) Start() error {
	if !atomic.CompareAndSwapInt32(&w.state, stateCreated, stateRunning) {
		if atomic.LoadInt32(&w.state) == stateRunning {
			return nil
		}
		return types.ErrWorkerStopped
	}

	now := w.clock.Now()
	atomic.StoreInt64(&w.startedAt, now.UnixNano())
	atomic.StoreInt64(&w.lastHeartbeat, now.UnixNano())

	go w.heartbeatLoop()
	return nil
}

// heartbeatLoop refreshes the heartbeat timestamp on a fixed interval until
// the worker stops.
func (w *Worker) heartbeatLoop() {
	ticker := w.clock.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C():
			atomic.StoreInt64(&w.lastHeartbeat, w.clock.Now().UnixNano())
		}
	}
}

// Stop flips the worker to stopped, waits up to DrainTimeout for in-flight
// tasks, then forcibly cancels whatever is left. Idempotent.
func (w *Worker) Stop() error {
	if !atomic.CompareAndSwapInt32(&w.state, stateRunning, stateStopped) {
		// Never-started workers go straight to stopped.
		atomic.CompareAndSwapInt32(&w.state, stateCreated, stateStopped)
		return nil
	}

	close(w.quit)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-w.clock.After(w.cfg.DrainTimeout):
		w.logger.Warn("drain timeout, cancelling in-flight tasks",
			"remaining", w.ActiveTasks())
		w.cancelInflight()
		select {
		case <-done:
		case <-w.clock.After(forcedCancelGrace):
			w.logger.Warn("in-flight tasks did not unwind after cancel")
		}
	}

	w.mu.Lock()
	w.inflight = make(map[string]*inflightTask)
	w.mu.Unlock()

	return nil
}

// cancelInflight cancels the execution context of every in-flight task.
func (w *Worker) cancelInflight() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, entry := range w.inflight {
		entry.cancel()
	}
}

// ExecuteTask runs one task to a terminal result. It rejects without side
// effects when the worker is not running or has no free slot; callers are
// expected to check CanAccept first, but the method is safe either way.
func (w *Worker) ExecuteTask(ctx context.Context, task *types.Task) *types.TaskResult {
	now := w.clock.Now()
	if task == nil {
		return types.NewFailedResult("", w.id, types.ErrInvalidTask, now, now)
	}

	execCtx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	if atomic.LoadInt32(&w.state) != stateRunning {
		w.mu.Unlock()
		cancel()
		return types.NewFailedResult(task.ID(), w.id, types.ErrWorkerStopped, now, now)
	}
	if len(w.inflight) >= w.cfg.MaxConcurrentTasks {
		w.mu.Unlock()
		cancel()
		return types.NewFailedResult(task.ID(), w.id, types.ErrWorkerAtCapacity, now, now)
	}
	start := w.clock.Now()
	w.inflight[task.ID()] = &inflightTask{task: task, startedAt: start, cancel: cancel}
	w.wg.Add(1)
	w.mu.Unlock()

	defer func() {
		cancel()
		w.mu.Lock()
		delete(w.inflight, task.ID())
		w.mu.Unlock()
	}()

	timeout := task.Timeout()
	if timeout <= 0 {
		timeout = w.cfg.DefaultTaskTimeout
	}

	outCh := make(chan execOutcome, 1)
	go w.runTaskBody(execCtx, task, outCh)

	timer := w.clock.NewTimer(timeout)
	defer timer.Stop()

	var result *types.TaskResult
	select {
	case out := <-outCh:
		end := w.clock.Now()
		if out.err != nil {
			result = types.NewFailedResult(task.ID(), w.id, out.err, start, end)
		} else {
			result = types.NewCompletedResult(task.ID(), w.id, out.value, start, end)
		}
	case <-timer.C():
		// Stop awaiting the body; cancellation frees the slot even if the
		// task function ignores its context.
		cancel()
		end := w.clock.Now()
		cause := fmt.Errorf("%w after %s", types.ErrTaskTimeout, timeout)
		result = types.NewFailedResult(task.ID(), w.id, cause, start, end)
	}

	w.recordResult(result)
	return result
}

// runTaskBody executes the task function with panic recovery.
func (w *Worker) runTaskBody(ctx context.Context, task *types.Task, outCh chan<- execOutcome) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			var buf [8192]byte
			n := runtime.Stack(buf[:], false)
			stack := string(buf[:n])

			err := types.NewTaskError("execute", task.ID(), fmt.Errorf("panic: %v", r)).
				WithContext("stack_trace", stack).
				WithContext("worker_id", w.id)

			w.logger.Debug("task panicked", "task_id", task.ID(), "stack", stack)

			select {
			case outCh <- execOutcome{err: err}:
			default:
			}
		}
	}()

	value, err := task.Execute(ctx)
	outCh <- execOutcome{value: value, err: err}
}

// recordResult updates worker-local counters for an executed task.
func (w *Worker) recordResult(result *types.TaskResult) {
	if result.Status == types.StatusCompleted {
		atomic.AddInt64(&w.completed, 1)
	} else {
		atomic.AddInt64(&w.failed, 1)
	}
	atomic.AddInt64(&w.totalExecNanos, int64(result.ExecutionTime()))
}

// CanAccept reports whether the worker can take another task right now. It
// uses the health flag maintained by the last Healthy call so the hot path
// never samples process resources.
func (w *Worker) CanAccept() bool {
	if atomic.LoadInt32(&w.state) != stateRunning {
		return false
	}
	if atomic.LoadInt32(&w.healthy) != 1 {
		return false
	}
	return w.ActiveTasks() < w.cfg.MaxConcurrentTasks
}

// ActiveTasks returns the current number of in-flight executions.
func (w *Worker) ActiveTasks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

// Healthy runs the full health check and refreshes the health flag: the
// worker must be running, under its memory ceiling, heartbeating within 2x
// the heartbeat interval, and not have most of its slots hung.
func (w *Worker) Healthy() bool {
	if atomic.LoadInt32(&w.state) != stateRunning {
		atomic.StoreInt32(&w.healthy, 0)
		return false
	}

	if w.cfg.Sampler != nil && w.cfg.MemoryCeilingBytes > 0 {
		if usage, err := w.cfg.Sampler.Sample(); err == nil && usage.RSSBytes > w.cfg.MemoryCeilingBytes {
			w.logger.Warn("memory ceiling exceeded",
				"rss_bytes", usage.RSSBytes, "ceiling_bytes", w.cfg.MemoryCeilingBytes)
			atomic.StoreInt32(&w.healthy, 0)
			return false
		}
	}

	heartbeat := time.Unix(0, atomic.LoadInt64(&w.lastHeartbeat))
	if w.clock.Since(heartbeat) > 2*w.cfg.HeartbeatInterval {
		w.logger.Warn("heartbeat stale", "last_heartbeat", heartbeat)
		atomic.StoreInt32(&w.healthy, 0)
		return false
	}

	if w.hungSlots() {
		w.logger.Warn("hang detected", "active_tasks", w.ActiveTasks())
		atomic.StoreInt32(&w.healthy, 0)
		return false
	}

	atomic.StoreInt32(&w.healthy, 1)
	return true
}

// hungSlots reports whether more than 80% of the concurrency slots hold
// tasks older than the hang window.
func (w *Worker) hungSlots() bool {
	if w.cfg.HangWindow <= 0 {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hung := 0
	for _, entry := range w.inflight {
		if w.clock.Since(entry.startedAt) > w.cfg.HangWindow {
			hung++
		}
	}
	return float64(hung) > 0.8*float64(w.cfg.MaxConcurrentTasks)
}

// CurrentLoad returns a load estimate in [0,1]: a weighted blend of slot
// occupancy (50%), process CPU (30%), and memory pressure against the
// ceiling (20%). Without a sampler the occupancy alone is the signal.
func (w *Worker) CurrentLoad() float64 {
	occupancy := float64(w.ActiveTasks()) / float64(w.cfg.MaxConcurrentTasks)
	if occupancy > 1 {
		occupancy = 1
	}

	if w.cfg.Sampler == nil {
		return occupancy
	}
	usage, err := w.cfg.Sampler.Sample()
	if err != nil {
		return occupancy
	}

	memFraction := 0.0
	if w.cfg.MemoryCeilingBytes > 0 {
		memFraction = float64(usage.RSSBytes) / float64(w.cfg.MemoryCeilingBytes)
		if memFraction > 1 {
			memFraction = 1
		}
	}

	load := 0.5*occupancy + 0.3*usage.CPUFraction + 0.2*memFraction
	if load > 1 {
		load = 1
	}
	return load
}

// Stats returns a snapshot of the worker for introspection.
func (w *Worker) Stats() types.WorkerStats {
	completed := atomic.LoadInt64(&w.completed)
	failed := atomic.LoadInt64(&w.failed)
	total := completed + failed

	successRate := float64(completed) / float64(max64(1, total))

	var avgExec time.Duration
	if total > 0 {
		avgExec = time.Duration(atomic.LoadInt64(&w.totalExecNanos) / total)
	}

	var uptime time.Duration
	if started := atomic.LoadInt64(&w.startedAt); started > 0 {
		uptime = w.clock.Since(time.Unix(0, started))
	}

	stats := types.WorkerStats{
		ID:                 w.id,
		Running:            w.IsRunning(),
		Healthy:            atomic.LoadInt32(&w.healthy) == 1,
		Uptime:             uptime,
		ActiveTasks:        w.ActiveTasks(),
		MaxConcurrentTasks: w.cfg.MaxConcurrentTasks,
		CompletedTasks:     completed,
		FailedTasks:        failed,
		SuccessRate:        successRate,
		AvgExecutionTime:   avgExec,
		CurrentLoad:        w.CurrentLoad(),
		LastHeartbeat:      time.Unix(0, atomic.LoadInt64(&w.lastHeartbeat)),
	}

	if w.cfg.Sampler != nil {
		if usage, err := w.cfg.Sampler.Sample(); err == nil {
			stats.CPUFraction = usage.CPUFraction
			stats.MemoryRSSBytes = usage.RSSBytes
		}
	}

	return stats
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
