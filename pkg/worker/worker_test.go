package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/taskforge/pkg/sysmon"
	"github.com/jzx17/taskforge/pkg/types"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.MaxConcurrentTasks = 4
	cfg.DefaultTaskTimeout = time.Second
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.DrainTimeout = time.Second
	cfg.Sampler = sysmon.NewStaticSampler(sysmon.Usage{})
	return cfg
}

func startedWorker(t *testing.T, cfg *Config) *Worker {
	t.Helper()
	w := New("w-test", cfg)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestNew(t *testing.T) {
	w := New("w1", nil)
	assert.Equal(t, "w1", w.ID())
	assert.False(t, w.IsRunning())
	assert.Equal(t, 0, w.ActiveTasks())
}

func TestWorker_StartIdempotent(t *testing.T) {
	w := New("w1", testConfig())

	require.NoError(t, w.Start())
	assert.True(t, w.IsRunning())
	require.NoError(t, w.Start())
	assert.True(t, w.IsRunning())

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
}

func TestWorker_StartAfterStopFails(t *testing.T) {
	w := New("w1", testConfig())
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())

	assert.ErrorIs(t, w.Start(), types.ErrWorkerStopped)
}

func TestWorker_StopIdempotent(t *testing.T) {
	w := New("w1", testConfig())
	require.NoError(t, w.Start())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestWorker_StopWithoutStart(t *testing.T) {
	w := New("w1", testConfig())
	require.NoError(t, w.Stop())
	assert.ErrorIs(t, w.Start(), types.ErrWorkerStopped)
}

func TestWorker_ExecuteTaskSuccess(t *testing.T) {
	w := startedWorker(t, testConfig())

	task := types.NewTask(func(ctx context.Context) (any, error) {
		return "payload", nil
	})
	result := w.ExecuteTask(context.Background(), task)

	assert.Equal(t, types.StatusCompleted, result.Status)
	assert.Equal(t, "payload", result.Value)
	assert.Equal(t, task.ID(), result.TaskID)
	assert.Equal(t, "w-test", result.WorkerID)
	assert.Equal(t, 0, w.ActiveTasks())

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.CompletedTasks)
	assert.Equal(t, int64(0), stats.FailedTasks)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

func TestWorker_ExecuteTaskFailure(t *testing.T) {
	w := startedWorker(t, testConfig())

	boom := errors.New("boom")
	task := types.NewTask(func(ctx context.Context) (any, error) {
		return nil, boom
	})
	result := w.ExecuteTask(context.Background(), task)

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.ErrorIs(t, result.Err, boom)

	stats := w.Stats()
	assert.Equal(t, int64(0), stats.CompletedTasks)
	assert.Equal(t, int64(1), stats.FailedTasks)
}

func TestWorker_ExecuteTaskPanic(t *testing.T) {
	w := startedWorker(t, testConfig())

	task := types.NewTask(func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	result := w.ExecuteTask(context.Background(), task)

	require.Equal(t, types.StatusFailed, result.Status)

	var taskErr *types.TaskError
	require.ErrorAs(t, result.Err, &taskErr)
	assert.Contains(t, taskErr.Cause.Error(), "kaboom")
	assert.Contains(t, taskErr.Context["stack_trace"], "goroutine")
	assert.Equal(t, 0, w.ActiveTasks())
}

func TestWorker_ExecuteTaskTimeout(t *testing.T) {
	cfg := testConfig()
	w := startedWorker(t, cfg)

	var cancelled int32
	task := types.NewTaskWithTimeout(func(ctx context.Context) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			atomic.StoreInt32(&cancelled, 1)
			return nil, ctx.Err()
		}
	}, 30*time.Millisecond)

	start := time.Now()
	result := w.ExecuteTask(context.Background(), task)

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.ErrorIs(t, result.Err, types.ErrTaskTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// The slot is freed and the body sees the cancellation.
	assert.Equal(t, 0, w.ActiveTasks())
	assert.True(t, w.CanAccept())
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&cancelled) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_ExecuteTaskNotRunning(t *testing.T) {
	w := New("w1", testConfig())

	task := types.NewTask(func(ctx context.Context) (any, error) { return nil, nil })
	result := w.ExecuteTask(context.Background(), task)

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.ErrorIs(t, result.Err, types.ErrWorkerStopped)

	// Rejections leave the counters untouched.
	stats := w.Stats()
	assert.Zero(t, stats.CompletedTasks)
	assert.Zero(t, stats.FailedTasks)
}

func TestWorker_ExecuteTaskNil(t *testing.T) {
	w := startedWorker(t, testConfig())

	result := w.ExecuteTask(context.Background(), nil)
	assert.Equal(t, types.StatusFailed, result.Status)
	assert.ErrorIs(t, result.Err, types.ErrInvalidTask)
}

func TestWorker_CapacityInvariant(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTasks = 2
	w := startedWorker(t, cfg)

	var current, maxSeen int32
	body := func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			seen := atomic.LoadInt32(&maxSeen)
			if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return nil, nil
	}

	const attempts = 5
	results := make([]*types.TaskResult, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = w.ExecuteTask(context.Background(), types.NewTask(body))
		}(i)
	}
	wg.Wait()

	completed, rejected := 0, 0
	for _, result := range results {
		switch {
		case result.Status == types.StatusCompleted:
			completed++
		case errors.Is(result.Err, types.ErrWorkerAtCapacity):
			rejected++
		default:
			t.Fatalf("unexpected result: %+v", result)
		}
	}

	assert.Equal(t, 2, completed)
	assert.Equal(t, 3, rejected)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestWorker_StopDrainsInFlight(t *testing.T) {
	cfg := testConfig()
	w := New("w1", cfg)
	require.NoError(t, w.Start())

	resultCh := make(chan *types.TaskResult, 1)
	go func() {
		resultCh <- w.ExecuteTask(context.Background(), types.NewTask(func(ctx context.Context) (any, error) {
			time.Sleep(50 * time.Millisecond)
			return "done", nil
		}))
	}()

	// Let the execution register before stopping.
	assert.Eventually(t, func() bool { return w.ActiveTasks() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())

	select {
	case result := <-resultCh:
		assert.Equal(t, types.StatusCompleted, result.Status)
		assert.Equal(t, "done", result.Value)
	case <-time.After(time.Second):
		t.Fatal("in-flight task did not finish during drain")
	}
	assert.Equal(t, 0, w.ActiveTasks())
}

func TestWorker_StopCancelsAfterDrainTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.DrainTimeout = 20 * time.Millisecond
	w := New("w1", cfg)
	require.NoError(t, w.Start())

	resultCh := make(chan *types.TaskResult, 1)
	go func() {
		resultCh <- w.ExecuteTask(context.Background(), types.NewTask(func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	}()

	assert.Eventually(t, func() bool { return w.ActiveTasks() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())

	select {
	case result := <-resultCh:
		assert.Equal(t, types.StatusFailed, result.Status)
	case <-time.After(time.Second):
		t.Fatal("forced cancellation did not unblock the task")
	}
}

func TestWorker_CanAccept(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTasks = 1
	w := New("w1", cfg)

	assert.False(t, w.CanAccept(), "not running yet")

	require.NoError(t, w.Start())
	assert.True(t, w.CanAccept())

	release := make(chan struct{})
	go w.ExecuteTask(context.Background(), types.NewTask(func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}))

	assert.Eventually(t, func() bool { return !w.CanAccept() }, time.Second, 5*time.Millisecond)
	close(release)
	assert.Eventually(t, func() bool { return w.CanAccept() }, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.False(t, w.CanAccept())
}

func TestWorker_HealthyBasics(t *testing.T) {
	w := New("w1", testConfig())
	assert.False(t, w.Healthy(), "not running")

	require.NoError(t, w.Start())
	assert.True(t, w.Healthy())

	w.Stop()
	assert.False(t, w.Healthy())
}

func TestWorker_HealthyMemoryCeiling(t *testing.T) {
	sampler := sysmon.NewStaticSampler(sysmon.Usage{RSSBytes: 100})
	cfg := testConfig()
	cfg.Sampler = sampler
	cfg.MemoryCeilingBytes = 1000
	w := startedWorker(t, cfg)

	assert.True(t, w.Healthy())

	sampler.Set(sysmon.Usage{RSSBytes: 2000})
	assert.False(t, w.Healthy())

	sampler.Set(sysmon.Usage{RSSBytes: 100})
	assert.True(t, w.Healthy(), "recovers when usage drops")
}

func TestWorker_HealthyHeartbeatStale(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = time.Hour // ticker never fires during the test
	w := startedWorker(t, cfg)

	assert.True(t, w.Healthy())

	stale := time.Now().Add(-3 * time.Hour)
	atomic.StoreInt64(&w.lastHeartbeat, stale.UnixNano())
	assert.False(t, w.Healthy())
}

func TestWorker_HeartbeatRefreshes(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	w := startedWorker(t, cfg)

	before := w.Stats().LastHeartbeat
	assert.Eventually(t, func() bool {
		return w.Stats().LastHeartbeat.After(before)
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_HangDetection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTasks = 1
	cfg.HangWindow = 10 * time.Millisecond
	cfg.DefaultTaskTimeout = 5 * time.Second
	w := startedWorker(t, cfg)

	release := make(chan struct{})
	defer close(release)
	go w.ExecuteTask(context.Background(), types.NewTask(func(ctx context.Context) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}))

	assert.Eventually(t, func() bool { return w.ActiveTasks() == 1 }, time.Second, 5*time.Millisecond)

	// The single slot ages past the hang window.
	assert.Eventually(t, func() bool { return !w.Healthy() }, time.Second, 10*time.Millisecond)
}

func TestWorker_CurrentLoadBlend(t *testing.T) {
	sampler := sysmon.NewStaticSampler(sysmon.Usage{CPUFraction: 1.0, RSSBytes: 1000})
	cfg := testConfig()
	cfg.Sampler = sampler
	cfg.MemoryCeilingBytes = 1000
	w := startedWorker(t, cfg)

	// Zero occupancy: 0.5*0 + 0.3*1.0 + 0.2*1.0
	assert.InDelta(t, 0.5, w.CurrentLoad(), 0.001)

	sampler.Set(sysmon.Usage{})
	assert.InDelta(t, 0.0, w.CurrentLoad(), 0.001)
}

func TestWorker_CurrentLoadOccupancyOnly(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTasks = 2
	sampler := sysmon.NewStaticSampler(sysmon.Usage{})
	sampler.SetError(fmt.Errorf("sampling unavailable"))
	cfg.Sampler = sampler
	w := startedWorker(t, cfg)

	release := make(chan struct{})
	defer close(release)
	go w.ExecuteTask(context.Background(), types.NewTask(func(ctx context.Context) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}))

	assert.Eventually(t, func() bool { return w.ActiveTasks() == 1 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.5, w.CurrentLoad(), 0.001)
}

func TestWorker_Stats(t *testing.T) {
	w := startedWorker(t, testConfig())

	w.ExecuteTask(context.Background(), types.NewTask(func(ctx context.Context) (any, error) {
		return nil, nil
	}))
	w.ExecuteTask(context.Background(), types.NewTask(func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}))

	stats := w.Stats()
	assert.Equal(t, "w-test", stats.ID)
	assert.True(t, stats.Running)
	assert.True(t, stats.Healthy)
	assert.Equal(t, int64(1), stats.CompletedTasks)
	assert.Equal(t, int64(1), stats.FailedTasks)
	assert.Equal(t, 0.5, stats.SuccessRate)
	assert.Equal(t, 4, stats.MaxConcurrentTasks)
	assert.GreaterOrEqual(t, stats.Uptime, time.Duration(0))
}
