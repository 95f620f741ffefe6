// Command taskforged runs the task-execution engine as a daemon with an HTTP
// monitoring and control surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jzx17/taskforge/internal/api"
	"github.com/jzx17/taskforge/internal/config"
	"github.com/jzx17/taskforge/pkg/pool"
	"github.com/jzx17/taskforge/pkg/queue"
	"github.com/jzx17/taskforge/pkg/store"
	"github.com/jzx17/taskforge/pkg/types"
)

func main() {
	// A missing .env file is fine; the environment still applies.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	var resultStore types.ResultStore
	if cfg.DBPath != "" {
		sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			logger.Error("open result store", "db_path", cfg.DBPath, "error", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		resultStore = sqliteStore
		logger.Info("using sqlite result store", "db_path", cfg.DBPath)
	} else {
		resultStore = store.NewMemoryStore()
		logger.Info("using in-memory result store")
	}

	taskQueue := queue.NewMemoryQueue(cfg.QueueCapacity)

	poolCfg := pool.DefaultConfig()
	poolCfg.MinWorkers = cfg.MinWorkers
	poolCfg.MaxWorkers = cfg.MaxWorkers
	poolCfg.ScaleUpThreshold = cfg.ScaleUpThreshold
	poolCfg.ScaleDownThreshold = cfg.ScaleDownThreshold
	poolCfg.DefaultTaskTimeout = cfg.TaskTimeout
	poolCfg.Logger = logger
	poolCfg.Metrics = pool.NewMetrics(prometheus.DefaultRegisterer)

	p, err := pool.New(taskQueue, resultStore, poolCfg)
	if err != nil {
		logger.Error("create pool", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		logger.Error("start pool", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg.ListenAddr, p, logger)
	if err := server.Run(ctx); err != nil {
		logger.Error("http server", "error", err)
	}

	if err := p.Stop(); err != nil {
		logger.Error("stop pool", "error", err)
	}
	taskQueue.Close()
}
