// Package config loads daemon configuration from environment variables.
package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr    = ":8080"
	defaultQueueCapacity = 1000
	defaultMinWorkers    = 2
	defaultMaxWorkers    = 8
	defaultTaskTimeout   = 60 * time.Second

	envListenAddr    = "TASKFORGE_LISTEN_ADDR"
	envDBPath        = "TASKFORGE_DB_PATH"
	envLogLevel      = "TASKFORGE_LOG_LEVEL"
	envQueueCapacity = "TASKFORGE_QUEUE_CAPACITY"
	envMinWorkers    = "TASKFORGE_MIN_WORKERS"
	envMaxWorkers    = "TASKFORGE_MAX_WORKERS"
	envScaleUp       = "TASKFORGE_SCALE_UP_THRESHOLD"
	envScaleDown     = "TASKFORGE_SCALE_DOWN_THRESHOLD"
	envTaskTimeout   = "TASKFORGE_TASK_TIMEOUT"
)

// Config holds daemon configuration loaded from environment variables.
type Config struct {
	ListenAddr         string
	DBPath             string // empty means in-memory result store
	LogLevel           slog.Level
	QueueCapacity      int
	MinWorkers         int
	MaxWorkers         int
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	TaskTimeout        time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:         defaultListenAddr,
		LogLevel:           slog.LevelInfo,
		QueueCapacity:      defaultQueueCapacity,
		MinWorkers:         defaultMinWorkers,
		MaxWorkers:         defaultMaxWorkers,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.3,
		TaskTimeout:        defaultTaskTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v, ok := intEnv(envQueueCapacity); ok {
		cfg.QueueCapacity = v
	}
	if v, ok := intEnv(envMinWorkers); ok {
		cfg.MinWorkers = v
	}
	if v, ok := intEnv(envMaxWorkers); ok {
		cfg.MaxWorkers = v
	}
	if v, ok := floatEnv(envScaleUp); ok {
		cfg.ScaleUpThreshold = v
	}
	if v, ok := floatEnv(envScaleDown); ok {
		cfg.ScaleDownThreshold = v
	}
	if v := os.Getenv(envTaskTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TaskTimeout = d
		}
	}

	return cfg
}

func intEnv(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func floatEnv(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
