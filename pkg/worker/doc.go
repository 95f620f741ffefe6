// Package worker implements the task-executing worker: bounded concurrent
// execution with per-task timeouts, panic recovery, heartbeat tracking, and
// health/load reporting for the pool's monitor and auto-scaler.
package worker
