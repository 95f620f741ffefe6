// Package pool implements the dynamic worker pool: per-worker consumption
// loops over a TaskQueue, a monitor loop that replaces unhealthy workers,
// and a scaler loop that resizes the fleet within [min, max] bounds from a
// smoothed load signal.
package pool
