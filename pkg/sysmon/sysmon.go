// Package sysmon samples process-level resource usage for worker health
// checks and the load signal.
package sysmon

import (
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is one resource sample for the current process.
type Usage struct {
	// CPUFraction is process CPU utilization in [0,1], normalized across cores.
	CPUFraction float64

	// RSSBytes is the resident set size of the process.
	RSSBytes uint64
}

// Sampler produces resource usage samples.
type Sampler interface {
	Sample() (Usage, error)
}

// ProcessSampler reads CPU and memory usage of the current process.
type ProcessSampler struct {
	mu   sync.Mutex
	proc *process.Process
}

// NewProcessSampler creates a sampler bound to the current process.
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample returns current CPU and RSS usage. CPU is measured since the
// previous Sample call; the first call reports usage since process start.
func (s *ProcessSampler) Sample() (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpuPercent, err := s.proc.Percent(0)
	if err != nil {
		return Usage{}, err
	}

	memInfo, err := s.proc.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}

	cpuFraction := cpuPercent / 100 / float64(runtime.NumCPU())
	if cpuFraction > 1 {
		cpuFraction = 1
	}
	if cpuFraction < 0 {
		cpuFraction = 0
	}

	return Usage{
		CPUFraction: cpuFraction,
		RSSBytes:    memInfo.RSS,
	}, nil
}

// StaticSampler returns fixed values; used in tests to drive health and load
// checks deterministically.
type StaticSampler struct {
	mu    sync.Mutex
	usage Usage
	err   error
}

// NewStaticSampler creates a sampler that always returns usage.
func NewStaticSampler(usage Usage) *StaticSampler {
	return &StaticSampler{usage: usage}
}

// Sample returns the configured usage and error.
func (s *StaticSampler) Sample() (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, s.err
}

// Set replaces the returned usage.
func (s *StaticSampler) Set(usage Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = usage
}

// SetError makes subsequent samples fail with err.
func (s *StaticSampler) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

var (
	_ Sampler = (*ProcessSampler)(nil)
	_ Sampler = (*StaticSampler)(nil)
)
