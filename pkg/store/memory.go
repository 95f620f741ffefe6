// Package store provides ResultStore implementations: an in-memory map for
// embedding and tests, and a SQLite-backed store for persistence across
// restarts.
package store

import (
	"context"
	"sync"

	"github.com/jzx17/taskforge/pkg/types"
)

// MemoryStore keeps results in a mutex-guarded map. Writes are first-wins:
// a second store for the same task id is rejected.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*types.TaskResult
}

// NewMemoryStore creates an empty in-memory result store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*types.TaskResult),
	}
}

// StoreResult persists a terminal result exactly once per task id.
func (s *MemoryStore) StoreResult(_ context.Context, result *types.TaskResult) error {
	if result == nil || result.TaskID == "" {
		return types.ErrInvalidTask
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[result.TaskID]; exists {
		return types.ErrDuplicateResult
	}
	s.results[result.TaskID] = result
	return nil
}

// GetResult returns the stored result or ErrTaskNotFound.
func (s *MemoryStore) GetResult(_ context.Context, taskID string) (*types.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[taskID]
	if !ok {
		return nil, types.ErrTaskNotFound
	}
	return result, nil
}

// Len returns the number of stored results.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

var _ types.ResultStore = (*MemoryStore)(nil)
