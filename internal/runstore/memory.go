package runstore

import (
	"context"
	"sync"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*types.WorkflowExecution
	order      []string // insertion order, oldest first
	config     *Config
}

// NewMemoryStore creates a new in-memory Store.
func NewMemoryStore(cfg *Config) *MemoryStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryStore{
		executions: make(map[string]*types.WorkflowExecution),
		config:     cfg,
	}
}

// SaveExecution stores a copy of the snapshot, evicting the oldest
// execution when the store is full.
func (s *MemoryStore) SaveExecution(_ context.Context, exec *types.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; !exists {
		s.order = append(s.order, exec.ID)
		if s.config.MaxExecutions > 0 && len(s.order) > s.config.MaxExecutions {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.executions, oldest)
		}
	}
	s.executions[exec.ID] = exec.Clone()
	return nil
}

// GetExecution returns the latest snapshot.
func (s *MemoryStore) GetExecution(_ context.Context, id string) (*types.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return exec.Clone(), nil
}

// ListExecutions returns matching snapshots in insertion order.
func (s *MemoryStore) ListExecutions(_ context.Context, filter types.ExecutionFilter) ([]*types.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.WorkflowExecution, 0)
	for _, id := range s.order {
		exec := s.executions[id]
		if filter.Match(exec) {
			out = append(out, exec.Clone())
		}
	}
	return applyLimit(out, filter.Limit), nil
}

// AdapterInfo returns diagnostic information.
func (s *MemoryStore) AdapterInfo(_ context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"adapter":        "memory",
		"executions":     len(s.executions),
		"max_executions": s.config.MaxExecutions,
	}, nil
}

// Close is a no-op for memory store.
func (s *MemoryStore) Close() error {
	return nil
}
