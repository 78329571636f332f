package flowstore

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for testing and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*types.Workflow
}

// NewMemoryStore creates a new in-memory workflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*types.Workflow),
	}
}

// Save stores a copy of the workflow.
func (s *MemoryStore) Save(_ context.Context, wf *types.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

// Get retrieves a workflow by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return wf.Clone(), nil
}

// Delete removes a workflow.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(s.workflows, id)
	return nil
}

// List returns all workflows ordered by ID.
func (s *MemoryStore) List(_ context.Context) ([]*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf.Clone())
	}
	slices.SortFunc(out, func(a, b *types.Workflow) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Close is a no-op for memory store.
func (s *MemoryStore) Close() error {
	return nil
}
