// Package registry provides agent registration and discovery.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// Common errors returned by the Registry.
var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrDuplicateAgent = errors.New("agent already registered")
	ErrInvalidAgent   = errors.New("invalid agent")
)

// Store persists registered agents. The in-memory Registry stays
// authoritative; the store is written through so agents survive restarts.
type Store interface {
	SaveAgent(ctx context.Context, agent *types.RegisteredAgent) error
	DeleteAgent(ctx context.Context, id string) error
	LoadAgents(ctx context.Context) ([]*types.RegisteredAgent, error)
	Close() error
}

// Registry is the authoritative set of agents and their latest health
// samples. Safe for concurrent use; all returned agents are copies.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*types.RegisteredAgent
	health map[string]types.AgentHealth

	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore enables write-through persistence.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		agents: make(map[string]*types.RegisteredAgent),
		health: make(map[string]types.AgentHealth),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks the fields a registration must carry.
func Validate(agent *types.RegisteredAgent) error {
	if agent == nil {
		return fmt.Errorf("%w: agent is required", ErrInvalidAgent)
	}
	if strings.TrimSpace(agent.ID) == "" {
		return fmt.Errorf("%w: agent ID is required", ErrInvalidAgent)
	}
	if agent.Type == "" {
		return fmt.Errorf("%w: agent %s: type is required", ErrInvalidAgent, agent.ID)
	}
	if agent.Status != "" && !agent.Status.Valid() {
		return fmt.Errorf("%w: agent %s: unknown status %q", ErrInvalidAgent, agent.ID, agent.Status)
	}
	seen := make(map[string]struct{}, len(agent.Capabilities))
	for _, c := range agent.Capabilities {
		if c.ID == "" {
			return fmt.Errorf("%w: agent %s: capability ID is required", ErrInvalidAgent, agent.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: agent %s: duplicate capability %q", ErrInvalidAgent, agent.ID, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// Register adds a new agent. An existing ID is never overwritten.
func (r *Registry) Register(ctx context.Context, agent *types.RegisteredAgent) (*types.RegisteredAgent, error) {
	if err := Validate(agent); err != nil {
		return nil, err
	}

	stored := agent.Clone()
	now := r.now()
	if stored.Status == "" {
		stored.Status = types.AgentStatusOnline
	}
	stored.RegisteredAt = now
	stored.LastHeartbeat = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[stored.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, stored.ID)
	}
	if r.store != nil {
		if err := r.store.SaveAgent(ctx, stored); err != nil {
			return nil, fmt.Errorf("persist agent %s: %w", stored.ID, err)
		}
	}
	r.agents[stored.ID] = stored

	r.logger.Info("agent registered", slog.String("agent_id", stored.ID), slog.String("type", stored.Type))
	return stored.Clone(), nil
}

// Deregister removes an agent and its health sample. It reports whether the
// agent existed; removing an unknown ID is not an error.
func (r *Registry) Deregister(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; !exists {
		return false, nil
	}
	if r.store != nil {
		if err := r.store.DeleteAgent(ctx, id); err != nil {
			return false, fmt.Errorf("delete agent %s: %w", id, err)
		}
	}
	delete(r.agents, id)
	delete(r.health, id)

	r.logger.Info("agent deregistered", slog.String("agent_id", id))
	return true, nil
}

// Get returns a copy of the agent.
func (r *Registry) Get(id string) (*types.RegisteredAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return agent.Clone(), nil
}

// Query returns the agents matching filter, ordered by ID.
func (r *Registry) Query(filter types.AgentFilter) []*types.RegisteredAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*types.RegisteredAgent, 0)
	for _, agent := range r.agents {
		if filter.Match(agent) {
			result = append(result, agent.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *types.RegisteredAgent) int { return strings.Compare(a.ID, b.ID) })
	return result
}

// List returns every agent, ordered by ID.
func (r *Registry) List() []*types.RegisteredAgent {
	return r.Query(types.AgentFilter{})
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// UpdateStatus sets the agent's status and returns the previous one.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status types.AgentStatus) (types.AgentStatus, error) {
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidAgent, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	previous := agent.Status
	if previous == status {
		return previous, nil
	}
	agent.Status = status
	r.persist(ctx, agent)
	return previous, nil
}

// Heartbeat records liveness evidence for the agent.
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	agent.LastHeartbeat = r.now()
	r.persist(ctx, agent)
	return nil
}

// RecordHealth overwrites the latest health sample for the agent.
func (r *Registry) RecordHealth(h types.AgentHealth) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[h.AgentID]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, h.AgentID)
	}
	if h.CheckedAt.IsZero() {
		h.CheckedAt = r.now()
	}
	r.health[h.AgentID] = h
	return nil
}

// Health returns the latest health sample for the agent.
func (r *Registry) Health(id string) (types.AgentHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[id]
	return h, ok
}

// HealthScores returns the latest score of every agent with a sample.
func (r *Registry) HealthScores() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scores := make(map[string]float64, len(r.health))
	for id, h := range r.health {
		scores[id] = h.Score
	}
	return scores
}

// Restore loads agents from the store, skipping IDs already registered.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	agents, err := r.store.LoadAgents(ctx)
	if err != nil {
		return 0, fmt.Errorf("load agents: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, a := range agents {
		if err := Validate(a); err != nil {
			r.logger.Warn("skipping stored agent", slog.String("agent_id", a.ID), slog.String("error", err.Error()))
			continue
		}
		if _, exists := r.agents[a.ID]; exists {
			continue
		}
		r.agents[a.ID] = a.Clone()
		n++
	}
	return n, nil
}

// Clear drops all in-memory state. The store is left untouched.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*types.RegisteredAgent)
	r.health = make(map[string]types.AgentHealth)
}

// persist writes the agent through to the store. Failures are logged; the
// in-memory change stands. Caller holds r.mu.
func (r *Registry) persist(ctx context.Context, agent *types.RegisteredAgent) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveAgent(ctx, agent); err != nil {
		r.logger.Warn("failed to persist agent", slog.String("agent_id", agent.ID), slog.String("error", err.Error()))
	}
}
