package maestro

import (
	"context"
	"fmt"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/metrics"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/registry"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// RegisterAgent adds an agent and announces it with agent:registered.
func (m *Maestro) RegisterAgent(ctx context.Context, agent *types.RegisteredAgent) (*types.RegisteredAgent, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	if m.validator != nil && agent != nil {
		if err := m.validator.ValidateAgent(agent); err != nil {
			return nil, fmt.Errorf("%w: %v", registry.ErrInvalidAgent, err)
		}
	}
	stored, err := m.registry.Register(ctx, agent)
	if err != nil {
		return nil, err
	}
	metrics.AgentsRegistered.Set(float64(m.registry.Len()))
	m.publish(ctx, stored.ID, "", &types.AgentRegisteredPayload{Agent: stored.Clone()})
	return stored, nil
}

// DeregisterAgent removes an agent. It reports whether the agent existed;
// agent:deregistered is published only when it did.
func (m *Maestro) DeregisterAgent(ctx context.Context, id string) (bool, error) {
	if m.isClosed() {
		return false, ErrShutdown
	}
	removed, err := m.registry.Deregister(ctx, id)
	if err != nil || !removed {
		return removed, err
	}
	metrics.AgentsRegistered.Set(float64(m.registry.Len()))
	m.publish(ctx, id, "", &types.AgentDeregisteredPayload{AgentID: id})
	return true, nil
}

// GetAgent returns an agent by ID.
func (m *Maestro) GetAgent(id string) (*types.RegisteredAgent, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	return m.registry.Get(id)
}

// QueryAgents returns the agents matching filter, ordered by ID.
func (m *Maestro) QueryAgents(filter types.AgentFilter) ([]*types.RegisteredAgent, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	return m.registry.Query(filter), nil
}

// UpdateAgentStatus sets an agent's status and publishes
// agent:status_changed when it actually changes.
func (m *Maestro) UpdateAgentStatus(ctx context.Context, id string, status types.AgentStatus, reason string) error {
	if m.isClosed() {
		return ErrShutdown
	}
	return m.setStatus(ctx, id, status, reason)
}

func (m *Maestro) setStatus(ctx context.Context, id string, status types.AgentStatus, reason string) error {
	previous, err := m.registry.UpdateStatus(ctx, id, status)
	if err != nil {
		return err
	}
	if previous != status {
		m.publish(ctx, id, "", &types.AgentStatusChangedPayload{
			AgentID:  id,
			Previous: previous,
			Current:  status,
			Reason:   reason,
		})
	}
	return nil
}

// HeartbeatAgent records liveness evidence for an agent.
func (m *Maestro) HeartbeatAgent(ctx context.Context, id string) error {
	if m.isClosed() {
		return ErrShutdown
	}
	return m.registry.Heartbeat(ctx, id)
}

// RecordAgentHealth stores a health sample used for agent selection.
func (m *Maestro) RecordAgentHealth(h types.AgentHealth) error {
	if m.isClosed() {
		return ErrShutdown
	}
	return m.registry.RecordHealth(h)
}
