package maestro

import (
	"log/slog"
)

// GetConfig returns the current configuration.
func (m *Maestro) GetConfig() (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Config{}, ErrShutdown
	}
	return m.cfg, nil
}

// UpdateConfig applies upd and returns the resulting configuration. The
// update is validated as a whole; on error nothing changes. New timeouts
// apply to executions started afterwards.
func (m *Maestro) UpdateConfig(upd ConfigUpdate) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Config{}, ErrShutdown
	}

	prev := m.cfg
	next := upd.apply(prev)
	if err := next.Validate(); err != nil {
		return prev, err
	}
	m.cfg = next

	if next.EventBusBufferSize != prev.EventBusBufferSize {
		m.bus.SetHistorySize(next.EventBusBufferSize)
	}
	if next.AgentTimeout != prev.AgentTimeout || next.DefaultWorkflowTimeout != prev.DefaultWorkflowTimeout {
		m.executor.SetTimeouts(next.AgentTimeout, next.DefaultWorkflowTimeout)
		m.probeTimeout.Store(int64(next.AgentTimeout))
	}
	if next.LogLevel != prev.LogLevel {
		m.applyLevel(next.LogLevel)
	}
	if next.HealthCheckInterval != prev.HealthCheckInterval && m.initialized {
		m.stopSweepLocked()
		m.startSweepLocked(next.HealthCheckInterval)
	}
	if (next.EnableRollback && !prev.EnableRollback) || (next.EnableCompensation && !prev.EnableCompensation) {
		m.warnUnsupported(next)
	}

	m.logger.Info("configuration updated",
		slog.Int("max_concurrent_workflows", next.MaxConcurrentWorkflows),
		slog.Duration("default_workflow_timeout", next.DefaultWorkflowTimeout),
		slog.Duration("agent_timeout", next.AgentTimeout),
		slog.Duration("health_check_interval", next.HealthCheckInterval),
		slog.String("log_level", next.LogLevel))
	return next, nil
}

func (m *Maestro) applyLevel(name string) {
	if m.level == nil {
		return
	}
	if lvl, err := ParseLevel(name); err == nil {
		m.level.Set(lvl)
	}
}
