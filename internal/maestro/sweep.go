package maestro

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/metrics"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

const (
	// sweepConcurrency bounds simultaneous probes.
	sweepConcurrency = 16

	// scoreWeight is the weight of the newest sample in the moving score.
	scoreWeight = 0.3

	reasonHealthCheck = "health check"
)

// startSweepLocked starts the periodic sweep. Caller holds m.mu.
func (m *Maestro) startSweepLocked(interval time.Duration) {
	if m.prober == nil || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	m.stopSweep = cancel
	m.sweepDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.sweep(ctx); err != nil && ctx.Err() == nil {
					m.logger.Warn("health sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// stopSweepLocked stops the sweep goroutine. Caller holds m.mu; the sweep
// never takes m.mu, so waiting here cannot deadlock.
func (m *Maestro) stopSweepLocked() {
	if m.stopSweep == nil {
		return
	}
	m.stopSweep()
	<-m.sweepDone
	m.stopSweep = nil
	m.sweepDone = nil
}

// SweepHealth probes every registered agent once.
func (m *Maestro) SweepHealth(ctx context.Context) error {
	if m.isClosed() {
		return ErrShutdown
	}
	return m.sweep(ctx)
}

func (m *Maestro) sweep(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}
	timeout := m.agentTimeout()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, agent := range m.registry.List() {
		g.Go(func() error {
			m.checkAgent(gctx, agent, timeout)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (m *Maestro) agentTimeout() time.Duration {
	return time.Duration(m.probeTimeout.Load())
}

// checkAgent probes one agent, records the sample and moves the agent
// online or offline. Busy agents that pass stay busy.
func (m *Maestro) checkAgent(ctx context.Context, agent *types.RegisteredAgent, timeout time.Duration) {
	probeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	healthy, err := m.prober.Probe(probeCtx, agent)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	sample := types.AgentHealth{
		AgentID:   agent.ID,
		Healthy:   err == nil && healthy,
		Latency:   latency,
		CheckedAt: time.Now().UTC(),
	}
	result := "healthy"
	switch {
	case err != nil:
		sample.Error = err.Error()
		result = "error"
	case !healthy:
		result = "unhealthy"
	}
	metrics.HealthChecks.WithLabelValues(result).Inc()

	value := 0.0
	if sample.Healthy {
		value = 1
	}
	sample.Score = value
	if prev, ok := m.registry.Health(agent.ID); ok {
		sample.Score = (1-scoreWeight)*prev.Score + scoreWeight*value
	}
	if err := m.registry.RecordHealth(sample); err != nil {
		// Deregistered while probing.
		return
	}

	target := types.AgentStatusOffline
	if sample.Healthy {
		target = types.AgentStatusOnline
		if agent.Status == types.AgentStatusBusy {
			target = types.AgentStatusBusy
		}
	}
	if target == agent.Status {
		return
	}
	if err := m.setStatus(ctx, agent.ID, target, reasonHealthCheck); err != nil {
		m.logger.Debug("status update after probe failed",
			slog.String("agent_id", agent.ID),
			slog.String("error", err.Error()))
		return
	}
	m.logger.Info("agent status changed by health check",
		slog.String("agent_id", agent.ID),
		slog.String("previous", string(agent.Status)),
		slog.String("current", string(target)),
		slog.String("result", result))
}
