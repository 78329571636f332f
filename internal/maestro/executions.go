package maestro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/choreography"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/executor"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/metrics"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// archiveTimeout bounds one archive write.
const archiveTimeout = 30 * time.Second

// ExecuteWorkflow admits a new execution and starts it in the background.
// The pending record is returned immediately. When the executions not yet
// in a terminal status reach MaxConcurrentWorkflows the call fails with
// ErrCapacityExceeded and no record is created.
func (m *Maestro) ExecuteWorkflow(ctx context.Context, workflowID string, opts ExecuteOptions) (*types.WorkflowExecution, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	// Counting and creating under mu keeps concurrent callers from both
	// taking the last slot.
	if m.engine.ActiveCount() >= m.cfg.MaxConcurrentWorkflows {
		limit := m.cfg.MaxConcurrentWorkflows
		m.mu.Unlock()
		metrics.AdmissionRejected.Inc()
		return nil, fmt.Errorf("%w (%d)", ErrCapacityExceeded, limit)
	}

	rec, err := m.engine.CreateExecution(ctx, workflowID, choreography.ExecutionOptions{
		CorrelationID:     opts.CorrelationID,
		ParentExecutionID: opts.ParentExecutionID,
		Inputs:            opts.Inputs,
		Metadata:          opts.Metadata,
	})
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.active[rec.ID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.ExecutionsActive.Inc()
	go m.runExecution(runCtx, rec.ID, opts.Timeout)

	return rec, nil
}

func (m *Maestro) runExecution(ctx context.Context, executionID string, timeout time.Duration) {
	defer m.wg.Done()

	final, err := m.executor.Run(ctx, executionID, executor.RunOptions{Timeout: timeout})
	cancel := m.release(executionID)
	defer cancel()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Error("execution did not finish",
				slog.String("execution_id", executionID),
				slog.String("error", err.Error()))
		}
		return
	}

	if m.archiver != nil {
		actx, cancelArchive := context.WithTimeout(ctx, archiveTimeout)
		defer cancelArchive()
		events := m.bus.ByCorrelation(final.CorrelationID)
		if err := m.archiver.Archive(actx, final, events); err != nil {
			m.logger.Warn("failed to archive execution",
				slog.String("execution_id", executionID),
				slog.String("error", err.Error()))
		}
	}
}

// release drops the execution from the active set once the executor is
// done with it. The returned func cancels its context; archiving still
// runs under that context and is tracked by wg.
func (m *Maestro) release(executionID string) context.CancelFunc {
	m.mu.Lock()
	cancel, ok := m.active[executionID]
	delete(m.active, executionID)
	m.mu.Unlock()

	metrics.ExecutionsActive.Dec()
	if !ok {
		return func() {}
	}
	return cancel
}

// ActiveExecutions returns the number of executions not yet in a terminal
// status. This is the count admission is checked against.
func (m *Maestro) ActiveExecutions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.ActiveCount()
}

// GetExecution returns a snapshot of an execution.
func (m *Maestro) GetExecution(id string) (*types.WorkflowExecution, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	return m.engine.GetExecution(id)
}

// QueryExecutions returns executions matching filter, oldest first.
func (m *Maestro) QueryExecutions(filter types.ExecutionFilter) ([]*types.WorkflowExecution, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	return m.engine.QueryExecutions(filter), nil
}

// GetMetrics derives aggregate counters from the current state.
func (m *Maestro) GetMetrics() (types.ChoreographyMetrics, error) {
	if m.isClosed() {
		return types.ChoreographyMetrics{}, ErrShutdown
	}

	out := types.ChoreographyMetrics{
		AgentHealthScores: m.registry.HealthScores(),
		RegisteredAgents:  m.registry.Len(),
		DefinedWorkflows:  m.engine.WorkflowCount(),
	}

	var total time.Duration
	var finished int
	for _, exec := range m.engine.QueryExecutions(types.ExecutionFilter{}) {
		out.TotalWorkflows++
		switch exec.Status {
		case types.ExecutionCompleted:
			out.CompletedWorkflows++
		case types.ExecutionFailed:
			out.FailedWorkflows++
		default:
			out.ActiveExecutions++
			continue
		}
		if d := exec.Duration(); d > 0 {
			total += d
			finished++
		}
	}
	if done := out.CompletedWorkflows + out.FailedWorkflows; done > 0 {
		out.SuccessRate = float64(out.CompletedWorkflows) / float64(done)
	}
	if finished > 0 {
		out.AverageExecutionTime = total / time.Duration(finished)
	}
	return out, nil
}
