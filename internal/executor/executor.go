// Package executor drives workflow executions: it dispatches ready steps in
// waves, records their results and finalizes the execution exactly once.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/choreography"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/invoke"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/metrics"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// Source is the SourceAgent of events emitted by the executor itself.
const Source = "maestro"

// AgentDirectory is the view of the agent registry the executor needs.
type AgentDirectory interface {
	Get(id string) (*types.RegisteredAgent, error)
	Query(filter types.AgentFilter) []*types.RegisteredAgent
	HealthScores() map[string]float64
	Heartbeat(ctx context.Context, id string) error
}

// Publisher accepts choreography events.
type Publisher interface {
	Publish(ctx context.Context, event types.ChoreographyEvent) (types.ChoreographyEvent, error)
}

// Config holds executor configuration.
type Config struct {
	// AgentTimeout bounds each capability invocation (0 = no limit)
	AgentTimeout time.Duration

	// WorkflowTimeout bounds a whole execution (0 = no limit)
	WorkflowTimeout time.Duration

	// MaxParallelism limits concurrent steps within a wave (0 = unlimited)
	MaxParallelism int

	// MaxRetries is the number of extra attempts for a failed invocation
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled on every retry
	RetryBackoff time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AgentTimeout:    10 * time.Second,
		WorkflowTimeout: 300 * time.Second,
		MaxParallelism:  0,
		MaxRetries:      0,
		RetryBackoff:    2 * time.Second,
	}
}

// RunOptions adjust a single run.
type RunOptions struct {
	// Timeout overrides the configured workflow timeout when positive.
	Timeout time.Duration
}

// Executor runs executions created by the choreography engine.
type Executor struct {
	engine  *choreography.Engine
	agents  AgentDirectory
	invoker invoke.Invoker
	events  Publisher
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu  sync.RWMutex
	cfg Config
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// WithTracer sets the tracer used for execution and step spans.
func WithTracer(t trace.Tracer) Option {
	return func(x *Executor) { x.tracer = t }
}

// New creates an executor.
func New(engine *choreography.Engine, agents AgentDirectory, invoker invoke.Invoker, events Publisher, cfg *Config, opts ...Option) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	x := &Executor{
		engine:  engine,
		agents:  agents,
		invoker: invoker,
		events:  events,
		logger:  slog.Default(),
		tracer:  otel.Tracer("maestro/executor"),
		now:     time.Now,
		cfg:     *cfg,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// SetTimeouts changes the timeouts used by runs started afterwards.
func (x *Executor) SetTimeouts(agent, workflow time.Duration) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.cfg.AgentTimeout = agent
	x.cfg.WorkflowTimeout = workflow
}

func (x *Executor) config() Config {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.cfg
}

// Run drives the execution to a terminal state and returns its final
// record. Cancelling ctx abandons the execution without finalizing it.
func (x *Executor) Run(ctx context.Context, executionID string, opts RunOptions) (*types.WorkflowExecution, error) {
	wf, err := x.engine.ExecutionWorkflow(executionID)
	if err != nil {
		return nil, err
	}
	rec, err := x.engine.GetExecution(executionID)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.ExecutionPending {
		return nil, fmt.Errorf("execution %s is already %s", executionID, rec.Status)
	}

	cfg := x.config()
	timeout := cfg.WorkflowTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	ctx, span := x.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("maestro.execution_id", executionID),
		attribute.String("maestro.workflow_id", wf.ID),
		attribute.String("maestro.correlation_id", rec.CorrelationID),
	))
	defer span.End()

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r := &run{
		x:             x,
		id:            executionID,
		wf:            wf,
		correlationID: rec.CorrelationID,
		bg:            context.WithoutCancel(ctx),
		rec:           rec,
		cfg:           cfg,
	}

	startedAt := x.now().UTC()
	if err := r.update(func(rec *types.WorkflowExecution) {
		rec.Status = types.ExecutionRunning
		rec.StartedAt = &startedAt
	}, Source, &types.WorkflowStartedPayload{ExecutionID: executionID, WorkflowID: wf.ID}); err != nil {
		return nil, err
	}
	x.logger.Info("execution started",
		slog.String("execution_id", executionID),
		slog.String("workflow_id", wf.ID),
		slog.String("correlation_id", rec.CorrelationID))

	for r.failure() == nil {
		if ctx.Err() != nil || runCtx.Err() != nil || r.broken() != nil {
			break
		}
		wave := r.nextWave()
		if len(wave) == 0 {
			break
		}
		r.dispatch(ctx, runCtx, wave)
	}

	if err := ctx.Err(); err != nil {
		x.logger.Warn("execution abandoned",
			slog.String("execution_id", executionID),
			slog.String("error", err.Error()))
		span.SetStatus(codes.Error, "abandoned")
		return nil, err
	}
	if err := r.broken(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && (r.failure() != nil || r.hasPending())
	final, err := r.finalize(timedOut, timeout)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if final.Status == types.ExecutionFailed {
		span.SetStatus(codes.Error, final.Error)
	}
	return final, nil
}

// dispatched is a step resolved to an agent with its inputs substituted.
type dispatched struct {
	step    *types.WorkflowStep
	agentID string
	inputs  map[string]any
}

// dispatch runs one wave and waits for every step in it.
func (r *run) dispatch(parent, runCtx context.Context, wave []dispatched) {
	var g errgroup.Group
	if r.cfg.MaxParallelism > 0 {
		g.SetLimit(r.cfg.MaxParallelism)
	}
	for _, d := range wave {
		g.Go(func() error {
			r.execute(parent, runCtx, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) execute(parent, runCtx context.Context, d dispatched) {
	x := r.x
	ctx, span := x.tracer.Start(runCtx, "workflow.step", trace.WithAttributes(
		attribute.String("maestro.execution_id", r.id),
		attribute.String("maestro.step_id", d.step.ID),
		attribute.String("maestro.capability", d.step.Capability),
		attribute.String("maestro.agent_id", d.agentID),
	))
	defer span.End()

	start := time.Now()
	out, err := x.invokeWithRetry(ctx, d, r.cfg)
	elapsed := time.Since(start)

	if parent.Err() != nil {
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.StepDuration.WithLabelValues(d.step.Capability, "failed").Observe(elapsed.Seconds())
		r.failStep(d.step, d.agentID, &StepInvocationError{
			StepID:     d.step.ID,
			AgentID:    d.agentID,
			Capability: d.step.Capability,
			Err:        err,
		})
		return
	}

	metrics.StepDuration.WithLabelValues(d.step.Capability, "completed").Observe(elapsed.Seconds())
	if err := x.agents.Heartbeat(r.bg, d.agentID); err != nil {
		x.logger.Debug("heartbeat after invocation failed",
			slog.String("agent_id", d.agentID),
			slog.String("error", err.Error()))
	}
	r.completeStep(d, out, elapsed)
}

// invokeWithRetry calls the capability, retrying with exponential backoff.
func (x *Executor) invokeWithRetry(ctx context.Context, d dispatched, cfg Config) (map[string]any, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(cfg.RetryBackoff) * math.Pow(2, float64(attempt-1)))
			x.logger.Info("retrying step",
				slog.String("step_id", d.step.ID),
				slog.String("agent_id", d.agentID),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(backoff):
			}
		}

		out, err := x.call(ctx, d, cfg.AgentTimeout)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

type result struct {
	out map[string]any
	err error
}

// call performs one invocation bounded by timeout, even when the invoker
// does not honour its context.
func (x *Executor) call(ctx context.Context, d dispatched, timeout time.Duration) (map[string]any, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				x.logger.Error("invoker panicked",
					slog.String("agent_id", d.agentID),
					slog.String("capability", d.step.Capability),
					slog.Any("panic", r))
				ch <- result{err: fmt.Errorf("invoker panicked: %v", r)}
			}
		}()
		out, err := x.invoker.Invoke(callCtx, d.agentID, d.step.Capability, types.CloneMap(d.inputs))
		ch <- result{out: out, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.out == nil {
			res.out = map[string]any{}
		}
		return res.out, nil
	case <-callCtx.Done():
		if ctx.Err() == nil {
			return nil, fmt.Errorf("agent %s did not respond within %s", d.agentID, timeout)
		}
		return nil, callCtx.Err()
	}
}
