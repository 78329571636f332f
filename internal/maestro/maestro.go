// Package maestro is the orchestrator facade. It owns the agent registry,
// the choreography engine, the event bus and the executor, and is the only
// component that starts executions.
package maestro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/choreography"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/eventbus"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/executor"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/health"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/invoke"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/metrics"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/registry"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

var (
	// ErrCapacityExceeded is returned when MaxConcurrentWorkflows executions
	// are already in flight.
	ErrCapacityExceeded = errors.New("maximum concurrent workflows reached")

	// ErrShutdown is returned by every operation after Shutdown.
	ErrShutdown = errors.New("orchestrator is shut down")
)

// SchemaValidator validates registrations and definitions against schemas.
type SchemaValidator interface {
	ValidateAgent(agent *types.RegisteredAgent) error
	ValidateWorkflow(wf *types.Workflow) error
}

// Archiver stores a finished execution together with its events.
type Archiver interface {
	Archive(ctx context.Context, exec *types.WorkflowExecution, events []types.ChoreographyEvent) error
}

// ExecuteOptions seed a new execution.
type ExecuteOptions struct {
	CorrelationID     string            `json:"correlation_id,omitempty"`
	ParentExecutionID string            `json:"parent_execution_id,omitempty"`
	Inputs            map[string]any    `json:"inputs,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`

	// Timeout overrides DefaultWorkflowTimeout when positive.
	Timeout time.Duration `json:"timeout_ns,omitempty"`
}

type options struct {
	agentStore    registry.Store
	workflowStore choreography.WorkflowStore
	runStore      choreography.ExecutionStore
	validator     SchemaValidator
	prober        health.Prober
	archiver      Archiver
	logger        *slog.Logger
	level         *slog.LevelVar
	executor      *executor.Config
}

// Option configures a Maestro.
type Option func(*options)

// WithRegistryStore persists agent registrations.
func WithRegistryStore(s registry.Store) Option {
	return func(o *options) { o.agentStore = s }
}

// WithWorkflowStore persists workflow definitions.
func WithWorkflowStore(s choreography.WorkflowStore) Option {
	return func(o *options) { o.workflowStore = s }
}

// WithExecutionStore persists execution snapshots.
func WithExecutionStore(s choreography.ExecutionStore) Option {
	return func(o *options) { o.runStore = s }
}

// WithValidator adds schema validation for agents and workflows.
func WithValidator(v SchemaValidator) Option {
	return func(o *options) { o.validator = v }
}

// WithProber enables the periodic health sweep.
func WithProber(p health.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithArchiver archives every finished execution.
func WithArchiver(a Archiver) Option {
	return func(o *options) { o.archiver = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLevelVar lets UpdateConfig change the log level of the handler
// built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(o *options) { o.level = v }
}

// WithExecutorConfig sets step parallelism and retry policy. Timeouts
// always come from Config.
func WithExecutorConfig(cfg *executor.Config) Option {
	return func(o *options) { o.executor = cfg }
}

// Maestro is the orchestrator facade. Safe for concurrent use.
type Maestro struct {
	registry *registry.Registry
	engine   *choreography.Engine
	bus      *eventbus.Bus
	executor *executor.Executor

	validator SchemaValidator
	prober    health.Prober
	archiver  Archiver
	logger    *slog.Logger
	level     *slog.LevelVar

	// baseCtx parents every execution; cancelled by Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu          sync.Mutex
	cfg         Config
	active      map[string]context.CancelFunc
	wg          sync.WaitGroup
	initialized bool
	closed      bool
	stopSweep   context.CancelFunc
	sweepDone   chan struct{}

	// probeTimeout mirrors cfg.AgentTimeout for the sweep, which must not
	// take mu.
	probeTimeout atomic.Int64
}

// New creates an orchestrator. Invalid configuration is rejected.
func New(cfg Config, invoker invoke.Invoker, opts ...Option) (*Maestro, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if invoker == nil {
		return nil, errors.New("invoker is required")
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	regOpts := []registry.Option{registry.WithLogger(o.logger)}
	if o.agentStore != nil {
		regOpts = append(regOpts, registry.WithStore(o.agentStore))
	}
	engOpts := []choreography.Option{choreography.WithLogger(o.logger)}
	if o.workflowStore != nil {
		engOpts = append(engOpts, choreography.WithWorkflowStore(o.workflowStore))
	}
	if o.runStore != nil {
		engOpts = append(engOpts, choreography.WithExecutionStore(o.runStore))
	}
	if o.validator != nil {
		engOpts = append(engOpts, choreography.WithSchemaValidator(o.validator))
	}

	execCfg := executor.DefaultConfig()
	if o.executor != nil {
		c := *o.executor
		execCfg = &c
	}
	execCfg.AgentTimeout = cfg.AgentTimeout
	execCfg.WorkflowTimeout = cfg.DefaultWorkflowTimeout

	reg := registry.New(regOpts...)
	engine := choreography.NewEngine(engOpts...)
	bus := eventbus.New(eventbus.WithHistorySize(cfg.EventBusBufferSize), eventbus.WithLogger(o.logger))

	baseCtx, cancel := context.WithCancel(context.Background())
	m := &Maestro{
		registry:   reg,
		engine:     engine,
		bus:        bus,
		executor:   executor.New(engine, reg, invoker, bus, execCfg, executor.WithLogger(o.logger)),
		validator:  o.validator,
		prober:     o.prober,
		archiver:   o.archiver,
		logger:     o.logger,
		level:      o.level,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		cfg:        cfg,
		active:     make(map[string]context.CancelFunc),
	}
	m.probeTimeout.Store(int64(cfg.AgentTimeout))
	m.applyLevel(cfg.LogLevel)
	return m, nil
}

// Bus exposes the event bus for transports that attach mirrors or streams.
func (m *Maestro) Bus() *eventbus.Bus {
	return m.bus
}

func (m *Maestro) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Maestro) publish(ctx context.Context, source, correlationID string, payload types.EventPayload) {
	if _, err := m.bus.Publish(ctx, types.NewEvent(source, correlationID, payload)); err != nil {
		m.logger.Warn("failed to publish event",
			slog.String("type", string(payload.EventType())),
			slog.String("error", err.Error()))
	}
}

// Initialize restores persisted state and starts the health sweep.
// Calling it again is a no-op.
func (m *Maestro) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	cfg := m.cfg
	m.mu.Unlock()

	agents, err := m.registry.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore agents: %w", err)
	}
	workflows, err := m.engine.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore workflows: %w", err)
	}
	metrics.AgentsRegistered.Set(float64(m.registry.Len()))

	m.warnUnsupported(cfg)

	m.mu.Lock()
	m.startSweepLocked(cfg.HealthCheckInterval)
	m.mu.Unlock()

	m.logger.Info("orchestrator initialized",
		slog.Int("agents", agents),
		slog.Int("workflows", workflows),
		slog.Int("max_concurrent_workflows", cfg.MaxConcurrentWorkflows),
		slog.Duration("health_check_interval", cfg.HealthCheckInterval))
	return nil
}

func (m *Maestro) warnUnsupported(cfg Config) {
	if cfg.EnableRollback {
		m.logger.Warn("rollback is enabled but not supported; failed executions are not rolled back")
	}
	if cfg.EnableCompensation {
		m.logger.Warn("compensation is enabled but not supported; no compensating steps will run")
	}
}

// Shutdown stops the health sweep, cancels in-flight executions, waits for
// their goroutines until ctx is done, closes the bus and clears all
// in-memory state. Later calls return ErrShutdown.
func (m *Maestro) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	m.closed = true
	m.stopSweepLocked()
	inflight := len(m.active)
	for _, cancel := range m.active {
		cancel()
	}
	m.mu.Unlock()

	m.cancelBase()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		m.logger.Warn("shutdown timed out waiting for executions", slog.Int("in_flight", inflight))
	}

	m.bus.Close()
	m.registry.Clear()
	m.engine.Reset()
	metrics.AgentsRegistered.Set(0)

	m.logger.Info("orchestrator shut down", slog.Int("cancelled_executions", inflight))
	return err
}
