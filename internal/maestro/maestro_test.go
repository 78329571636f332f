package maestro

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/choreography"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/flowstore"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/health"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/invoke"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/registry"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/runstore"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

type recordingArchiver struct {
	mu       sync.Mutex
	archived map[string]int // execution ID -> event count
}

func (a *recordingArchiver) Archive(_ context.Context, exec *types.WorkflowExecution, events []types.ChoreographyEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.archived == nil {
		a.archived = make(map[string]int)
	}
	a.archived[exec.ID] = len(events)
	return nil
}

func (a *recordingArchiver) count(id string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.archived[id]
	return n, ok
}

// blockingArchiver holds every archive write until release is closed.
type blockingArchiver struct {
	entered chan string
	release chan struct{}
}

func (a *blockingArchiver) Archive(ctx context.Context, exec *types.WorkflowExecution, _ []types.ChoreographyEvent) error {
	select {
	case a.entered <- exec.ID:
	default:
	}
	select {
	case <-a.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newMaestro(t *testing.T, cfg Config, calls *invoke.CallTable, opts ...Option) *Maestro {
	t.Helper()
	m, err := New(cfg, calls, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func worker(id string, caps ...string) *types.RegisteredAgent {
	agent := &types.RegisteredAgent{ID: id, Type: "worker", Name: id}
	for _, c := range caps {
		agent.Capabilities = append(agent.Capabilities, types.AgentCapability{ID: c, Name: c})
	}
	return agent
}

func waitFinished(t *testing.T, m *Maestro, id string) *types.WorkflowExecution {
	t.Helper()
	var rec *types.WorkflowExecution
	require.Eventually(t, func() bool {
		var err error
		rec, err = m.GetExecution(id)
		return err == nil && rec.Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	return rec
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkflows = 0
	_, err := New(cfg, invoke.NewCallTable())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestAgents(t *testing.T) {
	m := newMaestro(t, DefaultConfig(), invoke.NewCallTable())
	ctx := context.Background()

	_, err := m.RegisterAgent(ctx, worker("a1", "search"))
	require.NoError(t, err)

	dup := worker("a1", "other")
	_, err = m.RegisterAgent(ctx, dup)
	assert.ErrorIs(t, err, registry.ErrDuplicateAgent)
	got, err := m.GetAgent("a1")
	require.NoError(t, err)
	assert.Equal(t, "search", got.Capabilities[0].ID, "original registration must be unchanged")

	require.NoError(t, m.UpdateAgentStatus(ctx, "a1", types.AgentStatusBusy, "manual"))
	require.NoError(t, m.UpdateAgentStatus(ctx, "a1", types.AgentStatusBusy, "manual"))

	removed, err := m.DeregisterAgent(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = m.DeregisterAgent(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, removed)

	history, err := m.GetEventHistory(types.EventFilter{})
	require.NoError(t, err)
	var kinds []types.EventType
	for _, e := range history {
		kinds = append(kinds, e.Type)
	}
	assert.Equal(t, []types.EventType{
		types.EventAgentRegistered,
		types.EventAgentStatusChanged,
		types.EventAgentDeregistered,
	}, kinds)
}

func TestDefineWorkflow_RejectsCycle(t *testing.T) {
	m := newMaestro(t, DefaultConfig(), invoke.NewCallTable())
	ctx := context.Background()

	_, err := m.DefineWorkflow(ctx, &types.Workflow{
		ID:   "loop",
		Name: "Loop",
		Steps: []types.WorkflowStep{
			{ID: "a", Capability: "x", Dependencies: []string{"b"}},
			{ID: "b", Capability: "x", Dependencies: []string{"a"}},
		},
	})
	var cycle *choreography.CircularDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.ErrorIs(t, err, choreography.ErrDefinition)

	_, err = m.GetWorkflow("loop")
	assert.ErrorIs(t, err, choreography.ErrWorkflowNotFound)

	history, _ := m.GetEventHistory(types.EventFilter{})
	assert.Empty(t, history)
}

func TestExecuteWorkflow_EndToEnd(t *testing.T) {
	calls := invoke.NewCallTable()
	calls.Handle("", "search", func(_ context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"results": []any{in["q"]}}, nil
	})
	calls.Handle("", "summarize", func(_ context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"summary": "ok"}, nil
	})

	flows := flowstore.NewMemoryStore()
	runs := runstore.NewMemoryStore(nil)
	archive := &recordingArchiver{}
	m := newMaestro(t, DefaultConfig(), calls,
		WithWorkflowStore(flows),
		WithExecutionStore(runs),
		WithArchiver(archive))
	ctx := context.Background()

	_, err := m.RegisterAgent(ctx, worker("w1", "search", "summarize"))
	require.NoError(t, err)
	_, err = m.DefineWorkflow(ctx, &types.Workflow{
		ID:            "research",
		Name:          "Research",
		InitialInputs: map[string]any{"query": "golang"},
		Steps: []types.WorkflowStep{
			{ID: "search", Capability: "search", Inputs: map[string]any{"q": "${query}"}},
			{ID: "summarize", Capability: "summarize", Inputs: map[string]any{"docs": "${results}"}, Dependencies: []string{"search"}},
		},
	})
	require.NoError(t, err)

	pending, err := m.ExecuteWorkflow(ctx, "research", ExecuteOptions{CorrelationID: "corr-1"})
	require.NoError(t, err)
	assert.Equal(t, "corr-1", pending.CorrelationID)

	final := waitFinished(t, m, pending.ID)
	assert.Equal(t, types.ExecutionCompleted, final.Status)
	assert.Equal(t, "ok", final.Variables["summary"])

	// Archiving happens after the terminal event is published.
	var archived int
	require.Eventually(t, func() bool {
		n, ok := archive.count(pending.ID)
		archived = n
		return ok
	}, time.Second, 5*time.Millisecond)

	events, err := m.GetEventsByCorrelation("corr-1")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Len(t, events, archived)
	assert.Equal(t, types.EventWorkflowStarted, events[0].Type)
	assert.Equal(t, types.EventWorkflowCompleted, events[len(events)-1].Type)

	snap, err := runs.GetExecution(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, snap.Status)

	stored, err := flows.Get(ctx, "research")
	require.NoError(t, err)
	assert.Len(t, stored.Steps, 2)

	metricsSnap, err := m.GetMetrics()
	require.NoError(t, err)
	assert.Equal(t, 1, metricsSnap.TotalWorkflows)
	assert.Equal(t, 1, metricsSnap.CompletedWorkflows)
	assert.Equal(t, 1.0, metricsSnap.SuccessRate)
	assert.Equal(t, 1, metricsSnap.RegisteredAgents)
	assert.Equal(t, 1, metricsSnap.DefinedWorkflows)
}

func TestExecuteWorkflow_Capacity(t *testing.T) {
	release := make(chan struct{})
	calls := invoke.NewCallTable()
	calls.Handle("", "block", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-release:
			return map[string]any{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkflows = 1
	m := newMaestro(t, cfg, calls)
	ctx := context.Background()

	_, err := m.RegisterAgent(ctx, worker("w1", "block"))
	require.NoError(t, err)
	_, err = m.DefineWorkflow(ctx, &types.Workflow{ID: "slow", Name: "Slow", Steps: []types.WorkflowStep{{ID: "a", Capability: "block"}}})
	require.NoError(t, err)

	first, err := m.ExecuteWorkflow(ctx, "slow", ExecuteOptions{})
	require.NoError(t, err)

	_, err = m.ExecuteWorkflow(ctx, "slow", ExecuteOptions{})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	all, err := m.QueryExecutions(types.ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "rejected execution must not create a record")

	close(release)
	waitFinished(t, m, first.ID)
	require.Eventually(t, func() bool { return m.ActiveExecutions() == 0 }, time.Second, 5*time.Millisecond)

	_, err = m.ExecuteWorkflow(ctx, "slow", ExecuteOptions{})
	assert.NoError(t, err)
}

func TestExecuteWorkflow_TerminalExecutionFreesSlot(t *testing.T) {
	calls := invoke.NewCallTable()
	calls.Handle("", "work", func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	archiver := &blockingArchiver{entered: make(chan string, 1), release: make(chan struct{})}
	defer close(archiver.release)

	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkflows = 1
	m := newMaestro(t, cfg, calls, WithArchiver(archiver))
	ctx := context.Background()

	_, err := m.RegisterAgent(ctx, worker("w1", "work"))
	require.NoError(t, err)
	_, err = m.DefineWorkflow(ctx, &types.Workflow{ID: "quick", Name: "Quick", Steps: []types.WorkflowStep{{ID: "a", Capability: "work"}}})
	require.NoError(t, err)

	first, err := m.ExecuteWorkflow(ctx, "quick", ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, waitFinished(t, m, first.ID).Status)

	// The first execution is terminal but still being archived.
	select {
	case id := <-archiver.entered:
		assert.Equal(t, first.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("archiver was not called")
	}

	snap, err := m.GetMetrics()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ActiveExecutions)
	assert.Equal(t, snap.ActiveExecutions, m.ActiveExecutions())

	second, err := m.ExecuteWorkflow(ctx, "quick", ExecuteOptions{})
	require.NoError(t, err, "a terminal execution must not hold a slot")
	waitFinished(t, m, second.ID)
}

func TestExecuteWorkflow_CausalOrderUnderLoad(t *testing.T) {
	const executions = 50

	calls := invoke.NewCallTable()
	calls.Handle("", "slow", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-time.After(2 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return map[string]any{"a_done": true}, nil
	})
	calls.Handle("", "fast", func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	m := newMaestro(t, DefaultConfig(), calls)
	ctx := context.Background()

	_, err := m.RegisterAgent(ctx, worker("w1", "slow", "fast"))
	require.NoError(t, err)
	_, err = m.DefineWorkflow(ctx, &types.Workflow{
		ID:   "ordered",
		Name: "Ordered",
		Steps: []types.WorkflowStep{
			{ID: "a", Capability: "slow"},
			{ID: "b", Capability: "fast", Dependencies: []string{"a"}},
			{ID: "side", Capability: "fast"},
		},
	})
	require.NoError(t, err)

	ids := make([]string, executions)
	var wg sync.WaitGroup
	errs := make(chan error, executions)
	for i := range executions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := m.ExecuteWorkflow(ctx, "ordered", ExecuteOptions{})
			if err != nil {
				errs <- err
				return
			}
			ids[i] = rec.ID
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, id := range ids {
		final := waitFinished(t, m, id)
		require.Equal(t, types.ExecutionCompleted, final.Status)

		events, err := m.GetEventsByCorrelation(final.CorrelationID)
		require.NoError(t, err)
		completedA, startedB := -1, -1
		for i, e := range events {
			switch p := e.Payload.(type) {
			case *types.StepCompletedPayload:
				if p.StepID == "a" {
					completedA = i
				}
			case *types.StepStartedPayload:
				if p.StepID == "b" {
					startedB = i
				}
			}
		}
		require.GreaterOrEqual(t, completedA, 0, id)
		assert.Less(t, completedA, startedB, "execution %s: b started before a completed", id)
	}
}

func TestExecuteWorkflow_CorrelationIsolation(t *testing.T) {
	calls := invoke.NewCallTable()
	calls.Handle("", "work", func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	})
	m := newMaestro(t, DefaultConfig(), calls)
	ctx := context.Background()

	_, err := m.RegisterAgent(ctx, worker("w1", "work"))
	require.NoError(t, err)
	_, err = m.DefineWorkflow(ctx, &types.Workflow{
		ID:   "pair",
		Name: "Pair",
		Steps: []types.WorkflowStep{
			{ID: "a", Capability: "work"},
			{ID: "b", Capability: "work", Dependencies: []string{"a"}},
		},
	})
	require.NoError(t, err)

	ids := make(map[string]string)
	for _, corr := range []string{"left", "right"} {
		rec, err := m.ExecuteWorkflow(ctx, "pair", ExecuteOptions{CorrelationID: corr})
		require.NoError(t, err)
		ids[corr] = rec.ID
	}
	for corr, id := range ids {
		waitFinished(t, m, id)
		events, err := m.GetEventsByCorrelation(corr)
		require.NoError(t, err)

		var lastSeq uint64
		completedA := -1
		startedB := -1
		for i, e := range events {
			assert.Equal(t, corr, e.CorrelationID)
			assert.Greater(t, e.Sequence, lastSeq)
			lastSeq = e.Sequence
			switch p := e.Payload.(type) {
			case *types.StepCompletedPayload:
				assert.Equal(t, id, p.ExecutionID)
				if p.StepID == "a" {
					completedA = i
				}
			case *types.StepStartedPayload:
				if p.StepID == "b" {
					startedB = i
				}
			}
		}
		assert.Less(t, completedA, startedB, "a must complete before b starts")
	}
}

func TestExecuteWorkflow_UnknownWorkflow(t *testing.T) {
	m := newMaestro(t, DefaultConfig(), invoke.NewCallTable())
	_, err := m.ExecuteWorkflow(context.Background(), "ghost", ExecuteOptions{})
	assert.ErrorIs(t, err, choreography.ErrWorkflowNotFound)
	assert.Equal(t, 0, m.ActiveExecutions())
}

func TestUpdateConfig(t *testing.T) {
	var level slog.LevelVar
	m := newMaestro(t, DefaultConfig(), invoke.NewCallTable(), WithLevelVar(&level))

	bad := 0
	_, err := m.UpdateConfig(ConfigUpdate{MaxConcurrentWorkflows: &bad})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	cfg, _ := m.GetConfig()
	assert.Equal(t, 100, cfg.MaxConcurrentWorkflows, "rejected update must not apply")

	unknown := "loud"
	_, err = m.UpdateConfig(ConfigUpdate{LogLevel: &unknown})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	debug := "debug"
	limit := 5
	timeout := time.Minute
	rollback := true
	cfg, err = m.UpdateConfig(ConfigUpdate{
		LogLevel:               &debug,
		MaxConcurrentWorkflows: &limit,
		DefaultWorkflowTimeout: &timeout,
		EnableRollback:         &rollback,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxConcurrentWorkflows)
	assert.Equal(t, time.Minute, cfg.DefaultWorkflowTimeout)
	assert.True(t, cfg.EnableRollback)
	assert.Equal(t, slog.LevelDebug, level.Level())
	assert.Equal(t, 10*time.Second, cfg.AgentTimeout, "unset fields keep their value")
}

func TestSweepHealth(t *testing.T) {
	prober := health.Func(func(_ context.Context, agent *types.RegisteredAgent) (bool, error) {
		switch agent.ID {
		case "sick":
			return false, nil
		case "gone":
			return false, errors.New("connection refused")
		}
		return true, nil
	})
	cfg := DefaultConfig()
	cfg.HealthCheckInterval = 0
	m := newMaestro(t, cfg, invoke.NewCallTable(), WithProber(prober))
	ctx := context.Background()

	for _, a := range []*types.RegisteredAgent{worker("fine"), worker("sick"), worker("gone"), worker("recovering"), worker("busy")} {
		_, err := m.RegisterAgent(ctx, a)
		require.NoError(t, err)
	}
	require.NoError(t, m.UpdateAgentStatus(ctx, "recovering", types.AgentStatusOffline, "test"))
	require.NoError(t, m.UpdateAgentStatus(ctx, "busy", types.AgentStatusBusy, "test"))

	require.NoError(t, m.SweepHealth(ctx))

	want := map[string]types.AgentStatus{
		"fine":       types.AgentStatusOnline,
		"sick":       types.AgentStatusOffline,
		"gone":       types.AgentStatusOffline,
		"recovering": types.AgentStatusOnline,
		"busy":       types.AgentStatusBusy,
	}
	for id, status := range want {
		got, err := m.GetAgent(id)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status, id)
	}

	metricsSnap, err := m.GetMetrics()
	require.NoError(t, err)
	assert.Equal(t, 1.0, metricsSnap.AgentHealthScores["fine"])
	assert.Equal(t, 0.0, metricsSnap.AgentHealthScores["gone"])

	// A second sweep finds nothing to change.
	require.NoError(t, m.SweepHealth(ctx))
	changes, err := m.GetEventHistory(types.EventFilter{Types: []types.EventType{types.EventAgentStatusChanged}})
	require.NoError(t, err)
	var healthChanges int
	for _, e := range changes {
		if e.Payload.(*types.AgentStatusChangedPayload).Reason == reasonHealthCheck {
			healthChanges++
		}
	}
	assert.Equal(t, 3, healthChanges, "only actual transitions publish events")
}

func TestShutdown(t *testing.T) {
	started := make(chan struct{})
	calls := invoke.NewCallTable()
	calls.Handle("", "wait", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	m, err := New(DefaultConfig(), calls)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	ctx := context.Background()

	_, err = m.RegisterAgent(ctx, worker("w1", "wait"))
	require.NoError(t, err)
	_, err = m.DefineWorkflow(ctx, &types.Workflow{ID: "wf", Name: "Wf", Steps: []types.WorkflowStep{{ID: "a", Capability: "wait"}}})
	require.NoError(t, err)
	_, err = m.ExecuteWorkflow(ctx, "wf", ExecuteOptions{})
	require.NoError(t, err)
	<-started

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))
	assert.Equal(t, 0, m.ActiveExecutions())

	_, err = m.GetAgent("w1")
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = m.ExecuteWorkflow(ctx, "wf", ExecuteOptions{})
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = m.GetConfig()
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, m.Shutdown(ctx), ErrShutdown)
	assert.ErrorIs(t, m.Initialize(ctx), ErrShutdown)
}
