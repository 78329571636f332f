// Package choreography holds workflow definitions and execution records:
// validation, variable substitution and condition evaluation.
package choreography

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	Save(ctx context.Context, wf *types.Workflow) error
	List(ctx context.Context) ([]*types.Workflow, error)
}

// ExecutionStore persists execution snapshots.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *types.WorkflowExecution) error
}

// ExecutionOptions seed a new execution.
type ExecutionOptions struct {
	// CorrelationID groups the execution's events. Generated when empty.
	CorrelationID     string
	ParentExecutionID string

	// Inputs overlay the workflow's initial inputs.
	Inputs   map[string]any
	Metadata map[string]string
}

type execution struct {
	mu sync.Mutex
	// workflow is the definition as it was when the execution was created.
	workflow *types.Workflow
	rec      *types.WorkflowExecution
}

// Engine owns workflow definitions and execution records. Safe for
// concurrent use; every returned value is a copy.
type Engine struct {
	mu         sync.RWMutex
	workflows  map[string]*types.Workflow
	executions map[string]*execution

	flows  WorkflowStore
	runs   ExecutionStore
	schema SchemaValidator
	expr   *ExprEvaluator
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkflowStore persists definitions on define and update.
func WithWorkflowStore(s WorkflowStore) Option {
	return func(e *Engine) { e.flows = s }
}

// WithExecutionStore persists a snapshot after every execution update.
func WithExecutionStore(s ExecutionStore) Option {
	return func(e *Engine) { e.runs = s }
}

// WithSchemaValidator adds schema validation ahead of structural checks.
func WithSchemaValidator(v SchemaValidator) Option {
	return func(e *Engine) { e.schema = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an empty engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workflows:  make(map[string]*types.Workflow),
		executions: make(map[string]*execution),
		expr:       NewExprEvaluator(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) validate(wf *types.Workflow) error {
	if e.schema != nil {
		if err := e.schema.ValidateWorkflow(wf); err != nil {
			return &DefinitionError{WorkflowID: wf.ID, Reason: err.Error()}
		}
	}
	return validateWorkflow(wf, e.expr)
}

// DefineWorkflow validates and stores a new workflow. On any error nothing
// is stored.
func (e *Engine) DefineWorkflow(ctx context.Context, wf *types.Workflow) (*types.Workflow, error) {
	if wf == nil {
		return nil, &DefinitionError{Reason: "workflow is required"}
	}
	stored := wf.Clone()
	if err := e.validate(stored); err != nil {
		return nil, err
	}
	if stored.Name == "" {
		stored.Name = stored.ID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.workflows[stored.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateWorkflow, stored.ID)
	}

	now := e.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if e.flows != nil {
		if err := e.flows.Save(ctx, stored); err != nil {
			return nil, fmt.Errorf("persist workflow %s: %w", stored.ID, err)
		}
	}
	e.workflows[stored.ID] = stored

	e.logger.Info("workflow defined",
		slog.String("workflow_id", stored.ID),
		slog.Int("steps", len(stored.Steps)))
	return stored.Clone(), nil
}

// UpdateWorkflow merges upd into an existing workflow and re-validates it.
// Executions already created keep the definition they started with.
func (e *Engine) UpdateWorkflow(ctx context.Context, id string, upd *types.WorkflowUpdate) (*types.Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if upd == nil {
		return current.Clone(), nil
	}

	next := current.Clone()
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.Version != nil {
		next.Version = *upd.Version
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.Steps != nil {
		next.Steps = make([]types.WorkflowStep, len(upd.Steps))
		for i, s := range upd.Steps {
			next.Steps[i] = s.Clone()
		}
	}
	if upd.InitialInputs != nil {
		next.InitialInputs = types.CloneMap(upd.InitialInputs)
	}
	if upd.ExpectedOutputs != nil {
		next.ExpectedOutputs = maps.Clone(upd.ExpectedOutputs)
	}

	if upd.Steps != nil {
		if err := e.validate(next); err != nil {
			return nil, err
		}
	}
	next.UpdatedAt = e.now().UTC()

	if e.flows != nil {
		if err := e.flows.Save(ctx, next); err != nil {
			return nil, fmt.Errorf("persist workflow %s: %w", id, err)
		}
	}
	e.workflows[id] = next

	e.logger.Info("workflow updated", slog.String("workflow_id", id))
	return next.Clone(), nil
}

// GetWorkflow returns a copy of the workflow.
func (e *Engine) GetWorkflow(id string) (*types.Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	wf, ok := e.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf.Clone(), nil
}

// ListWorkflows returns every workflow ordered by ID.
func (e *Engine) ListWorkflows() []*types.Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*types.Workflow, 0, len(e.workflows))
	for _, wf := range e.workflows {
		out = append(out, wf.Clone())
	}
	slices.SortFunc(out, func(a, b *types.Workflow) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// WorkflowCount returns the number of defined workflows.
func (e *Engine) WorkflowCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.workflows)
}

// Restore loads definitions from the workflow store. Invalid or already
// defined workflows are skipped.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.flows == nil {
		return 0, nil
	}
	stored, err := e.flows.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load workflows: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, wf := range stored {
		if err := e.validate(wf); err != nil {
			e.logger.Warn("skipping stored workflow", slog.String("workflow_id", wf.ID), slog.String("error", err.Error()))
			continue
		}
		if _, exists := e.workflows[wf.ID]; exists {
			continue
		}
		e.workflows[wf.ID] = wf.Clone()
		n++
	}
	return n, nil
}

// CreateExecution creates a pending execution of the workflow. Variables
// start as a copy of the workflow's initial inputs overlaid with
// opts.Inputs, and every step is pending.
func (e *Engine) CreateExecution(ctx context.Context, workflowID string, opts ExecutionOptions) (*types.WorkflowExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wf, ok := e.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	vars := types.CloneMap(wf.InitialInputs)
	if vars == nil {
		vars = make(map[string]any, len(opts.Inputs))
	}
	for k, v := range opts.Inputs {
		vars[k] = types.CloneValue(v)
	}

	statuses := make(map[string]types.StepStatus, len(wf.Steps))
	for _, s := range wf.Steps {
		statuses[s.ID] = types.StepPending
	}

	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	rec := &types.WorkflowExecution{
		ID:                uuid.New().String(),
		WorkflowID:        workflowID,
		CorrelationID:     correlationID,
		ParentExecutionID: opts.ParentExecutionID,
		Status:            types.ExecutionPending,
		Variables:         vars,
		StepOutputs:       make(map[string]map[string]any),
		StepStatuses:      statuses,
		StepErrors:        make(map[string]string),
		Metadata:          maps.Clone(opts.Metadata),
		CreatedAt:         e.now().UTC(),
	}
	e.executions[rec.ID] = &execution{workflow: wf.Clone(), rec: rec}
	e.persist(ctx, rec)

	return rec.Clone(), nil
}

func (e *Engine) lookupExecution(id string) (*execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ex, ok := e.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return ex, nil
}

// GetExecution returns a snapshot of the execution.
func (e *Engine) GetExecution(id string) (*types.WorkflowExecution, error) {
	ex, err := e.lookupExecution(id)
	if err != nil {
		return nil, err
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.rec.Clone(), nil
}

// ExecutionWorkflow returns the definition the execution was created from.
func (e *Engine) ExecutionWorkflow(id string) (*types.Workflow, error) {
	ex, err := e.lookupExecution(id)
	if err != nil {
		return nil, err
	}
	return ex.workflow.Clone(), nil
}

// QueryExecutions returns snapshots matching filter, oldest first. A
// positive Limit keeps the most recent matches.
func (e *Engine) QueryExecutions(filter types.ExecutionFilter) []*types.WorkflowExecution {
	e.mu.RLock()
	all := make([]*execution, 0, len(e.executions))
	for _, ex := range e.executions {
		all = append(all, ex)
	}
	e.mu.RUnlock()

	out := make([]*types.WorkflowExecution, 0)
	for _, ex := range all {
		ex.mu.Lock()
		if filter.Match(ex.rec) {
			out = append(out, ex.rec.Clone())
		}
		ex.mu.Unlock()
	}

	slices.SortFunc(out, func(a, b *types.WorkflowExecution) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// UpdateExecution applies fn to a copy of the record under the execution's
// lock and commits it if fn succeeds. A finished execution cannot change.
func (e *Engine) UpdateExecution(ctx context.Context, id string, fn func(*types.WorkflowExecution) error) (*types.WorkflowExecution, error) {
	ex, err := e.lookupExecution(id)
	if err != nil {
		return nil, err
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.rec.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrExecutionFinished, id)
	}
	next := ex.rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	ex.rec = next
	e.persist(ctx, next)
	return next.Clone(), nil
}

// ActiveCount returns the number of executions not yet finished.
func (e *Engine) ActiveCount() int {
	return len(e.QueryExecutions(types.ExecutionFilter{
		Statuses: []types.ExecutionStatus{types.ExecutionPending, types.ExecutionRunning},
	}))
}

// Reset drops every workflow and execution from memory.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows = make(map[string]*types.Workflow)
	e.executions = make(map[string]*execution)
}

func (e *Engine) persist(ctx context.Context, rec *types.WorkflowExecution) {
	if e.runs == nil {
		return
	}
	if err := e.runs.SaveExecution(ctx, rec); err != nil {
		e.logger.Warn("failed to persist execution",
			slog.String("execution_id", rec.ID),
			slog.String("error", err.Error()))
	}
}
