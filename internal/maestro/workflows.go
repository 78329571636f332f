package maestro

import (
	"context"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/executor"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

func author(wf *types.Workflow) string {
	if wf.CreatedBy != "" {
		return wf.CreatedBy
	}
	return executor.Source
}

// DefineWorkflow validates and stores a workflow, then publishes
// workflow:defined. Nothing is stored when validation fails.
func (m *Maestro) DefineWorkflow(ctx context.Context, wf *types.Workflow) (*types.Workflow, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	stored, err := m.engine.DefineWorkflow(ctx, wf)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, author(stored), "", &types.WorkflowDefinedPayload{
		WorkflowID: stored.ID,
		Name:       stored.Name,
		Version:    stored.Version,
		StepCount:  len(stored.Steps),
	})
	return stored, nil
}

// UpdateWorkflow applies upd to a stored workflow. Running executions keep
// the definition they started with.
func (m *Maestro) UpdateWorkflow(ctx context.Context, id string, upd *types.WorkflowUpdate) (*types.Workflow, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	stored, err := m.engine.UpdateWorkflow(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, author(stored), "", &types.WorkflowUpdatedPayload{
		WorkflowID: stored.ID,
		Version:    stored.Version,
		StepCount:  len(stored.Steps),
	})
	return stored, nil
}

// GetWorkflow returns a workflow by ID.
func (m *Maestro) GetWorkflow(id string) (*types.Workflow, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	return m.engine.GetWorkflow(id)
}

// ListWorkflows returns every defined workflow ordered by ID.
func (m *Maestro) ListWorkflows() ([]*types.Workflow, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	return m.engine.ListWorkflows(), nil
}
