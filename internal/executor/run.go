package executor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/choreography"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/metrics"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// Skip reasons recorded for steps that never ran.
const (
	ReasonConditionNotMet  = "condition not met"
	ReasonDependencyFailed = "dependency failed"
	ReasonTimedOut         = "workflow timed out"
	ReasonAborted          = "execution aborted"
	ReasonUnreachable      = "unreachable"
)

// run is the state of one Run call.
type run struct {
	x             *Executor
	id            string
	wf            *types.Workflow
	correlationID string
	cfg           Config

	// bg carries trace values without cancellation, so transitions are
	// persisted even after the run deadline.
	bg context.Context

	// mu serializes transitions with their events so the event order for a
	// correlation ID equals the transition order.
	mu      sync.Mutex
	rec     *types.WorkflowExecution
	failed  error
	brokeBy error
}

// update commits fn to the execution and publishes payloads while holding
// the run lock.
func (r *run) update(fn func(*types.WorkflowExecution), source string, payloads ...types.EventPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.x.engine.UpdateExecution(r.bg, r.id, func(rec *types.WorkflowExecution) error {
		fn(rec)
		return nil
	})
	if err != nil {
		if r.brokeBy == nil {
			r.brokeBy = err
		}
		r.x.logger.Error("failed to update execution",
			slog.String("execution_id", r.id),
			slog.String("error", err.Error()))
		return err
	}
	r.rec = rec
	for _, p := range payloads {
		r.publish(source, p)
	}
	return nil
}

// publish must be called with r.mu held.
func (r *run) publish(source string, payload types.EventPayload) {
	if _, err := r.x.events.Publish(r.bg, types.NewEvent(source, r.correlationID, payload)); err != nil {
		r.x.logger.Warn("failed to publish event",
			slog.String("execution_id", r.id),
			slog.String("type", string(payload.EventType())),
			slog.String("error", err.Error()))
	}
}

func (r *run) snapshot() *types.WorkflowExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.Clone()
}

func (r *run) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *run) broken() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.brokeBy
}

func (r *run) hasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.rec.StepStatuses {
		if st == types.StepPending {
			return true
		}
	}
	return false
}

func depsSatisfied(rec *types.WorkflowExecution, step *types.WorkflowStep) bool {
	for _, dep := range step.Dependencies {
		if !rec.StepStatuses[dep].Satisfies() {
			return false
		}
	}
	return true
}

// nextWave returns the steps to dispatch next, already marked running.
// Steps whose condition is false are skipped on the way, which may unblock
// further steps; nil means nothing is left to run.
func (r *run) nextWave() []dispatched {
	for {
		rec := r.snapshot()
		env := choreography.BuildEnvironment(rec.Variables, rec.StepOutputs)

		progressed := false
		var ready []*types.WorkflowStep
		for i := range r.wf.Steps {
			step := &r.wf.Steps[i]
			if rec.StepStatuses[step.ID] != types.StepPending || !depsSatisfied(rec, step) {
				continue
			}
			if step.Condition != nil {
				ok, err := r.x.engine.EvaluateCondition(step.Condition, env)
				if err != nil {
					r.failStep(step, "", &StepInvocationError{
						StepID:     step.ID,
						Capability: step.Capability,
						Err:        fmt.Errorf("evaluate condition: %w", err),
					})
					return nil
				}
				if !ok {
					r.skipStep(step.ID, ReasonConditionNotMet)
					progressed = true
					continue
				}
			}
			ready = append(ready, step)
		}

		if len(ready) > 0 {
			return r.start(ready, rec)
		}
		if !progressed || r.broken() != nil {
			return nil
		}
	}
}

// start resolves agents and inputs for ready steps and marks them running.
// If any step cannot be resolved it fails and nothing is dispatched.
func (r *run) start(ready []*types.WorkflowStep, rec *types.WorkflowExecution) []dispatched {
	wave := make([]dispatched, 0, len(ready))
	for _, step := range ready {
		agentID, err := r.x.resolveAgent(step)
		if err != nil {
			r.failStep(step, "", &StepInvocationError{StepID: step.ID, Capability: step.Capability, Err: err})
			return nil
		}
		wave = append(wave, dispatched{
			step:    step,
			agentID: agentID,
			inputs:  choreography.SubstituteVariables(step.Inputs, rec.Variables),
		})
	}

	for _, d := range wave {
		if err := r.update(func(rec *types.WorkflowExecution) {
			rec.StepStatuses[d.step.ID] = types.StepRunning
		}, Source, &types.StepStartedPayload{
			ExecutionID: r.id,
			StepID:      d.step.ID,
			AgentID:     d.agentID,
			Capability:  d.step.Capability,
		}); err != nil {
			return nil
		}
	}
	return wave
}

func (r *run) completeStep(d dispatched, out map[string]any, elapsed time.Duration) {
	if err := r.update(func(rec *types.WorkflowExecution) {
		rec.StepStatuses[d.step.ID] = types.StepCompleted
		rec.StepOutputs[d.step.ID] = types.CloneMap(out)
		for k, v := range out {
			rec.Variables[k] = types.CloneValue(v)
		}
	}, d.agentID, &types.StepCompletedPayload{
		ExecutionID: r.id,
		StepID:      d.step.ID,
		AgentID:     d.agentID,
		Output:      types.CloneMap(out),
		Duration:    elapsed,
	}); err != nil {
		return
	}
	metrics.StepsTotal.WithLabelValues(string(types.StepCompleted)).Inc()
}

// failStep records the failure. The first failure stops scheduling.
func (r *run) failStep(step *types.WorkflowStep, agentID string, stepErr *StepInvocationError) {
	source := agentID
	if source == "" {
		source = Source
	}
	_ = r.update(func(rec *types.WorkflowExecution) {
		rec.StepStatuses[step.ID] = types.StepFailed
		rec.StepErrors[step.ID] = stepErr.Error()
	}, source, &types.StepFailedPayload{
		ExecutionID: r.id,
		StepID:      step.ID,
		AgentID:     agentID,
		Error:       stepErr.Error(),
	})

	r.mu.Lock()
	if r.failed == nil {
		r.failed = stepErr
	}
	r.mu.Unlock()

	metrics.StepsTotal.WithLabelValues(string(types.StepFailed)).Inc()
	r.x.logger.Warn("step failed",
		slog.String("execution_id", r.id),
		slog.String("step_id", step.ID),
		slog.String("agent_id", agentID),
		slog.String("error", stepErr.Error()))
}

func (r *run) skipStep(stepID, reason string) {
	if err := r.update(func(rec *types.WorkflowExecution) {
		rec.StepStatuses[stepID] = types.StepSkipped
	}, Source, &types.StepSkippedPayload{ExecutionID: r.id, StepID: stepID, Reason: reason}); err != nil {
		return
	}
	metrics.StepsTotal.WithLabelValues(string(types.StepSkipped)).Inc()
}

// finalize skips every step still pending and moves the execution to its
// terminal state. Runs once per execution.
func (r *run) finalize(timedOut bool, timeout time.Duration) (*types.WorkflowExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, err := choreography.TopologicalOrder(r.wf.ID, r.wf.Steps)
	if err != nil {
		return nil, err
	}
	failure := r.failed
	finishedAt := r.x.now().UTC()

	var skipped []types.EventPayload
	rec, err := r.x.engine.UpdateExecution(r.bg, r.id, func(rec *types.WorkflowExecution) error {
		blocked := make(map[string]bool)
		for _, id := range order {
			switch rec.StepStatuses[id] {
			case types.StepFailed:
				blocked[id] = true
				continue
			case types.StepPending, types.StepRunning:
			default:
				continue
			}

			step, _ := r.wf.Step(id)
			reason := ReasonUnreachable
			switch {
			case slices.ContainsFunc(step.Dependencies, func(dep string) bool { return blocked[dep] }):
				reason = ReasonDependencyFailed
				blocked[id] = true
			case timedOut:
				reason = ReasonTimedOut
			case failure != nil:
				reason = ReasonAborted
			}
			rec.StepStatuses[id] = types.StepSkipped
			skipped = append(skipped, &types.StepSkippedPayload{ExecutionID: r.id, StepID: id, Reason: reason})
		}

		rec.FinishedAt = &finishedAt
		switch {
		case timedOut:
			rec.Status = types.ExecutionFailed
			rec.Error = fmt.Sprintf("workflow timed out after %s", timeout)
		case failure != nil:
			rec.Status = types.ExecutionFailed
			rec.Error = failure.Error()
		default:
			rec.Status = types.ExecutionCompleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.rec = rec

	for _, p := range skipped {
		r.publish(Source, p)
	}
	metrics.StepsTotal.WithLabelValues(string(types.StepSkipped)).Add(float64(len(skipped)))

	duration := rec.Duration()
	if rec.Status == types.ExecutionCompleted {
		r.publish(Source, &types.WorkflowCompletedPayload{
			ExecutionID: r.id,
			WorkflowID:  r.wf.ID,
			Outputs:     outputs(r.wf, rec),
			Duration:    duration,
		})
	} else {
		r.publish(Source, &types.WorkflowFailedPayload{
			ExecutionID: r.id,
			WorkflowID:  r.wf.ID,
			Error:       rec.Error,
			FailedSteps: rec.StepsIn(types.StepFailed),
			Duration:    duration,
		})
	}

	metrics.ExecutionsTotal.WithLabelValues(string(rec.Status)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(rec.Status)).Observe(duration.Seconds())
	r.x.logger.Info("execution finished",
		slog.String("execution_id", r.id),
		slog.String("workflow_id", r.wf.ID),
		slog.String("status", string(rec.Status)),
		slog.Duration("duration", duration))

	return rec.Clone(), nil
}

// outputs picks the expected outputs from the variables, or returns all of
// them when the workflow declares none.
func outputs(wf *types.Workflow, rec *types.WorkflowExecution) map[string]any {
	if len(wf.ExpectedOutputs) == 0 {
		return types.CloneMap(rec.Variables)
	}
	out := make(map[string]any, len(wf.ExpectedOutputs))
	for name := range wf.ExpectedOutputs {
		if v, ok := rec.Variables[name]; ok {
			out[name] = types.CloneValue(v)
		}
	}
	return out
}
