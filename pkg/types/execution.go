package types

import (
	"maps"
	"slices"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal returns true if the execution has finished.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// StepStatus is the state of one step within an execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// IsTerminal returns true if the step will not change again.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// Satisfies reports whether a dependency in this state unblocks dependants.
func (s StepStatus) Satisfies() bool {
	return s == StepCompleted || s == StepSkipped
}

// WorkflowExecution is one run of a workflow.
type WorkflowExecution struct {
	ID                string `json:"id"`
	WorkflowID        string `json:"workflow_id"`
	CorrelationID     string `json:"correlation_id"`
	ParentExecutionID string `json:"parent_execution_id,omitempty"`

	Status ExecutionStatus `json:"status"`

	// Variables start as the workflow's initial inputs and accumulate the
	// fields of every completed step's output.
	Variables map[string]any `json:"variables"`

	StepOutputs  map[string]map[string]any `json:"step_outputs"`
	StepStatuses map[string]StepStatus     `json:"step_statuses"`
	StepErrors   map[string]string         `json:"step_errors,omitempty"`

	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the execution.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Variables = CloneMap(e.Variables)
	if e.StepOutputs != nil {
		cp.StepOutputs = make(map[string]map[string]any, len(e.StepOutputs))
		for k, v := range e.StepOutputs {
			cp.StepOutputs[k] = CloneMap(v)
		}
	}
	cp.StepStatuses = maps.Clone(e.StepStatuses)
	cp.StepErrors = maps.Clone(e.StepErrors)
	cp.Metadata = cloneStrings(e.Metadata)
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// Duration returns the wall-clock run time, or zero if the execution has not
// both started and finished.
func (e *WorkflowExecution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}

// StepsIn returns the IDs of steps in the given status, sorted.
func (e *WorkflowExecution) StepsIn(status StepStatus) []string {
	var ids []string
	for id, s := range e.StepStatuses {
		if s == status {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// ExecutionFilter selects executions. Zero fields match everything.
type ExecutionFilter struct {
	WorkflowID    string            `json:"workflow_id,omitempty"`
	Statuses      []ExecutionStatus `json:"statuses,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Since         time.Time         `json:"since,omitempty"`
	Until         time.Time         `json:"until,omitempty"`
	Limit         int               `json:"limit,omitempty"`
}

// Match reports whether e satisfies the filter, ignoring Limit.
func (f ExecutionFilter) Match(e *WorkflowExecution) bool {
	if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status) {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
		return false
	}
	return true
}
