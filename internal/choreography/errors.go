package choreography

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the Engine.
var (
	ErrDuplicateWorkflow = errors.New("workflow already defined")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrDefinition is the root of every workflow definition error.
	ErrDefinition = errors.New("invalid workflow definition")
)

// DefinitionError describes a structurally invalid workflow or condition.
type DefinitionError struct {
	WorkflowID string
	StepID     string
	Reason     string
}

func (e *DefinitionError) Error() string {
	var b strings.Builder
	b.WriteString("invalid workflow")
	if e.WorkflowID != "" {
		fmt.Fprintf(&b, " %s", e.WorkflowID)
	}
	if e.StepID != "" {
		fmt.Fprintf(&b, ": step %s", e.StepID)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *DefinitionError) Unwrap() error { return ErrDefinition }

// CircularDependencyError reports a dependency cycle. Cycle lists step IDs
// along the cycle, starting and ending with the same step.
type CircularDependencyError struct {
	WorkflowID string
	Cycle      []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("workflow %s: circular dependency: %s", e.WorkflowID, strings.Join(e.Cycle, " -> "))
}

func (e *CircularDependencyError) Unwrap() error { return ErrDefinition }
