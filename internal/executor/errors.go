package executor

import (
	"errors"
	"fmt"
)

// ErrNoAgent is returned when no registered agent can serve a step.
var ErrNoAgent = errors.New("no agent available")

// StepInvocationError records why a step failed.
type StepInvocationError struct {
	StepID     string
	AgentID    string
	Capability string
	Err        error
}

func (e *StepInvocationError) Error() string {
	if e.AgentID == "" {
		return fmt.Sprintf("step %s (%s): %v", e.StepID, e.Capability, e.Err)
	}
	return fmt.Sprintf("step %s (%s on %s): %v", e.StepID, e.Capability, e.AgentID, e.Err)
}

func (e *StepInvocationError) Unwrap() error { return e.Err }
