package choreography

import (
	"fmt"
	"strings"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// SchemaValidator checks a workflow document against a schema before the
// structural checks run.
type SchemaValidator interface {
	ValidateWorkflow(wf *types.Workflow) error
}

// ValidateWorkflow runs the structural checks a definition must pass:
// unique step IDs, a capability on every step, known dependencies,
// well-formed conditions and an acyclic dependency graph.
func ValidateWorkflow(wf *types.Workflow) error {
	return validateWorkflow(wf, NewExprEvaluator())
}

func validateWorkflow(wf *types.Workflow, ev *ExprEvaluator) error {
	if wf == nil {
		return &DefinitionError{Reason: "workflow is required"}
	}
	if strings.TrimSpace(wf.ID) == "" {
		return &DefinitionError{Reason: "workflow ID is required"}
	}

	ids := make(map[string]struct{}, len(wf.Steps))
	for _, s := range wf.Steps {
		if strings.TrimSpace(s.ID) == "" {
			return &DefinitionError{WorkflowID: wf.ID, Reason: "step ID is required"}
		}
		if _, dup := ids[s.ID]; dup {
			return &DefinitionError{WorkflowID: wf.ID, StepID: s.ID, Reason: "duplicate step ID"}
		}
		ids[s.ID] = struct{}{}
	}

	for _, s := range wf.Steps {
		if s.Capability == "" {
			return &DefinitionError{WorkflowID: wf.ID, StepID: s.ID, Reason: "capability is required"}
		}
		for _, d := range s.Dependencies {
			if _, ok := ids[d]; !ok {
				return &DefinitionError{WorkflowID: wf.ID, StepID: s.ID, Reason: fmt.Sprintf("unknown dependency %q", d)}
			}
		}
		if s.Condition != nil {
			if err := validateCondition(s.Condition, ev); err != nil {
				return &DefinitionError{WorkflowID: wf.ID, StepID: s.ID, Reason: err.Error()}
			}
		}
	}

	if cycle := findCycle(wf.Steps); cycle != nil {
		return &CircularDependencyError{WorkflowID: wf.ID, Cycle: cycle}
	}
	return nil
}
