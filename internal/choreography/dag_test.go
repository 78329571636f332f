package choreography

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

func step(id string, deps ...string) types.WorkflowStep {
	return types.WorkflowStep{ID: id, Capability: "cap", Dependencies: deps}
}

func TestValidateWorkflow(t *testing.T) {
	tests := []struct {
		name      string
		steps     []types.WorkflowStep
		wantCycle []string
		wantErr   bool
	}{
		{name: "empty workflow", steps: nil},
		{name: "single step", steps: []types.WorkflowStep{step("a")}},
		{name: "chain", steps: []types.WorkflowStep{step("a"), step("b", "a"), step("c", "b")}},
		{name: "diamond", steps: []types.WorkflowStep{step("a"), step("b", "a"), step("c", "a"), step("d", "b", "c")}},
		{name: "declared out of order", steps: []types.WorkflowStep{step("c", "b"), step("b", "a"), step("a")}},
		{name: "self dependency", steps: []types.WorkflowStep{step("a", "a")}, wantCycle: []string{"a", "a"}},
		{name: "two-cycle", steps: []types.WorkflowStep{step("a", "b"), step("b", "a")}, wantCycle: []string{"a", "b", "a"}},
		{
			name:      "three-cycle behind a root",
			steps:     []types.WorkflowStep{step("root"), step("a", "root", "c"), step("b", "a"), step("c", "b")},
			wantCycle: []string{"a", "c", "b", "a"},
		},
		{name: "disconnected islands", steps: []types.WorkflowStep{step("a"), step("b", "a"), step("x"), step("y", "x"), step("lone")}},
		{
			name:      "acyclic island beside a cyclic one",
			steps:     []types.WorkflowStep{step("a"), step("b", "a"), step("x", "y"), step("y", "x")},
			wantCycle: []string{"x", "y", "x"},
		},
		{name: "unknown dependency", steps: []types.WorkflowStep{step("a", "ghost")}, wantErr: true},
		{name: "duplicate step", steps: []types.WorkflowStep{step("a"), step("a")}, wantErr: true},
		{name: "missing capability", steps: []types.WorkflowStep{{ID: "a"}}, wantErr: true},
		{name: "empty step ID", steps: []types.WorkflowStep{{Capability: "x"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWorkflow(&types.Workflow{ID: "wf", Steps: tt.steps})

			switch {
			case tt.wantCycle != nil:
				var cycleErr *CircularDependencyError
				if !errors.As(err, &cycleErr) {
					t.Fatalf("expected CircularDependencyError, got %v", err)
				}
				if !reflect.DeepEqual(cycleErr.Cycle, tt.wantCycle) {
					t.Errorf("expected cycle %v, got %v", tt.wantCycle, cycleErr.Cycle)
				}
				if !errors.Is(err, ErrDefinition) {
					t.Error("cycle errors should unwrap to ErrDefinition")
				}
			case tt.wantErr:
				var defErr *DefinitionError
				if !errors.As(err, &defErr) {
					t.Fatalf("expected DefinitionError, got %v", err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestExecutionLevels(t *testing.T) {
	steps := []types.WorkflowStep{step("d", "b", "c"), step("b", "a"), step("a"), step("c", "a")}

	levels, err := ExecutionLevels("wf", steps)
	if err != nil {
		t.Fatalf("ExecutionLevels failed: %v", err)
	}
	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("expected %v, got %v", want, levels)
	}

	order, err := TopologicalOrder("wf", steps)
	if err != nil {
		t.Fatalf("TopologicalOrder failed: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"a", "b", "c", "d"}) {
		t.Errorf("unexpected order %v", order)
	}

	if _, err := TopologicalOrder("wf", []types.WorkflowStep{step("a", "b"), step("b", "a")}); err == nil {
		t.Error("expected cycle error")
	}
}
