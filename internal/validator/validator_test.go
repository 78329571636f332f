package validator

import (
	"strings"
	"testing"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

func TestValidator_WorkflowJSON(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name  string
		doc   string
		valid bool
	}{
		{
			name:  "minimal",
			doc:   `{"id":"wf","steps":[{"id":"a","capability":"search"}]}`,
			valid: true,
		},
		{
			name: "with condition",
			doc: `{"id":"wf","steps":[{"id":"a","capability":"c","condition":
				{"type":"and","conditions":[{"type":"comparison","variable":"x","operator":"gt","value":1}]}}]}`,
			valid: true,
		},
		{name: "missing id", doc: `{"steps":[]}`, valid: false},
		{name: "step without capability", doc: `{"id":"wf","steps":[{"id":"a"}]}`, valid: false},
		{
			name:  "bad operator",
			doc:   `{"id":"wf","steps":[{"id":"a","capability":"c","condition":{"type":"comparison","variable":"x","operator":"~"}}]}`,
			valid: false,
		},
		{name: "invalid json", doc: `{"id":`, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateWorkflowJSON([]byte(tt.doc))
			if result.Valid != tt.valid {
				t.Errorf("expected valid=%v, got %v (errors: %v)", tt.valid, result.Valid, result.Errors)
			}
			if !tt.valid && len(result.Errors) == 0 {
				t.Error("invalid result should carry errors")
			}
		})
	}
}

func TestValidator_Values(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	wf := &types.Workflow{ID: "wf", Steps: []types.WorkflowStep{{ID: "a", Capability: "c"}}}
	if err := v.ValidateWorkflow(wf); err != nil {
		t.Errorf("valid workflow rejected: %v", err)
	}

	agent := &types.RegisteredAgent{ID: "a1", Type: "planner", Capabilities: []types.AgentCapability{{ID: "plan"}}}
	if err := v.ValidateAgent(agent); err != nil {
		t.Errorf("valid agent rejected: %v", err)
	}

	bad := &types.RegisteredAgent{ID: "a1", Type: "planner", Status: "sleeping"}
	err = v.ValidateAgent(bad)
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
	if !strings.Contains(err.Error(), "/status") {
		t.Errorf("error should name the failing path, got %v", err)
	}
}
