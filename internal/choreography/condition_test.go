package choreography

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

func cmpCond(variable string, op types.ComparisonOperator, value any) types.Condition {
	return types.Condition{Type: types.ConditionComparison, Variable: variable, Operator: op, Value: value}
}

func TestEvaluateCondition(t *testing.T) {
	engine := NewEngine()
	env := BuildEnvironment(map[string]any{
		"score":  0.92,
		"count":  3,
		"status": "ready",
		"big":    json.Number("100"),
		"user":   map[string]any{"tier": "gold"},
	}, map[string]map[string]any{
		"fetch": {"items": 5},
	})

	tests := []struct {
		name string
		cond *types.Condition
		want bool
	}{
		{"nil condition", nil, true},
		{"eq string", ptr(cmpCond("status", types.OpEq, "ready")), true},
		{"neq string", ptr(cmpCond("status", types.OpNeq, "ready")), false},
		{"eq int vs float", ptr(cmpCond("count", types.OpEq, 3.0)), true},
		{"gt float", ptr(cmpCond("score", types.OpGt, 0.9)), true},
		{"gte equal", ptr(cmpCond("count", types.OpGte, 3)), true},
		{"lt", ptr(cmpCond("count", types.OpLt, 3)), false},
		{"lte", ptr(cmpCond("count", types.OpLte, 3)), true},
		{"json number", ptr(cmpCond("big", types.OpGt, 99)), true},
		{"string ordering", ptr(cmpCond("status", types.OpLt, "zzz")), true},
		{"mismatched ordering is false", ptr(cmpCond("status", types.OpGt, 1)), false},
		{"missing variable eq nil", ptr(cmpCond("missing", types.OpEq, nil)), true},
		{"dotted variable", ptr(cmpCond("user.tier", types.OpEq, "gold")), true},
		{"step output path", ptr(cmpCond("steps.fetch.items", types.OpGte, 5)), true},
		{"expression", &types.Condition{Type: types.ConditionExpression, Expression: "score > 0.9 && count == 3"}, true},
		{"and short-circuits", &types.Condition{Type: types.ConditionAnd, Conditions: []types.Condition{
			cmpCond("count", types.OpEq, 3), cmpCond("status", types.OpEq, "done"),
		}}, false},
		{"or", &types.Condition{Type: types.ConditionOr, Conditions: []types.Condition{
			cmpCond("count", types.OpEq, 4), cmpCond("status", types.OpEq, "ready"),
		}}, true},
		{"not", &types.Condition{Type: types.ConditionNot, Conditions: []types.Condition{
			cmpCond("count", types.OpEq, 4),
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.EvaluateCondition(tt.cond, env)
			if err != nil {
				t.Fatalf("EvaluateCondition failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("EvaluateCondition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateCondition_Errors(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name string
		cond *types.Condition
	}{
		{"unknown operator", ptr(cmpCond("x", "approx", 1))},
		{"unknown type", &types.Condition{Type: "xor"}},
		{"not with two operands", &types.Condition{Type: types.ConditionNot, Conditions: []types.Condition{
			cmpCond("x", types.OpEq, 1), cmpCond("y", types.OpEq, 1),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.EvaluateCondition(tt.cond, map[string]any{"x": 1})
			if !errors.Is(err, ErrDefinition) {
				t.Errorf("expected definition error, got %v", err)
			}
		})
	}
}

func TestValidateWorkflow_Conditions(t *testing.T) {
	tests := []struct {
		name    string
		cond    types.Condition
		wantErr bool
	}{
		{"valid comparison", cmpCond("x", types.OpGt, 1), false},
		{"unknown operator", cmpCond("x", "like", 1), true},
		{"missing variable", cmpCond("", types.OpEq, 1), true},
		{"valid expression", types.Condition{Type: types.ConditionExpression, Expression: "x > 1"}, false},
		{"malformed expression", types.Condition{Type: types.ConditionExpression, Expression: "x >"}, true},
		{"empty and", types.Condition{Type: types.ConditionAnd}, true},
		{"nested invalid", types.Condition{Type: types.ConditionOr, Conditions: []types.Condition{cmpCond("x", "bad", 1)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := step("a")
			s.Condition = &tt.cond
			err := ValidateWorkflow(&types.Workflow{ID: "wf", Steps: []types.WorkflowStep{s}})
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWorkflow() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }
