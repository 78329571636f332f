package choreography

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// EvaluateCondition evaluates cond against env, usually built with
// BuildEnvironment. A nil condition is true.
func (e *Engine) EvaluateCondition(cond *types.Condition, env map[string]any) (bool, error) {
	return evaluateCondition(cond, env, e.expr)
}

func evaluateCondition(c *types.Condition, env map[string]any, ev *ExprEvaluator) (bool, error) {
	if c == nil {
		return true, nil
	}

	switch c.Type {
	case types.ConditionComparison:
		left, _ := lookup(env, c.Variable)
		return compare(left, c.Operator, c.Value)

	case types.ConditionExpression:
		return ev.EvaluateBool(c.Expression, env)

	case types.ConditionAnd:
		for i := range c.Conditions {
			ok, err := evaluateCondition(&c.Conditions[i], env, ev)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case types.ConditionOr:
		for i := range c.Conditions {
			ok, err := evaluateCondition(&c.Conditions[i], env, ev)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case types.ConditionNot:
		if len(c.Conditions) != 1 {
			return false, &DefinitionError{Reason: "not condition requires exactly one operand"}
		}
		ok, err := evaluateCondition(&c.Conditions[0], env, ev)
		return !ok, err
	}

	return false, &DefinitionError{Reason: fmt.Sprintf("unknown condition type %q", c.Type)}
}

// compare applies a comparison operator. Ordering operators on values that
// are not both numbers or both strings evaluate to false.
func compare(left any, op types.ComparisonOperator, right any) (bool, error) {
	switch op {
	case types.OpEq:
		return equal(left, right), nil
	case types.OpNeq:
		return !equal(left, right), nil
	case types.OpGt, types.OpGte, types.OpLt, types.OpLte:
		c, ok := order(left, right)
		if !ok {
			return false, nil
		}
		switch op {
		case types.OpGt:
			return c > 0, nil
		case types.OpGte:
			return c >= 0, nil
		case types.OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}
	return false, &DefinitionError{Reason: fmt.Sprintf("unknown comparison operator %q", op)}
}

func equal(a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func order(a, b any) (int, bool) {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return cmp.Compare(fa, fb), true
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// validateCondition checks a condition tree without evaluating it.
func validateCondition(c *types.Condition, ev *ExprEvaluator) error {
	switch c.Type {
	case types.ConditionComparison:
		if c.Variable == "" {
			return fmt.Errorf("comparison condition requires a variable")
		}
		if !c.Operator.Valid() {
			return fmt.Errorf("unknown comparison operator %q", c.Operator)
		}
	case types.ConditionExpression:
		if _, err := ev.Compile(c.Expression); err != nil {
			return err
		}
	case types.ConditionAnd, types.ConditionOr:
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%s condition requires at least one operand", c.Type)
		}
	case types.ConditionNot:
		if len(c.Conditions) != 1 {
			return fmt.Errorf("not condition requires exactly one operand")
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}

	for i := range c.Conditions {
		if err := validateCondition(&c.Conditions[i], ev); err != nil {
			return err
		}
	}
	return nil
}

// lookup resolves a condition variable. An exact key wins; otherwise a
// dotted name descends through nested maps. Input substitution does not
// use this and matches exact keys only.
func lookup(vars map[string]any, name string) (any, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}

	var cur any = vars
	for _, part := range strings.Split(name, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}
