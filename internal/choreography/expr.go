package choreography

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultMaxExpressionLength bounds expression size.
const DefaultMaxExpressionLength = 4096

// ExprEvaluator provides safe expression evaluation with caching.
// Expressions are compiled once and cached for reuse.
type ExprEvaluator struct {
	compiled map[string]*vm.Program
	mu       sync.RWMutex

	// MaxExpressionLength limits expression size for security (default: 4096)
	MaxExpressionLength int
}

// NewExprEvaluator creates a new expression evaluator.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		compiled:            make(map[string]*vm.Program),
		MaxExpressionLength: DefaultMaxExpressionLength,
	}
}

// Compile parses and caches expression. Variables are resolved at run time,
// so an unknown name is not a compile error.
func (e *ExprEvaluator) Compile(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression is empty")
	}
	if len(expression) > e.MaxExpressionLength {
		return nil, fmt.Errorf("expression exceeds maximum length of %d characters", e.MaxExpressionLength)
	}

	e.mu.RLock()
	prog, ok := e.compiled[expression]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}

	e.mu.Lock()
	e.compiled[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

// Evaluate evaluates an expression against an environment built by
// BuildEnvironment.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]any) (any, error) {
	prog, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// EvaluateBool evaluates an expression and returns a boolean result.
// Returns an error if the expression does not return a boolean.
func (e *ExprEvaluator) EvaluateBool(expression string, env map[string]any) (bool, error) {
	result, err := e.Evaluate(expression, env)
	if err != nil {
		return false, err
	}

	switch v := result.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		return v != "", nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expression %q returned %T, expected bool", expression, result)
	}
}

// BuildEnvironment creates an evaluation environment for an execution.
// Variables are exposed at the top level; step outputs under "steps".
//
//	{
//	  "<variable>": value, ...
//	  "steps": { "step_id": { "field": value, ... }, ... }
//	}
func BuildEnvironment(variables map[string]any, stepOutputs map[string]map[string]any) map[string]any {
	env := make(map[string]any, len(variables)+1)
	for k, v := range variables {
		env[k] = v
	}

	steps := make(map[string]any, len(stepOutputs))
	for id, out := range stepOutputs {
		steps[id] = out
	}
	// A variable named "steps" wins over the generated map.
	if _, taken := env["steps"]; !taken {
		env["steps"] = steps
	}
	return env
}
