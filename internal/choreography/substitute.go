package choreography

import (
	"regexp"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// varRef matches a value that is exactly one variable reference.
var varRef = regexp.MustCompile(`^\$\{([^{}]+)\}$`)

// SubstituteVariables returns a copy of inputs where every string value of
// the exact form "${name}" is replaced by the variable's value. References
// to unknown variables are kept verbatim. The name is an exact key of
// variables; "${a.b}" does not descend into a. Substitution is shallow:
// nested maps and slices are copied as-is, and references embedded in
// longer strings are not expanded.
func SubstituteVariables(inputs map[string]any, variables map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = substituteValue(v, variables)
	}
	return out
}

// SubstituteVariables resolves inputs against the execution's variables.
func (e *Engine) SubstituteVariables(inputs map[string]any, exec *types.WorkflowExecution) map[string]any {
	return SubstituteVariables(inputs, exec.Variables)
}

func substituteValue(v any, variables map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return types.CloneValue(v)
	}
	m := varRef.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	if val, ok := variables[m[1]]; ok {
		return types.CloneValue(val)
	}
	return s
}
