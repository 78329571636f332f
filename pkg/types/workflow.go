package types

import (
	"slices"
	"time"
)

// ConditionType selects how a Condition is evaluated.
type ConditionType string

const (
	ConditionComparison ConditionType = "comparison"
	ConditionExpression ConditionType = "expression"
	ConditionAnd        ConditionType = "and"
	ConditionOr         ConditionType = "or"
	ConditionNot        ConditionType = "not"
)

// ComparisonOperator is the operator of a comparison condition.
type ComparisonOperator string

const (
	OpEq  ComparisonOperator = "eq"
	OpNeq ComparisonOperator = "neq"
	OpGt  ComparisonOperator = "gt"
	OpGte ComparisonOperator = "gte"
	OpLt  ComparisonOperator = "lt"
	OpLte ComparisonOperator = "lte"
)

// Valid reports whether op is a known operator.
func (op ComparisonOperator) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Condition gates a step on the current execution variables.
type Condition struct {
	Type ConditionType `json:"type" yaml:"type"`

	// Comparison fields. Variable may be a dotted path into nested maps.
	Variable string             `json:"variable,omitempty" yaml:"variable,omitempty"`
	Operator ComparisonOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any                `json:"value,omitempty" yaml:"value,omitempty"`

	// Expression is an expr-lang boolean expression over the variables.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// Conditions are the operands of and/or/not.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

func (c *Condition) clone() *Condition {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Value = CloneValue(c.Value)
	if c.Conditions != nil {
		cp.Conditions = make([]Condition, len(c.Conditions))
		for i := range c.Conditions {
			cp.Conditions[i] = *c.Conditions[i].clone()
		}
	}
	return &cp
}

// AgentSelector picks an agent at dispatch time when a step names none.
type AgentSelector struct {
	Types []string `json:"types,omitempty" yaml:"types,omitempty"`
	Tags  []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// WorkflowStep is one node of a workflow graph.
type WorkflowStep struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// AgentID pins the step to one agent. When empty the agent is chosen
	// by capability and Selector.
	AgentID  string         `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	Selector *AgentSelector `json:"selector,omitempty" yaml:"selector,omitempty"`

	Capability string `json:"capability" yaml:"capability"`

	// Inputs are literal values or "${name}" variable references.
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	Dependencies []string   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Condition    *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Clone returns a deep copy of the step.
func (s WorkflowStep) Clone() WorkflowStep {
	cp := s
	if s.Selector != nil {
		sel := AgentSelector{Types: slices.Clone(s.Selector.Types), Tags: slices.Clone(s.Selector.Tags)}
		cp.Selector = &sel
	}
	cp.Inputs = CloneMap(s.Inputs)
	cp.Dependencies = slices.Clone(s.Dependencies)
	cp.Condition = s.Condition.clone()
	return cp
}

// Workflow is a validated, acyclic graph of steps.
type Workflow struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Steps are kept in declaration order. Execution order comes from
	// dependencies only.
	Steps []WorkflowStep `json:"steps" yaml:"steps"`

	InitialInputs   map[string]any    `json:"initial_inputs,omitempty" yaml:"initial_inputs,omitempty"`
	ExpectedOutputs map[string]string `json:"expected_outputs,omitempty" yaml:"expected_outputs,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
	CreatedBy string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
}

// Step returns the step with the given ID.
func (w *Workflow) Step(id string) (WorkflowStep, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return WorkflowStep{}, false
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	cp := *w
	cp.Steps = make([]WorkflowStep, len(w.Steps))
	for i, s := range w.Steps {
		cp.Steps[i] = s.Clone()
	}
	cp.InitialInputs = CloneMap(w.InitialInputs)
	cp.ExpectedOutputs = cloneStrings(w.ExpectedOutputs)
	return &cp
}

// WorkflowUpdate is a partial update. Nil fields are left unchanged.
type WorkflowUpdate struct {
	Name            *string           `json:"name,omitempty"`
	Version         *string           `json:"version,omitempty"`
	Description     *string           `json:"description,omitempty"`
	Steps           []WorkflowStep    `json:"steps,omitempty"`
	InitialInputs   map[string]any    `json:"initial_inputs,omitempty"`
	ExpectedOutputs map[string]string `json:"expected_outputs,omitempty"`
}
