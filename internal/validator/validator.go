// Package validator provides JSON schema validation for agent registrations
// and workflow definitions.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// Validator validates agents and workflows against embedded schemas.
type Validator struct {
	agentSchema    *jsonschema.Schema
	workflowSchema *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err returns nil for a valid result, otherwise an error listing every
// failure.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		path := e.Path
		if path == "" {
			path = "/"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", path, e.Message))
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("agent.json", strings.NewReader(agentSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add agent schema: %w", err)
	}
	if err := compiler.AddResource("workflow.json", strings.NewReader(workflowSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add workflow schema: %w", err)
	}

	agentSchema, err := compiler.Compile("agent.json")
	if err != nil {
		return nil, fmt.Errorf("compile agent schema: %w", err)
	}
	workflowSchema, err := compiler.Compile("workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &Validator{
		agentSchema:    agentSchema,
		workflowSchema: workflowSchema,
	}, nil
}

// ValidateAgentJSON validates a JSON-encoded agent registration.
func (v *Validator) ValidateAgentJSON(data []byte) *ValidationResult {
	return v.validateJSON(v.agentSchema, data)
}

// ValidateWorkflowJSON validates a JSON-encoded workflow definition.
func (v *Validator) ValidateWorkflowJSON(data []byte) *ValidationResult {
	return v.validateJSON(v.workflowSchema, data)
}

// ValidateAgent validates an agent value.
func (v *Validator) ValidateAgent(agent *types.RegisteredAgent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	return v.ValidateAgentJSON(data).Err()
}

// ValidateWorkflow validates a workflow value.
func (v *Validator) ValidateWorkflow(wf *types.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	return v.ValidateWorkflowJSON(data).Err()
}

func (v *Validator) validateJSON(schema *jsonschema.Schema, data []byte) *ValidationResult {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.validate(schema, doc)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}

	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}

	return result
}

// extractErrors recursively extracts leaf validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	if len(verr.Causes) == 0 {
		return []ValidationError{{Path: verr.InstanceLocation, Message: verr.Message}}
	}

	var errs []ValidationError
	for _, cause := range verr.Causes {
		errs = append(errs, extractErrors(cause)...)
	}
	return errs
}

// Embedded JSON schemas

const agentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "agent.json",
  "title": "Registered Agent",
  "type": "object",
  "required": ["id", "type"],
  "properties": {
    "id": {"type": "string", "minLength": 1, "maxLength": 253},
    "type": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "endpoint": {"type": "string"},
    "status": {"enum": ["", "online", "offline", "busy"]},
    "capabilities": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "version": {"type": "string"},
          "inputs": {"type": "object", "additionalProperties": {"type": "string"}},
          "outputs": {"type": "object", "additionalProperties": {"type": "string"}},
          "tags": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`

const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "workflow.json",
  "title": "Workflow Definition",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": {"type": "string", "minLength": 1, "maxLength": 253},
    "name": {"type": "string"},
    "version": {"type": "string"},
    "description": {"type": "string"},
    "initial_inputs": {"type": ["object", "null"]},
    "expected_outputs": {"type": ["object", "null"], "additionalProperties": {"type": "string"}},
    "steps": {
      "type": ["array", "null"],
      "items": {"$ref": "#/$defs/step"}
    }
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "capability"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "agent_id": {"type": "string"},
        "capability": {"type": "string", "minLength": 1},
        "selector": {
          "type": "object",
          "properties": {
            "types": {"type": "array", "items": {"type": "string"}},
            "tags": {"type": "array", "items": {"type": "string"}}
          }
        },
        "inputs": {"type": "object"},
        "dependencies": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "condition": {"$ref": "#/$defs/condition"}
      }
    },
    "condition": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["comparison", "expression", "and", "or", "not"]},
        "variable": {"type": "string"},
        "operator": {"enum": ["eq", "neq", "gt", "gte", "lt", "lte"]},
        "value": true,
        "expression": {"type": "string", "maxLength": 4096},
        "conditions": {"type": "array", "items": {"$ref": "#/$defs/condition"}}
      }
    }
  }
}`
