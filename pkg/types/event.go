package types

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// EventType categorizes the kind of event.
type EventType string

const (
	EventAgentRegistered    EventType = "agent:registered"
	EventAgentDeregistered  EventType = "agent:deregistered"
	EventAgentStatusChanged EventType = "agent:status_changed"

	EventWorkflowDefined EventType = "workflow:defined"
	EventWorkflowUpdated EventType = "workflow:updated"

	EventWorkflowStarted   EventType = "workflow:started"
	EventStepStarted       EventType = "workflow:step_started"
	EventStepCompleted     EventType = "workflow:step_completed"
	EventStepFailed        EventType = "workflow:step_failed"
	EventStepSkipped       EventType = "workflow:step_skipped"
	EventWorkflowCompleted EventType = "workflow:completed"
	EventWorkflowFailed    EventType = "workflow:failed"
)

var allEventTypes = []EventType{
	EventAgentRegistered, EventAgentDeregistered, EventAgentStatusChanged,
	EventWorkflowDefined, EventWorkflowUpdated,
	EventWorkflowStarted, EventStepStarted, EventStepCompleted, EventStepFailed,
	EventStepSkipped, EventWorkflowCompleted, EventWorkflowFailed,
}

// AllEventTypes returns every event type the orchestrator emits.
func AllEventTypes() []EventType {
	return slices.Clone(allEventTypes)
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return slices.Contains(allEventTypes, t)
}

// EventPayload is the typed body of an event. The set of payloads is closed;
// each payload determines its event type.
type EventPayload interface {
	EventType() EventType
	eventPayload()
}

// ChoreographyEvent is one entry on the event bus.
type ChoreographyEvent struct {
	ID            string       `json:"id"`
	Type          EventType    `json:"type"`
	SourceAgent   string       `json:"source_agent,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Sequence      uint64       `json:"sequence"`
	Payload       EventPayload `json:"payload"`
}

// NewEvent builds an event whose type is taken from the payload. ID,
// Timestamp and Sequence are assigned on publish.
func NewEvent(source, correlationID string, payload EventPayload) ChoreographyEvent {
	return ChoreographyEvent{
		Type:          payload.EventType(),
		SourceAgent:   source,
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

// UnmarshalJSON decodes the payload into the concrete type named by "type".
func (e *ChoreographyEvent) UnmarshalJSON(data []byte) error {
	type alias ChoreographyEvent
	var raw struct {
		alias
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := newPayload(raw.Type)
	if err != nil {
		return err
	}
	if len(raw.Payload) > 0 && string(raw.Payload) != "null" {
		if err := json.Unmarshal(raw.Payload, payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Type, err)
		}
	}
	*e = ChoreographyEvent(raw.alias)
	e.Payload = payload
	return nil
}

// ToSSE formats the event for Server-Sent Events protocol.
// Format: id: <id>\nevent: <type>\ndata: <json>\n\n
func (e *ChoreographyEvent) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}

// EventFilter selects events from history. Zero fields match everything.
type EventFilter struct {
	Types         []EventType `json:"types,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Since         time.Time   `json:"since,omitempty"`
	Until         time.Time   `json:"until,omitempty"`
	Limit         int         `json:"limit,omitempty"`
}

// Match reports whether ev satisfies the filter, ignoring Limit.
func (f EventFilter) Match(ev *ChoreographyEvent) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, ev.Type) {
		return false
	}
	if f.CorrelationID != "" && ev.CorrelationID != f.CorrelationID {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	return true
}

func newPayload(t EventType) (EventPayload, error) {
	switch t {
	case EventAgentRegistered:
		return &AgentRegisteredPayload{}, nil
	case EventAgentDeregistered:
		return &AgentDeregisteredPayload{}, nil
	case EventAgentStatusChanged:
		return &AgentStatusChangedPayload{}, nil
	case EventWorkflowDefined:
		return &WorkflowDefinedPayload{}, nil
	case EventWorkflowUpdated:
		return &WorkflowUpdatedPayload{}, nil
	case EventWorkflowStarted:
		return &WorkflowStartedPayload{}, nil
	case EventStepStarted:
		return &StepStartedPayload{}, nil
	case EventStepCompleted:
		return &StepCompletedPayload{}, nil
	case EventStepFailed:
		return &StepFailedPayload{}, nil
	case EventStepSkipped:
		return &StepSkippedPayload{}, nil
	case EventWorkflowCompleted:
		return &WorkflowCompletedPayload{}, nil
	case EventWorkflowFailed:
		return &WorkflowFailedPayload{}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", t)
}

type AgentRegisteredPayload struct {
	Agent *RegisteredAgent `json:"agent"`
}

type AgentDeregisteredPayload struct {
	AgentID string `json:"agent_id"`
}

type AgentStatusChangedPayload struct {
	AgentID  string      `json:"agent_id"`
	Previous AgentStatus `json:"previous"`
	Current  AgentStatus `json:"current"`
	Reason   string      `json:"reason,omitempty"`
}

type WorkflowDefinedPayload struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
	Version    string `json:"version,omitempty"`
	StepCount  int    `json:"step_count"`
}

type WorkflowUpdatedPayload struct {
	WorkflowID string `json:"workflow_id"`
	Version    string `json:"version,omitempty"`
	StepCount  int    `json:"step_count"`
}

type WorkflowStartedPayload struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
}

type StepStartedPayload struct {
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	AgentID     string `json:"agent_id,omitempty"`
	Capability  string `json:"capability"`
}

type StepCompletedPayload struct {
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	AgentID     string         `json:"agent_id"`
	Output      map[string]any `json:"output,omitempty"`
	Duration    time.Duration  `json:"duration_ns"`
}

type StepFailedPayload struct {
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	AgentID     string `json:"agent_id,omitempty"`
	Error       string `json:"error"`
}

type StepSkippedPayload struct {
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Reason      string `json:"reason"`
}

type WorkflowCompletedPayload struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Duration    time.Duration  `json:"duration_ns"`
}

type WorkflowFailedPayload struct {
	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	Error       string        `json:"error"`
	FailedSteps []string      `json:"failed_steps,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

func (*AgentRegisteredPayload) EventType() EventType    { return EventAgentRegistered }
func (*AgentDeregisteredPayload) EventType() EventType  { return EventAgentDeregistered }
func (*AgentStatusChangedPayload) EventType() EventType { return EventAgentStatusChanged }
func (*WorkflowDefinedPayload) EventType() EventType    { return EventWorkflowDefined }
func (*WorkflowUpdatedPayload) EventType() EventType    { return EventWorkflowUpdated }
func (*WorkflowStartedPayload) EventType() EventType    { return EventWorkflowStarted }
func (*StepStartedPayload) EventType() EventType        { return EventStepStarted }
func (*StepCompletedPayload) EventType() EventType      { return EventStepCompleted }
func (*StepFailedPayload) EventType() EventType         { return EventStepFailed }
func (*StepSkippedPayload) EventType() EventType        { return EventStepSkipped }
func (*WorkflowCompletedPayload) EventType() EventType  { return EventWorkflowCompleted }
func (*WorkflowFailedPayload) EventType() EventType     { return EventWorkflowFailed }

func (*AgentRegisteredPayload) eventPayload()    {}
func (*AgentDeregisteredPayload) eventPayload()  {}
func (*AgentStatusChangedPayload) eventPayload() {}
func (*WorkflowDefinedPayload) eventPayload()    {}
func (*WorkflowUpdatedPayload) eventPayload()    {}
func (*WorkflowStartedPayload) eventPayload()    {}
func (*StepStartedPayload) eventPayload()        {}
func (*StepCompletedPayload) eventPayload()      {}
func (*StepFailedPayload) eventPayload()         {}
func (*StepSkippedPayload) eventPayload()        {}
func (*WorkflowCompletedPayload) eventPayload()  {}
func (*WorkflowFailedPayload) eventPayload()     {}
