package types

import (
	"slices"
	"time"
)

// AgentStatus is the availability of a registered agent.
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusOffline AgentStatus = "offline"
	AgentStatusBusy    AgentStatus = "busy"
)

// Valid reports whether s is one of the known statuses.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusOnline, AgentStatusOffline, AgentStatusBusy:
		return true
	}
	return false
}

// AgentCapability is a named unit of work an agent can perform.
type AgentCapability struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Inputs      map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Matches reports whether ref names this capability by ID or by name.
func (c AgentCapability) Matches(ref string) bool {
	return ref != "" && (c.ID == ref || c.Name == ref)
}

// RegisteredAgent is an agent known to the registry.
type RegisteredAgent struct {
	// ID is unique across the registry and never changes.
	ID string `json:"id" yaml:"id"`

	// Type groups agents of the same kind (e.g. "planner", "retriever").
	Type string `json:"type" yaml:"type"`

	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Endpoint is the base URL used by HTTP invokers and probers.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	Capabilities []AgentCapability `json:"capabilities" yaml:"capabilities"`
	Status       AgentStatus       `json:"status" yaml:"status,omitempty"`

	// LastHeartbeat is the most recent liveness evidence.
	LastHeartbeat time.Time `json:"last_heartbeat" yaml:"-"`

	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	RegisteredAt time.Time         `json:"registered_at" yaml:"-"`
}

// Capability returns the capability referenced by ID or name.
func (a *RegisteredAgent) Capability(ref string) (AgentCapability, bool) {
	for _, c := range a.Capabilities {
		if c.Matches(ref) {
			return c, true
		}
	}
	return AgentCapability{}, false
}

// HasTag reports whether any capability of the agent carries tag.
func (a *RegisteredAgent) HasTag(tag string) bool {
	for _, c := range a.Capabilities {
		if slices.Contains(c.Tags, tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the agent.
func (a *RegisteredAgent) Clone() *RegisteredAgent {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Capabilities = make([]AgentCapability, len(a.Capabilities))
	for i, c := range a.Capabilities {
		c.Inputs = cloneStrings(c.Inputs)
		c.Outputs = cloneStrings(c.Outputs)
		c.Tags = slices.Clone(c.Tags)
		cp.Capabilities[i] = c
	}
	cp.Metadata = cloneStrings(a.Metadata)
	return &cp
}

// AgentHealth is the latest health sample recorded for an agent.
type AgentHealth struct {
	AgentID   string        `json:"agent_id"`
	Healthy   bool          `json:"healthy"`
	Score     float64       `json:"score"`
	Latency   time.Duration `json:"latency_ns"`
	CheckedAt time.Time     `json:"checked_at"`
	Error     string        `json:"error,omitempty"`
}

// AgentFilter selects agents. Dimensions are combined with AND; values
// within a dimension with OR. Empty dimensions match everything.
type AgentFilter struct {
	Types        []string      `json:"types,omitempty"`
	Statuses     []AgentStatus `json:"statuses,omitempty"`
	Capabilities []string      `json:"capabilities,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
}

// Match reports whether the agent satisfies the filter. Capabilities are
// matched on capability ID only.
func (f AgentFilter) Match(a *RegisteredAgent) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, a.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
		return false
	}
	if len(f.Capabilities) > 0 {
		found := false
		for _, c := range a.Capabilities {
			if slices.Contains(f.Capabilities, c.ID) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, a.HasTag) {
		return false
	}
	return true
}
