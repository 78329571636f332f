// Package invoke dispatches capability invocations to agents.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownCapability is returned when nothing handles the requested
// agent/capability pair.
var ErrUnknownCapability = errors.New("no handler for capability")

// Invoker runs one capability on one agent and returns its output fields.
type Invoker interface {
	Invoke(ctx context.Context, agentID, capability string, inputs map[string]any) (map[string]any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, agentID, capability string, inputs map[string]any) (map[string]any, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, agentID, capability string, inputs map[string]any) (map[string]any, error) {
	return f(ctx, agentID, capability, inputs)
}

// HandlerFunc implements a single capability in-process.
type HandlerFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// CallTable is an in-process Invoker keyed by agent and capability.
// Handlers registered with an empty agent ID serve any agent.
type CallTable struct {
	mu       sync.RWMutex
	handlers map[string]map[string]HandlerFunc
}

// NewCallTable creates an empty call table.
func NewCallTable() *CallTable {
	return &CallTable{handlers: make(map[string]map[string]HandlerFunc)}
}

// Handle registers fn for agentID/capability, replacing any previous handler.
func (t *CallTable) Handle(agentID, capability string, fn HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	caps, ok := t.handlers[agentID]
	if !ok {
		caps = make(map[string]HandlerFunc)
		t.handlers[agentID] = caps
	}
	caps[capability] = fn
}

// Invoke runs the registered handler.
func (t *CallTable) Invoke(ctx context.Context, agentID, capability string, inputs map[string]any) (map[string]any, error) {
	t.mu.RLock()
	fn, ok := t.handlers[agentID][capability]
	if !ok {
		fn, ok = t.handlers[""][capability]
	}
	t.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownCapability, agentID, capability)
	}
	out, err := fn(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// MetadataTransport is the agent metadata key naming the invoker to use.
const MetadataTransport = "invoke.transport"

// Mux picks an invoker by the agent's "invoke.transport" metadata, falling
// back to Default.
type Mux struct {
	Agents   AgentLookup
	Default  Invoker
	Invokers map[string]Invoker
}

// Invoke dispatches to the selected invoker.
func (m *Mux) Invoke(ctx context.Context, agentID, capability string, inputs map[string]any) (map[string]any, error) {
	if m.Agents != nil && len(m.Invokers) > 0 {
		agent, err := m.Agents.Get(agentID)
		if err != nil {
			return nil, err
		}
		if name := agent.Metadata[MetadataTransport]; name != "" {
			inv, ok := m.Invokers[name]
			if !ok {
				return nil, fmt.Errorf("agent %s: unknown transport %q", agentID, name)
			}
			return inv.Invoke(ctx, agentID, capability, inputs)
		}
	}
	if m.Default == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownCapability, agentID, capability)
	}
	return m.Default.Invoke(ctx, agentID, capability, inputs)
}
