// Package health probes agent liveness for the periodic health sweep.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/k8s"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// MetadataProbe is the agent metadata key naming the prober to use.
const MetadataProbe = "health.probe"

// Prober checks a single agent. A false result means the agent answered
// but is unhealthy; an error means it could not be reached.
type Prober interface {
	Probe(ctx context.Context, agent *types.RegisteredAgent) (bool, error)
}

// Func adapts a function to Prober.
type Func func(ctx context.Context, agent *types.RegisteredAgent) (bool, error)

// Probe calls f.
func (f Func) Probe(ctx context.Context, agent *types.RegisteredAgent) (bool, error) {
	return f(ctx, agent)
}

// HTTPProber issues GET <endpoint>/health. 2xx is healthy.
type HTTPProber struct {
	client *http.Client
	path   string
}

// NewHTTPProber creates an HTTP prober. A nil client uses one with a 5s timeout.
func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPProber{client: client, path: "/health"}
}

// Probe checks the agent's health endpoint.
func (p *HTTPProber) Probe(ctx context.Context, agent *types.RegisteredAgent) (bool, error) {
	if agent.Endpoint == "" {
		return false, fmt.Errorf("agent %s has no endpoint", agent.ID)
	}
	url := strings.TrimRight(agent.Endpoint, "/") + p.path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", agent.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// K8sProber treats an agent as healthy when at least one of its pods is Ready.
type K8sProber struct {
	client *k8s.Client
}

// NewK8sProber creates a pod-readiness prober.
func NewK8sProber(client *k8s.Client) *K8sProber {
	return &K8sProber{client: client}
}

// Probe counts ready pods for the agent.
func (p *K8sProber) Probe(ctx context.Context, agent *types.RegisteredAgent) (bool, error) {
	namespace, selector := k8s.AgentSelector(agent)
	ready, total, err := p.client.ReadyPods(ctx, namespace, selector)
	if err != nil {
		return false, err
	}
	if total == 0 {
		return false, fmt.Errorf("no pods match %q", selector)
	}
	return ready > 0, nil
}

// Mux picks a prober by the agent's "health.probe" metadata, falling back
// to Default. Agents naming "none" are always healthy.
type Mux struct {
	Default Prober
	Probers map[string]Prober
}

// Probe dispatches to the selected prober.
func (m *Mux) Probe(ctx context.Context, agent *types.RegisteredAgent) (bool, error) {
	name := agent.Metadata[MetadataProbe]
	if name == "none" {
		return true, nil
	}
	if p, ok := m.Probers[name]; ok {
		return p.Probe(ctx, agent)
	}
	if m.Default == nil {
		return true, nil
	}
	return m.Default.Probe(ctx, agent)
}
