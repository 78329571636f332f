package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// maxResponseBytes bounds the agent response body.
const maxResponseBytes = 10 << 20

// AgentLookup resolves an agent ID to its registration.
type AgentLookup interface {
	Get(id string) (*types.RegisteredAgent, error)
}

// AgentLookupFunc adapts a function to AgentLookup.
type AgentLookupFunc func(id string) (*types.RegisteredAgent, error)

// Get calls f.
func (f AgentLookupFunc) Get(id string) (*types.RegisteredAgent, error) {
	return f(id)
}

// HTTPConfig configures the HTTP invoker.
type HTTPConfig struct {
	// Timeout per request (0 = rely on context only)
	Timeout time.Duration

	// OAuth2 enables client-credentials tokens on agent calls when set.
	OAuth2 *clientcredentials.Config

	// Tracing wraps the transport with OpenTelemetry instrumentation.
	Tracing bool
}

// InvokeRequest is the body posted to an agent.
type InvokeRequest struct {
	Capability string         `json:"capability"`
	Inputs     map[string]any `json:"inputs"`
}

// InvokeResponse is the body an agent answers with.
type InvokeResponse struct {
	Outputs map[string]any `json:"outputs"`
	Error   string         `json:"error,omitempty"`
}

// HTTPInvoker posts invocations to <agent endpoint>/invoke.
type HTTPInvoker struct {
	agents AgentLookup
	client *http.Client
}

// NewHTTPInvoker creates an HTTP invoker.
func NewHTTPInvoker(agents AgentLookup, cfg *HTTPConfig) *HTTPInvoker {
	if cfg == nil {
		cfg = &HTTPConfig{}
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.Tracing {
		transport = otelhttp.NewTransport(transport)
	}

	client := &http.Client{Transport: transport, Timeout: cfg.Timeout}
	if cfg.OAuth2 != nil {
		// The token source uses the base client for token fetches.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: transport})
		client = cfg.OAuth2.Client(ctx)
		client.Timeout = cfg.Timeout
	}

	return &HTTPInvoker{agents: agents, client: client}
}

// Invoke posts the inputs and decodes the agent's outputs.
func (h *HTTPInvoker) Invoke(ctx context.Context, agentID, capability string, inputs map[string]any) (map[string]any, error) {
	agent, err := h.agents.Get(agentID)
	if err != nil {
		return nil, err
	}
	if agent.Endpoint == "" {
		return nil, fmt.Errorf("agent %s has no endpoint", agentID)
	}

	body, err := json.Marshal(InvokeRequest{Capability: capability, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(agent.Endpoint, "/") + "/invoke"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", agentID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out InvokeResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		if out.Error != "" {
			return nil, fmt.Errorf("agent %s returned %d: %s", agentID, resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("agent %s returned %d", agentID, resp.StatusCode)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("agent %s: %s", agentID, out.Error)
	}
	if out.Outputs == nil {
		out.Outputs = map[string]any{}
	}
	return out.Outputs, nil
}
