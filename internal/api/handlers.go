package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/archive"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/auth"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/maestro"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/validator"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

const maxBodyBytes = 4 << 20

// ArchiveReader loads archived executions.
type ArchiveReader interface {
	Load(ctx context.Context, workflowID, executionID string) (*archive.Record, error)
}

// HandlerConfig holds HTTP-layer settings.
type HandlerConfig struct {
	CORSOrigins []string

	// StreamHeartbeat is the keep-alive interval of event streams
	StreamHeartbeat time.Duration
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	maestro   *maestro.Maestro
	validator *validator.Validator
	archive   ArchiveReader
	config    *HandlerConfig
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance. The validator and archive
// are optional.
func NewHandlers(m *maestro.Maestro, v *validator.Validator, a ArchiveReader, cfg *HandlerConfig, logger *slog.Logger) *Handlers {
	if cfg == nil {
		cfg = &HandlerConfig{}
	}
	if cfg.StreamHeartbeat <= 0 {
		cfg.StreamHeartbeat = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		maestro:   m,
		validator: v,
		archive:   a,
		config:    cfg,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	m, err := h.maestro.GetMetrics()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"registered_agents": m.RegisteredAgents,
		"active_executions": m.ActiveExecutions,
	})
}

// --- Agents ---

// RegisterAgent handles POST /api/v1/agents
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var agent types.RegisteredAgent
	if !h.decode(w, r, &agent) {
		return
	}
	stored, err := h.maestro.RegisterAgent(r.Context(), &agent)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, stored)
}

// QueryAgents handles GET /api/v1/agents?type=&status=&capability=&tag=
func (h *Handlers) QueryAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.AgentFilter{
		Types:        listParam(q, "type"),
		Capabilities: listParam(q, "capability"),
		Tags:         listParam(q, "tag"),
	}
	for _, s := range listParam(q, "status") {
		status := types.AgentStatus(s)
		if !status.Valid() {
			writeErrorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("unknown status %q", s), nil)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	agents, err := h.maestro.QueryAgents(filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.maestro.GetAgent(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, agent)
}

// DeregisterAgent handles DELETE /api/v1/agents/{id}
func (h *Handlers) DeregisterAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	removed, err := h.maestro.DeregisterAgent(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !removed {
		writeErrorResponse(w, r, http.StatusNotFound, "agent not found", map[string]any{"agent_id": id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusRequest is the body of PUT /api/v1/agents/{id}/status.
type StatusRequest struct {
	Status types.AgentStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

// UpdateAgentStatus handles PUT /api/v1/agents/{id}/status
func (h *Handlers) UpdateAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.maestro.UpdateAgentStatus(r.Context(), id, req.Status, req.Reason); err != nil {
		h.respondError(w, r, err)
		return
	}
	agent, err := h.maestro.GetAgent(id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, agent)
}

// HeartbeatAgent handles POST /api/v1/agents/{id}/heartbeat
func (h *Handlers) HeartbeatAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.maestro.HeartbeatAgent(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordAgentHealth handles POST /api/v1/agents/{id}/health
func (h *Handlers) RecordAgentHealth(w http.ResponseWriter, r *http.Request) {
	var report types.AgentHealth
	if !h.decode(w, r, &report) {
		return
	}
	report.AgentID = mux.Vars(r)["id"]
	if report.CheckedAt.IsZero() {
		report.CheckedAt = time.Now().UTC()
	}
	if err := h.maestro.RecordAgentHealth(report); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SweepHealth handles POST /api/v1/health/sweep
func (h *Handlers) SweepHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.maestro.SweepHealth(r.Context()); err != nil {
		h.respondError(w, r, err)
		return
	}
	m, err := h.maestro.GetMetrics()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"agent_health_scores": m.AgentHealthScores})
}

// --- Workflows ---

// DefineWorkflow handles POST /api/v1/workflows
func (h *Handlers) DefineWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf types.Workflow
	if !h.decode(w, r, &wf) {
		return
	}
	if claims := auth.GetClaims(r.Context()); claims != nil && wf.CreatedBy == "" {
		wf.CreatedBy = claims.Identity()
	}
	stored, err := h.maestro.DefineWorkflow(r.Context(), &wf)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, stored)
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := h.maestro.ListWorkflows()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"workflows": wfs, "count": len(wfs)})
}

// GetWorkflow handles GET /api/v1/workflows/{id}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.maestro.GetWorkflow(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, wf)
}

// UpdateWorkflow handles PUT /api/v1/workflows/{id}
func (h *Handlers) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var upd types.WorkflowUpdate
	if !h.decode(w, r, &upd) {
		return
	}
	wf, err := h.maestro.UpdateWorkflow(r.Context(), mux.Vars(r)["id"], &upd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, wf)
}

// ExecuteResponse is returned when an execution is admitted.
type ExecuteResponse struct {
	Execution *types.WorkflowExecution `json:"execution"`
	StreamURL string                   `json:"stream_url"`
}

// ExecuteWorkflow handles POST /api/v1/workflows/{id}/executions. The body
// is optional.
func (h *Handlers) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var opts maestro.ExecuteOptions
	if !h.decodeOptional(w, r, &opts) {
		return
	}
	exec, err := h.maestro.ExecuteWorkflow(r.Context(), mux.Vars(r)["id"], opts)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, ExecuteResponse{
		Execution: exec,
		StreamURL: "/api/v1/events/stream?correlation_id=" + url.QueryEscape(exec.CorrelationID),
	})
}

// --- Executions ---

// QueryExecutions handles GET /api/v1/executions
func (h *Handlers) QueryExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.ExecutionFilter{
		WorkflowID:    q.Get("workflow_id"),
		CorrelationID: q.Get("correlation_id"),
	}
	for _, s := range listParam(q, "status") {
		filter.Statuses = append(filter.Statuses, types.ExecutionStatus(s))
	}
	var err error
	if filter.Since, filter.Until, filter.Limit, err = window(q); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	execs, err := h.maestro.QueryExecutions(filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

// GetExecution handles GET /api/v1/executions/{id}
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.maestro.GetExecution(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, exec)
}

// GetArchive handles GET /api/v1/executions/{id}/archive. The workflow_id
// query parameter locates archives of executions no longer held in memory.
func (h *Handlers) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, "archive not configured", nil)
		return
	}
	id := mux.Vars(r)["id"]
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		exec, err := h.maestro.GetExecution(id)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		workflowID = exec.WorkflowID
	}
	rec, err := h.archive.Load(r.Context(), workflowID, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

// --- Events ---

// EventHistory handles GET /api/v1/events
func (h *Handlers) EventHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventTypes, err := eventTypesParam(q, nil)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	filter := types.EventFilter{Types: eventTypes, CorrelationID: q.Get("correlation_id")}
	if filter.Since, filter.Until, filter.Limit, err = window(q); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	events, err := h.maestro.GetEventHistory(filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// EventsByCorrelation handles GET /api/v1/events/correlation/{id}
func (h *Handlers) EventsByCorrelation(w http.ResponseWriter, r *http.Request) {
	events, err := h.maestro.GetEventsByCorrelation(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// Subscriptions handles GET /api/v1/subscriptions
func (h *Handlers) Subscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.maestro.Subscriptions()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"subscriptions": subs, "count": len(subs)})
}

// --- Validation ---

// ValidateAgent handles POST /api/v1/validate/agent
func (h *Handlers) ValidateAgent(w http.ResponseWriter, r *http.Request) {
	h.validate(w, r, func(v *validator.Validator, data []byte) *validator.ValidationResult {
		return v.ValidateAgentJSON(data)
	})
}

// ValidateWorkflow handles POST /api/v1/validate/workflow
func (h *Handlers) ValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	h.validate(w, r, func(v *validator.Validator, data []byte) *validator.ValidationResult {
		return v.ValidateWorkflowJSON(data)
	})
}

func (h *Handlers) validate(w http.ResponseWriter, r *http.Request, fn func(*validator.Validator, []byte) *validator.ValidationResult) {
	if h.validator == nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, "validator not configured", nil)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, "failed to read body", nil)
		return
	}
	h.respondJSON(w, http.StatusOK, fn(h.validator, data))
}

// --- Operations ---

// Metrics handles GET /api/v1/metrics
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.maestro.GetMetrics()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, m)
}

// GetConfig handles GET /api/v1/config
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.maestro.GetConfig()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// UpdateConfig handles PATCH /api/v1/config
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var upd maestro.ConfigUpdate
	if !h.decode(w, r, &upd) {
		return
	}
	cfg, err := h.maestro.UpdateConfig(upd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// --- Helper Methods ---

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid request body", map[string]any{"cause": err.Error()})
		return false
	}
	return true
}

func (h *Handlers) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid request body", map[string]any{"cause": err.Error()})
		return false
	}
	return true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err, "status", status, "path", r.URL.Path)
	}
	writeErrorResponse(w, r, status, err.Error(), nil)
}

// listParam collects repeated and comma-separated values of a query key.
func listParam(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func eventTypesParam(q url.Values, def []types.EventType) ([]types.EventType, error) {
	names := listParam(q, "types")
	if len(names) == 0 {
		return def, nil
	}
	out := make([]types.EventType, 0, len(names))
	for _, n := range names {
		t := types.EventType(n)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown event type %q", n)
		}
		out = append(out, t)
	}
	return out, nil
}

// window parses the since, until (RFC 3339) and limit query parameters.
func window(q url.Values) (since, until time.Time, limit int, err error) {
	if s := q.Get("since"); s != "" {
		if since, err = time.Parse(time.RFC3339, s); err != nil {
			return since, until, 0, fmt.Errorf("invalid since: %w", err)
		}
	}
	if s := q.Get("until"); s != "" {
		if until, err = time.Parse(time.RFC3339, s); err != nil {
			return since, until, 0, fmt.Errorf("invalid until: %w", err)
		}
	}
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			return since, until, 0, fmt.Errorf("invalid limit %q", s)
		}
	}
	return since, until, limit, nil
}
