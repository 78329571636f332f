// Package api exposes the orchestrator over HTTP.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server holds the HTTP router and handlers.
type Server struct {
	router   *mux.Router
	handlers *Handlers
}

// NewServer creates a new API server. Extra middleware (auth, rate limits)
// runs after request ID assignment and before the handlers.
func NewServer(h *Handlers, extra ...mux.MiddlewareFunc) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	s.setupRoutes(extra)
	return s
}

// Router returns the instrumented router for use with http.Server.
func (s *Server) Router() http.Handler {
	return otelhttp.NewHandler(s.router, "maestro.api")
}

func (s *Server) setupRoutes(extra []mux.MiddlewareFunc) {
	h := s.handlers

	s.router.HandleFunc("/health", h.Health).Methods("GET")
	s.router.HandleFunc("/healthz", h.Health).Methods("GET")
	s.router.HandleFunc("/ready", h.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Agents
	api.HandleFunc("/agents", h.RegisterAgent).Methods("POST")
	api.HandleFunc("/agents", h.QueryAgents).Methods("GET")
	api.HandleFunc("/agents/{id}", h.GetAgent).Methods("GET")
	api.HandleFunc("/agents/{id}", h.DeregisterAgent).Methods("DELETE")
	api.HandleFunc("/agents/{id}/status", h.UpdateAgentStatus).Methods("PUT")
	api.HandleFunc("/agents/{id}/heartbeat", h.HeartbeatAgent).Methods("POST")
	api.HandleFunc("/agents/{id}/health", h.RecordAgentHealth).Methods("POST")
	api.HandleFunc("/health/sweep", h.SweepHealth).Methods("POST")

	// Workflows
	api.HandleFunc("/workflows", h.DefineWorkflow).Methods("POST")
	api.HandleFunc("/workflows", h.ListWorkflows).Methods("GET")
	api.HandleFunc("/workflows/{id}", h.GetWorkflow).Methods("GET")
	api.HandleFunc("/workflows/{id}", h.UpdateWorkflow).Methods("PUT")
	api.HandleFunc("/workflows/{id}/executions", h.ExecuteWorkflow).Methods("POST")

	// Executions
	api.HandleFunc("/executions", h.QueryExecutions).Methods("GET")
	api.HandleFunc("/executions/{id}", h.GetExecution).Methods("GET")
	api.HandleFunc("/executions/{id}/archive", h.GetArchive).Methods("GET")

	// Events
	api.HandleFunc("/events", h.EventHistory).Methods("GET")
	api.HandleFunc("/events/stream", h.StreamEvents).Methods("GET")
	api.HandleFunc("/events/ws", h.ServeWebSocket).Methods("GET")
	api.HandleFunc("/events/correlation/{id}", h.EventsByCorrelation).Methods("GET")
	api.HandleFunc("/subscriptions", h.Subscriptions).Methods("GET")

	// Schema validation without side effects
	api.HandleFunc("/validate/agent", h.ValidateAgent).Methods("POST")
	api.HandleFunc("/validate/workflow", h.ValidateWorkflow).Methods("POST")

	// Operations
	api.HandleFunc("/metrics", h.Metrics).Methods("GET")
	api.HandleFunc("/config", h.GetConfig).Methods("GET")
	api.HandleFunc("/config", h.UpdateConfig).Methods("PATCH")

	s.router.Use(h.RequestIDMiddleware)
	s.router.Use(h.CORSMiddleware)
	s.router.Use(h.LoggingMiddleware)
	s.router.Use(h.RecoveryMiddleware)
	s.router.Use(extra...)
}
