// Package metrics provides Prometheus metrics for the maestro service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "maestro"
	subsystem = "orchestrator"
)

var (
	// ExecutionsTotal counts executions by final status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "executions_total",
			Help:      "Total number of workflow executions by final status",
		},
		[]string{"status"}, // "completed", "failed"
	)

	// ExecutionsActive tracks admitted, unfinished executions.
	ExecutionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "executions_active",
			Help:      "Number of workflow executions currently in flight",
		},
	)

	// AdmissionRejected counts executions refused at the concurrency cap.
	AdmissionRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "admission_rejected_total",
			Help:      "Executions rejected because the concurrency cap was reached",
		},
	)

	// ExecutionDuration tracks wall-clock execution time.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	// StepsTotal counts steps by terminal status.
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "steps_total",
			Help:      "Total number of workflow steps by terminal status",
		},
		[]string{"status"}, // "completed", "failed", "skipped"
	)

	// StepDuration tracks capability invocation latency.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "step_duration_seconds",
			Help:      "Capability invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"capability", "status"},
	)

	// EventsPublished counts events accepted by the bus.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_published_total",
			Help:      "Total number of events published on the bus",
		},
		[]string{"type"},
	)

	// EventsDropped counts deliveries dropped because a subscriber queue was full.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_dropped_total",
			Help:      "Event deliveries dropped for slow subscribers",
		},
		[]string{"type"},
	)

	// SubscriberErrors counts handler errors and panics.
	SubscriberErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriber_errors_total",
			Help:      "Subscriber handler failures",
		},
		[]string{"kind"}, // "error", "panic"
	)

	// Subscriptions tracks live bus subscriptions.
	Subscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions",
			Help:      "Number of live event subscriptions",
		},
	)

	// AgentsRegistered tracks the registry size.
	AgentsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "agents_registered",
			Help:      "Number of registered agents",
		},
	)

	// HealthChecks counts probe outcomes.
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "health_checks_total",
			Help:      "Agent health probes by result",
		},
		[]string{"result"}, // "healthy", "unhealthy", "error"
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// StoreOperations counts durable store operations.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_operations_total",
			Help:      "Total number of durable store operations",
		},
		[]string{"store", "operation", "result"}, // result: success, error
	)
)
