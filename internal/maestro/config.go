package maestro

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrInvalidConfig is returned by UpdateConfig for out-of-range values.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the runtime configuration of the orchestrator.
type Config struct {
	MaxConcurrentWorkflows int           `json:"max_concurrent_workflows"`
	DefaultWorkflowTimeout time.Duration `json:"default_workflow_timeout_ns"`
	EventBusBufferSize     int           `json:"event_bus_buffer_size"`
	HealthCheckInterval    time.Duration `json:"health_check_interval_ns"`
	AgentTimeout           time.Duration `json:"agent_timeout_ns"`

	// Accepted and reported only; no rollback or compensation is performed.
	EnableRollback     bool `json:"enable_rollback"`
	EnableCompensation bool `json:"enable_compensation"`

	LogLevel string `json:"log_level"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentWorkflows: 100,
		DefaultWorkflowTimeout: 300 * time.Second,
		EventBusBufferSize:     10000,
		HealthCheckInterval:    30 * time.Second,
		AgentTimeout:           10 * time.Second,
		LogLevel:               "info",
	}
}

// ConfigUpdate changes the fields that are set.
type ConfigUpdate struct {
	MaxConcurrentWorkflows *int           `json:"max_concurrent_workflows,omitempty"`
	DefaultWorkflowTimeout *time.Duration `json:"default_workflow_timeout_ns,omitempty"`
	EventBusBufferSize     *int           `json:"event_bus_buffer_size,omitempty"`
	HealthCheckInterval    *time.Duration `json:"health_check_interval_ns,omitempty"`
	AgentTimeout           *time.Duration `json:"agent_timeout_ns,omitempty"`
	EnableRollback         *bool          `json:"enable_rollback,omitempty"`
	EnableCompensation     *bool          `json:"enable_compensation,omitempty"`
	LogLevel               *string        `json:"log_level,omitempty"`
}

// apply returns cfg with the update applied.
func (u ConfigUpdate) apply(cfg Config) Config {
	if u.MaxConcurrentWorkflows != nil {
		cfg.MaxConcurrentWorkflows = *u.MaxConcurrentWorkflows
	}
	if u.DefaultWorkflowTimeout != nil {
		cfg.DefaultWorkflowTimeout = *u.DefaultWorkflowTimeout
	}
	if u.EventBusBufferSize != nil {
		cfg.EventBusBufferSize = *u.EventBusBufferSize
	}
	if u.HealthCheckInterval != nil {
		cfg.HealthCheckInterval = *u.HealthCheckInterval
	}
	if u.AgentTimeout != nil {
		cfg.AgentTimeout = *u.AgentTimeout
	}
	if u.EnableRollback != nil {
		cfg.EnableRollback = *u.EnableRollback
	}
	if u.EnableCompensation != nil {
		cfg.EnableCompensation = *u.EnableCompensation
	}
	if u.LogLevel != nil {
		cfg.LogLevel = *u.LogLevel
	}
	return cfg
}

// Validate checks value ranges. Zero timeouts and a zero health interval
// disable the corresponding limit or sweep.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrentWorkflows < 1:
		return fmt.Errorf("%w: max concurrent workflows must be at least 1", ErrInvalidConfig)
	case c.EventBusBufferSize < 1:
		return fmt.Errorf("%w: event bus buffer size must be at least 1", ErrInvalidConfig)
	case c.DefaultWorkflowTimeout < 0, c.AgentTimeout < 0, c.HealthCheckInterval < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s)
}
