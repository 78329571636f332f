// Package config provides configuration loading for the maestro service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/executor"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/maestro"
)

// Config holds all configuration for the maestro service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Stores: "memory" or "redis"
	StoreType        string
	RunStoreTTL      time.Duration
	RunStoreMax      int
	EventMirror      bool
	EventMirrorTopic string

	// Archive: "" disables, otherwise "memory", "s3" or "minio"
	ArchiveType      string
	ArchiveBucket    string
	ArchiveEndpoint  string
	ArchiveRegion    string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveUseSSL    bool
	ArchivePrefix    string

	// OIDC configuration for the API
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCEnabled      bool

	// OAuth2 client credentials for agent calls
	AgentTokenURL     string
	AgentClientID     string
	AgentClientSecret string
	AgentScopes       []string

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// K8s configuration
	K8sNamespace  string
	K8sInCluster  bool
	K8sKubeconfig string
	K8sProbes     bool

	// Tracing
	TracingEnabled  bool
	OTLPEndpoint    string
	TraceSampleRate float64

	// Orchestrator
	MaxConcurrentWorkflows int
	DefaultWorkflowTimeout time.Duration
	EventBusBufferSize     int
	HealthCheckInterval    time.Duration
	AgentTimeout           time.Duration
	EnableRollback         bool
	EnableCompensation     bool

	// Executor
	MaxParallelism     int
	DefaultMaxRetries  int
	DefaultBackoffSecs int

	// SeedFile is a YAML bundle of agents and workflows applied at start-up
	SeedFile string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7070"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "maestro:"),

		// Stores
		StoreType:        getEnv("MAESTRO_STORE", "memory"),
		RunStoreTTL:      getDuration("RUNSTORE_TTL", 7*24*time.Hour),
		RunStoreMax:      getInt("RUNSTORE_MAX", 5000),
		EventMirror:      getBool("EVENT_MIRROR", false),
		EventMirrorTopic: getEnv("EVENT_MIRROR_CHANNEL", "maestro:events"),

		// Archive
		ArchiveType:      getEnv("ARCHIVE_TYPE", ""),
		ArchiveBucket:    getEnv("ARCHIVE_BUCKET", ""),
		ArchiveEndpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveRegion:    getEnv("ARCHIVE_REGION", ""),
		ArchiveAccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
		ArchiveUseSSL:    getBool("ARCHIVE_USE_SSL", false),
		ArchivePrefix:    getEnv("ARCHIVE_PREFIX", "maestro"),

		// OIDC
		OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
		OIDCEnabled:      getBool("OIDC_ENABLED", false),

		// Agent OAuth2
		AgentTokenURL:     getEnv("AGENT_TOKEN_URL", ""),
		AgentClientID:     getEnv("AGENT_CLIENT_ID", ""),
		AgentClientSecret: getEnv("AGENT_CLIENT_SECRET", ""),
		AgentScopes:       getStringSlice("AGENT_SCOPES", nil),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// K8s
		K8sNamespace:  getEnv("K8S_NAMESPACE", "maestro"),
		K8sInCluster:  getBool("K8S_IN_CLUSTER", false),
		K8sKubeconfig: getEnv("KUBECONFIG", ""),
		K8sProbes:     getBool("K8S_PROBES", false),

		// Tracing
		TracingEnabled:  getBool("OTEL_ENABLED", false),
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TraceSampleRate: getFloat("OTEL_SAMPLE_RATE", 1.0),

		// Orchestrator
		MaxConcurrentWorkflows: getInt("MAESTRO_MAX_CONCURRENT_WORKFLOWS", 100),
		DefaultWorkflowTimeout: getDuration("MAESTRO_WORKFLOW_TIMEOUT", 300*time.Second),
		EventBusBufferSize:     getInt("MAESTRO_EVENT_BUFFER", 10000),
		HealthCheckInterval:    getDuration("MAESTRO_HEALTH_INTERVAL", 30*time.Second),
		AgentTimeout:           getDuration("MAESTRO_AGENT_TIMEOUT", 10*time.Second),
		EnableRollback:         getBool("MAESTRO_ENABLE_ROLLBACK", false),
		EnableCompensation:     getBool("MAESTRO_ENABLE_COMPENSATION", false),

		// Executor
		MaxParallelism:     getInt("MAESTRO_MAX_PARALLELISM", 0), // 0 = unlimited
		DefaultMaxRetries:  getInt("MAESTRO_MAX_RETRIES_DEFAULT", 0),
		DefaultBackoffSecs: getInt("MAESTRO_BACKOFF_SECONDS_DEFAULT", 2),

		SeedFile: getEnv("MAESTRO_SEED_FILE", ""),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Maestro returns the orchestrator runtime configuration.
func (c *Config) Maestro() maestro.Config {
	return maestro.Config{
		MaxConcurrentWorkflows: c.MaxConcurrentWorkflows,
		DefaultWorkflowTimeout: c.DefaultWorkflowTimeout,
		EventBusBufferSize:     c.EventBusBufferSize,
		HealthCheckInterval:    c.HealthCheckInterval,
		AgentTimeout:           c.AgentTimeout,
		EnableRollback:         c.EnableRollback,
		EnableCompensation:     c.EnableCompensation,
		LogLevel:               c.LogLevel,
	}
}

// Executor returns the executor settings. Timeouts come from Maestro().
func (c *Config) Executor() *executor.Config {
	return &executor.Config{
		AgentTimeout:    c.AgentTimeout,
		WorkflowTimeout: c.DefaultWorkflowTimeout,
		MaxParallelism:  c.MaxParallelism,
		MaxRetries:      c.DefaultMaxRetries,
		RetryBackoff:    time.Duration(c.DefaultBackoffSecs) * time.Second,
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultVal
}
