package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/maestro"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "7070" {
		t.Errorf("Port = %s, want 7070", cfg.Port)
	}
	if cfg.StoreType != "memory" {
		t.Errorf("StoreType = %s, want memory", cfg.StoreType)
	}
	if cfg.ArchiveType != "" {
		t.Errorf("ArchiveType = %q, want empty", cfg.ArchiveType)
	}

	if got, want := cfg.Maestro(), maestro.DefaultConfig(); got != want {
		t.Errorf("Maestro() = %+v, want %+v", got, want)
	}
	if err := cfg.Maestro().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("MAESTRO_STORE", "redis")
	t.Setenv("MAESTRO_MAX_CONCURRENT_WORKFLOWS", "7")
	t.Setenv("MAESTRO_WORKFLOW_TIMEOUT", "1m")
	t.Setenv("MAESTRO_ENABLE_ROLLBACK", "true")
	t.Setenv("MAESTRO_BACKOFF_SECONDS_DEFAULT", "5")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.Port != "9000" || cfg.StoreType != "redis" {
		t.Errorf("Port/StoreType = %s/%s", cfg.Port, cfg.StoreType)
	}
	m := cfg.Maestro()
	if m.MaxConcurrentWorkflows != 7 || m.DefaultWorkflowTimeout != time.Minute || !m.EnableRollback || m.LogLevel != "debug" {
		t.Errorf("Maestro() = %+v", m)
	}
	if x := cfg.Executor(); x.RetryBackoff != 5*time.Second || x.WorkflowTimeout != time.Minute {
		t.Errorf("Executor() = %+v", x)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Errorf("CORSOrigins = %v, want %v", cfg.CORSOrigins, want)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	tests := []struct {
		key  string
		val  string
		pick func(*Config) any
		want any
	}{
		{"REDIS_DB", "x", func(c *Config) any { return c.RedisDB }, 0},
		{"RATE_LIMIT_RPS", "fast", func(c *Config) any { return c.RateLimitRPS }, 100.0},
		{"OIDC_ENABLED", "maybe", func(c *Config) any { return c.OIDCEnabled }, false},
		{"MAESTRO_AGENT_TIMEOUT", "10", func(c *Config) any { return c.AgentTimeout }, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if got := tt.pick(Load()); got != tt.want {
				t.Errorf("%s=%q: got %v, want %v", tt.key, tt.val, got, tt.want)
			}
		})
	}
}
