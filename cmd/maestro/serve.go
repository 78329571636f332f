package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/api"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/archive"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/auth"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/config"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/eventbus"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/flowstore"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/health"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/invoke"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/k8s"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/maestro"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/registry"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/runstore"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/seed"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/telemetry"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/validator"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

func newServeCmd() *cobra.Command {
	var seedFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP API",
		Long: `serve starts the orchestrator and its HTTP API. Configuration is read
from the environment (PORT, MAESTRO_*, REDIS_*, ARCHIVE_*, OIDC_*, ...).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if seedFile != "" {
				cfg.SeedFile = seedFile
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&seedFile, "seed", "", "YAML bundle of agents and workflows to apply at start-up (overrides MAESTRO_SEED_FILE)")
	return cmd
}

// closers collects resources released on shutdown, last opened first.
type closers []io.Closer

func (c closers) close(logger *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	level := new(slog.LevelVar)
	if l, err := parseLevel(cfg.LogLevel); err == nil {
		level.Set(l)
	}
	logger := newLogger(cfg.LogFormat, level)
	slog.SetDefault(logger)

	logger.Info("starting maestro",
		slog.String("version", version),
		slog.String("port", cfg.Port),
		slog.String("store", cfg.StoreType),
	)

	tp, err := telemetry.Init(ctx, &telemetry.Config{
		ServiceName:    "maestro",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TraceSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	v, err := validator.New()
	if err != nil {
		return fmt.Errorf("create validator: %w", err)
	}

	var bundle *seed.Bundle
	if cfg.SeedFile != "" {
		bundle, err = seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := bundle.Validate(v); err != nil {
			return fmt.Errorf("seed %s: %w", cfg.SeedFile, err)
		}
	}

	var res closers
	defer func() { res.close(logger) }()

	opts := []maestro.Option{
		maestro.WithLogger(logger),
		maestro.WithLevelVar(level),
		maestro.WithValidator(v),
		maestro.WithExecutorConfig(cfg.Executor()),
	}

	storeOpts, err := stores(cfg, logger, &res)
	if err != nil {
		return err
	}
	opts = append(opts, storeOpts...)

	prober, err := newProber(ctx, cfg, logger)
	if err != nil {
		return err
	}
	opts = append(opts, maestro.WithProber(prober))

	// The api package takes an interface; keep it nil rather than a typed
	// nil *archive.Service when archiving is off.
	var archives api.ArchiveReader
	if cfg.ArchiveType != "" {
		svc, err := archive.New(&archive.Config{
			Type:            cfg.ArchiveType,
			Endpoint:        cfg.ArchiveEndpoint,
			Bucket:          cfg.ArchiveBucket,
			Region:          cfg.ArchiveRegion,
			AccessKeyID:     cfg.ArchiveAccessKey,
			SecretAccessKey: cfg.ArchiveSecretKey,
			UseSSL:          cfg.ArchiveUseSSL,
			PathPrefix:      cfg.ArchivePrefix,
		})
		if err != nil {
			return fmt.Errorf("create archive: %w", err)
		}
		archives = svc
		opts = append(opts, maestro.WithArchiver(svc))
		logger.Info("execution archive enabled", slog.String("type", cfg.ArchiveType))
	}

	// Invokers resolve agents through the orchestrator, which does not
	// exist yet; m is assigned before any workflow can run.
	var m *maestro.Maestro
	agents := invoke.AgentLookupFunc(func(id string) (*types.RegisteredAgent, error) {
		return m.GetAgent(id)
	})
	m, err = maestro.New(cfg.Maestro(), newInvoker(cfg, agents, bundle, logger), opts...)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	if cfg.EventMirror {
		client, err := redisClient(cfg)
		if err != nil {
			return fmt.Errorf("event mirror: %w", err)
		}
		res = append(res, client)
		if _, err := eventbus.NewRedisMirror(client, cfg.EventMirrorTopic).Attach(m.Bus()); err != nil {
			return fmt.Errorf("attach event mirror: %w", err)
		}
		logger.Info("mirroring events to redis", slog.String("channel", cfg.EventMirrorTopic))
	}

	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := m.Shutdown(shutdownCtx); err != nil {
			logger.Error("orchestrator shutdown", "error", err)
		}
	}()

	if bundle != nil {
		if _, err := bundle.Apply(ctx, m, logger); err != nil {
			return err
		}
	}

	middleware, err := httpMiddleware(ctx, cfg, logger)
	if err != nil {
		return err
	}
	handlers := api.NewHandlers(m, v, archives, &api.HandlerConfig{CORSOrigins: cfg.CORSOrigins}, logger)
	server := api.NewServer(handlers, middleware...)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     server.Router(),
		ReadTimeout: cfg.ReadTimeout,
		// Event streams stay open; WriteTimeout would cut them off.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// stores returns the persistence options for cfg.StoreType.
func stores(cfg *config.Config, logger *slog.Logger, res *closers) ([]maestro.Option, error) {
	switch cfg.StoreType {
	case "memory", "":
		workflows := flowstore.NewMemoryStore()
		runs := runstore.NewMemoryStore(&runstore.Config{MaxExecutions: cfg.RunStoreMax, TTL: cfg.RunStoreTTL})
		*res = append(*res, workflows, runs)
		logger.Info("using in-memory stores")
		return []maestro.Option{
			maestro.WithWorkflowStore(workflows),
			maestro.WithExecutionStore(runs),
		}, nil

	case "redis":
		agents, err := registry.NewRedisStore(&registry.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("agent store: %w", err)
		}
		*res = append(*res, agents)

		workflows, err := flowstore.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("workflow store: %w", err)
		}
		*res = append(*res, workflows)

		runs, err := runstore.NewRedisStore(&runstore.RedisConfig{
			URL:          cfg.RedisURL,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			Prefix:       cfg.RedisPrefix + "executions",
			TTL:          cfg.RunStoreTTL,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("execution store: %w", err)
		}
		*res = append(*res, runs)

		logger.Info("using redis stores", slog.String("url", cfg.RedisURL))
		return []maestro.Option{
			maestro.WithRegistryStore(agents),
			maestro.WithWorkflowStore(workflows),
			maestro.WithExecutionStore(runs),
		}, nil
	}
	return nil, fmt.Errorf("unknown store type %q", cfg.StoreType)
}

func redisClient(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}
	return redis.NewClient(opts), nil
}

// newInvoker routes calls over HTTP by default. Agents whose
// "invoke.transport" metadata is "command" run the bundle's local commands.
func newInvoker(cfg *config.Config, agents invoke.AgentLookup, bundle *seed.Bundle, logger *slog.Logger) invoke.Invoker {
	httpCfg := &invoke.HTTPConfig{
		Timeout: cfg.AgentTimeout,
		Tracing: cfg.TracingEnabled,
	}
	if cfg.AgentTokenURL != "" {
		httpCfg.OAuth2 = &clientcredentials.Config{
			ClientID:     cfg.AgentClientID,
			ClientSecret: cfg.AgentClientSecret,
			TokenURL:     cfg.AgentTokenURL,
			Scopes:       cfg.AgentScopes,
		}
	}

	m := &invoke.Mux{
		Agents:  agents,
		Default: invoke.NewHTTPInvoker(agents, httpCfg),
	}
	if bundle != nil && len(bundle.Commands) > 0 {
		m.Invokers = map[string]invoke.Invoker{
			"command": invoke.NewCommandInvoker(&invoke.CommandConfig{
				Commands: bundle.Commands,
				EnvPassthrough: map[string]string{
					"MAESTRO_URL": "http://localhost:" + cfg.Port,
				},
				Logger: logger,
			}),
		}
	}
	return m
}

// newProber probes agents over HTTP, or by pod readiness for agents that
// opt in through "health.probe: k8s" when K8S_PROBES is set.
func newProber(ctx context.Context, cfg *config.Config, logger *slog.Logger) (health.Prober, error) {
	p := &health.Mux{Default: health.NewHTTPProber(nil)}
	if !cfg.K8sProbes {
		return p, nil
	}

	k8sCfg := k8s.DefaultConfig()
	k8sCfg.InCluster = cfg.K8sInCluster
	k8sCfg.Namespace = cfg.K8sNamespace
	if cfg.K8sKubeconfig != "" {
		k8sCfg.Kubeconfig = cfg.K8sKubeconfig
	}
	client, err := k8s.NewClient(k8sCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	if err := client.HealthCheck(ctx); err != nil {
		logger.Warn("kubernetes API not reachable; k8s probes will report agents offline", "error", err)
	}
	p.Probers = map[string]health.Prober{"k8s": health.NewK8sProber(client)}
	logger.Info("kubernetes probes enabled", slog.String("namespace", client.Namespace()))
	return p, nil
}

// httpMiddleware returns the rate limiter and, when OIDC is enabled, bearer
// authentication.
func httpMiddleware(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]mux.MiddlewareFunc, error) {
	var mw []mux.MiddlewareFunc
	if cfg.RateLimitRPS > 0 {
		mw = append(mw, auth.NewPerIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Handler)
	}
	if !cfg.OIDCEnabled {
		return mw, nil
	}

	provider, err := auth.NewProvider(ctx, &auth.Config{
		Issuer:   cfg.OIDCIssuer,
		ClientID: cfg.OIDCClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("oidc: %w", err)
	}
	mw = append(mw, auth.NewMiddleware(provider, &auth.MiddlewareConfig{Enabled: true}).Handler)
	logger.Info("oidc authentication enabled", slog.String("issuer", cfg.OIDCIssuer))
	return mw, nil
}
