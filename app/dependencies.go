package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/upb/ai-orchestrator/config"
	"github.com/upb/ai-orchestrator/internal/observability"
	"github.com/upb/ai-orchestrator/middleware"
	"github.com/upb/ai-orchestrator/repositories"
	"github.com/upb/ai-orchestrator/repositories/postgres"
	"github.com/upb/ai-orchestrator/services/health"
	"github.com/upb/ai-orchestrator/services/orchestrator"
	"github.com/upb/ai-orchestrator/services/providers"
	"github.com/upb/ai-orchestrator/services/providers/anthropic"
	"github.com/upb/ai-orchestrator/services/providers/gemini"
	"github.com/upb/ai-orchestrator/services/providers/openai"
	"github.com/upb/ai-orchestrator/services/usage"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Persistence; nil when DATABASE_URL is unset
	RepoFactory *postgres.RepositoryFactory
	DB          *postgres.DB
	Generations repositories.GenerationRepository
	Usage       *usage.Service

	// Observability
	MetricsRegistry *prometheus.Registry
	Metrics         observability.Metrics

	// Orchestration
	Health       *health.Monitor
	Orchestrator *orchestrator.Orchestrator

	// AuthMiddleware is nil when JWT_SECRET is unset
	AuthMiddleware *middleware.AuthMiddleware
}

// Option customizes NewDependencies
type Option func(*options)

type options struct {
	extraProviders []providers.Provider
	sleeper        orchestrator.Sleeper
}

// WithProviders registers additional providers after the configured adapters
func WithProviders(extra ...providers.Provider) Option {
	return func(o *options) {
		o.extraProviders = append(o.extraProviders, extra...)
	}
}

// WithSleeper overrides the orchestrator's backoff sleeper
func WithSleeper(sleep orchestrator.Sleeper) Option {
	return func(o *options) {
		o.sleeper = sleep
	}
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics(cfg)

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initOrchestrator(cfg, o); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.Orchestrator.ProviderNames()),
		zap.Bool("usage_persistence", deps.Usage != nil),
		zap.Bool("auth", deps.AuthMiddleware != nil))
	return deps, nil
}

// initMetrics creates a dedicated registry so /metrics only exposes this process's collectors
func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.MetricsRegistry = reg
	d.Metrics = observability.NewPrometheusMetrics(reg)
}

// initDatabase opens Postgres and the usage service when persistence is enabled
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.PersistenceEnabled() {
		d.Logger.Info("DATABASE_URL not set, usage persistence disabled")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	repos := factory.NewRepositories()
	d.Generations = repos.Generations
	d.Usage = usage.NewService(repos.Generations, d.Logger, usage.DefaultConfig())

	d.Logger.Info("usage persistence enabled",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initOrchestrator builds the configured vendor adapters and the orchestrator around them
func (d *Dependencies) initOrchestrator(cfg *config.Config, o options) error {
	registry, err := BuildProviderRegistry(cfg.Providers, cfg.Health)
	if err != nil {
		return err
	}

	all := append(registry.Providers(), o.extraProviders...)
	if len(all) == 0 {
		d.Logger.Warn("no AI providers configured")
	}

	d.Health = health.NewMonitor(cfg.Health.CacheTTL,
		health.WithLogger(d.Logger),
		health.WithMetrics(d.Metrics))

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(d.Logger),
		orchestrator.WithMetrics(d.Metrics),
		orchestrator.WithHealthMonitor(d.Health),
	}
	if d.Usage != nil {
		orchOpts = append(orchOpts, orchestrator.WithUsageRecorder(d.Usage))
	}
	if o.sleeper != nil {
		orchOpts = append(orchOpts, orchestrator.WithSleeper(o.sleeper))
	}

	orch, err := orchestrator.NewOrchestrator(all, OrchestratorConfig(cfg), orchOpts...)
	if err != nil {
		return err
	}
	d.Orchestrator = orch
	return nil
}

// initAuth enables bearer auth when a JWT secret is configured
func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.Auth.Enabled() {
		d.Logger.Warn("JWT_SECRET not set, API routes are unauthenticated")
		return
	}
	validator := middleware.NewHMACTokenValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("bearer auth enabled")
}

// OrchestratorConfig translates environment configuration into orchestrator policy
func OrchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.CostOptimized = cfg.Orchestrator.CostOptimized
	oc.FallbackEnabled = cfg.Orchestrator.FallbackEnabled
	oc.MaxRetries = cfg.Orchestrator.MaxRetries
	oc.MaxCostPerRequest = cfg.Orchestrator.MaxCostPerRequest
	oc.PreferredProvider = cfg.Orchestrator.PreferredProvider
	oc.DefaultTimeout = cfg.Providers.Timeout
	oc.HealthTTL = cfg.Health.CacheTTL
	oc.Backoff = orchestrator.BackoffPolicy{
		InitialDelay: cfg.Orchestrator.BackoffInitial,
		MaxDelay:     cfg.Orchestrator.BackoffMax,
		Multiplier:   cfg.Orchestrator.BackoffMultiplier,
	}

	breaker := cfg.Orchestrator.CircuitBreaker
	oc.CircuitBreaker.Enabled = breaker.Enabled
	if breaker.Failures > 0 {
		oc.CircuitBreaker.FailureThreshold = uint32(breaker.Failures)
	}
	if breaker.OpenTimeout > 0 {
		oc.CircuitBreaker.OpenTimeout = breaker.OpenTimeout
	}
	return oc
}

// BuildProviderRegistry constructs an adapter for every vendor with an API key,
// in the order openai, anthropic, gemini
func BuildProviderRegistry(cfg config.ProvidersConfig, healthCfg config.HealthConfig) (*providers.Registry, error) {
	builder := providers.NewRegistryBuilder().
		WithProviderBuilder("openai", func(c providers.ProviderConfig) (providers.Provider, error) {
			return openai.NewOpenAIAdapter(c), nil
		}).
		WithProviderBuilder("anthropic", func(c providers.ProviderConfig) (providers.Provider, error) {
			return anthropic.NewAdapter(c), nil
		}).
		WithProviderBuilder("gemini", func(c providers.ProviderConfig) (providers.Provider, error) {
			return gemini.NewAdapter(c), nil
		})

	configs := make(map[string]providers.ProviderConfig)
	for name, vendor := range map[string]config.ProviderConfig{
		"openai":    cfg.OpenAI,
		"anthropic": cfg.Anthropic,
		"gemini":    cfg.Gemini,
	} {
		if !vendor.Enabled() {
			continue
		}
		pc := providers.DefaultProviderConfig()
		pc.APIKey = vendor.APIKey
		pc.BaseURL = vendor.BaseURL
		pc.DefaultModel = vendor.DefaultModel
		if cfg.Timeout > 0 {
			pc.Timeout = cfg.Timeout
		}
		if healthCfg.HealthCheckTimeout > 0 {
			pc.HealthCheckTimeout = healthCfg.HealthCheckTimeout
		}
		configs[name] = pc
	}

	return builder.Build(configs)
}

// SQLDB returns the underlying pool for readiness checks, or nil without persistence
func (d *Dependencies) SQLDB() *sql.DB {
	if d.DB == nil {
		return nil
	}
	return d.DB.DB
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Usage != nil {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Usage.Stop(timeout); err != nil && !errors.Is(err, usage.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop usage service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
