package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Providers     ProvidersConfig
	Orchestrator  OrchestratorConfig
	Health        HealthConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL configuration for usage persistence.
// Persistence is disabled when ConnectionString is empty.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ProvidersConfig holds per-vendor adapter configuration
type ProvidersConfig struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Gemini    ProviderConfig
	Timeout   time.Duration
}

// ProviderConfig holds one vendor's credentials and endpoint
type ProviderConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Enabled reports whether the adapter should be registered
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// OrchestratorConfig holds selection and retry policy
type OrchestratorConfig struct {
	CostOptimized     bool
	FallbackEnabled   bool
	MaxRetries        int
	MaxCostPerRequest *float64 // nil means no ceiling
	PreferredProvider string
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	CircuitBreaker    CircuitBreakerConfig
}

// CircuitBreakerConfig holds the optional per-provider breaker settings
type CircuitBreakerConfig struct {
	Enabled     bool
	Failures    int
	OpenTimeout time.Duration
}

// HealthConfig holds health cache settings
type HealthConfig struct {
	CacheTTL           time.Duration
	HealthCheckTimeout time.Duration
}

// AuthConfig holds bearer token settings. Auth is disabled when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// Enabled reports whether bearer auth is required on the API routes
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// Load creates a Config from the process environment, after loading an optional .env file
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	maxCost, err := getEnvAsOptionalFloat("ORCHESTRATOR_MAX_COST_PER_REQUEST")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			Port:               getPort(),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:    getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			ConnectionString: getEnv("DATABASE_URL", ""),
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey:       getEnv("OPENAI_API_KEY", ""),
				BaseURL:      getEnv("OPENAI_BASE_URL", ""),
				DefaultModel: getEnv("OPENAI_DEFAULT_MODEL", ""),
			},
			Anthropic: ProviderConfig{
				APIKey:       getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL:      getEnv("ANTHROPIC_BASE_URL", ""),
				DefaultModel: getEnv("ANTHROPIC_DEFAULT_MODEL", ""),
			},
			Gemini: ProviderConfig{
				APIKey:       getEnv("GEMINI_API_KEY", ""),
				BaseURL:      getEnv("GEMINI_BASE_URL", ""),
				DefaultModel: getEnv("GEMINI_DEFAULT_MODEL", ""),
			},
			Timeout: getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			CostOptimized:     getEnvAsBool("ORCHESTRATOR_COST_OPTIMIZED", false),
			FallbackEnabled:   getEnvAsBool("ORCHESTRATOR_FALLBACK_ENABLED", true),
			MaxRetries:        getEnvAsInt("ORCHESTRATOR_MAX_RETRIES", 3),
			MaxCostPerRequest: maxCost,
			PreferredProvider: getEnv("ORCHESTRATOR_PREFERRED_PROVIDER", ""),
			BackoffInitial:    getEnvAsDuration("ORCHESTRATOR_BACKOFF_INITIAL", 200*time.Millisecond),
			BackoffMax:        getEnvAsDuration("ORCHESTRATOR_BACKOFF_MAX", 5*time.Second),
			BackoffMultiplier: getEnvAsFloat("ORCHESTRATOR_BACKOFF_MULTIPLIER", 2.0),
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     getEnvAsBool("CIRCUIT_BREAKER_ENABLED", false),
				Failures:    getEnvAsInt("CIRCUIT_BREAKER_FAILURES", 5),
				OpenTimeout: getEnvAsDuration("CIRCUIT_BREAKER_OPEN_TIMEOUT", 30*time.Second),
			},
		},
		Health: HealthConfig{
			CacheTTL:           getEnvAsDuration("HEALTH_CACHE_TTL", 60*time.Second),
			HealthCheckTimeout: getEnvAsDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field rules; orchestrator policy ranges are validated by the orchestrator
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Orchestrator.PreferredProvider {
	case "", "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("unknown preferred provider: %s", c.Orchestrator.PreferredProvider)
	}

	if c.Orchestrator.CircuitBreaker.Enabled && c.Orchestrator.CircuitBreaker.Failures <= 0 {
		return fmt.Errorf("circuit breaker failure threshold must be positive")
	}

	if c.IsProduction() && len(c.EnabledProviders()) == 0 {
		return fmt.Errorf("at least one AI provider must be configured in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// EnabledProviders returns the names of providers with credentials, in registration order
func (c *Config) EnabledProviders() []string {
	var names []string
	if c.Providers.OpenAI.Enabled() {
		names = append(names, "openai")
	}
	if c.Providers.Anthropic.Enabled() {
		names = append(names, "anthropic")
	}
	if c.Providers.Gemini.Enabled() {
		names = append(names, "gemini")
	}
	return names
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// PersistenceEnabled reports whether usage records are stored in Postgres
func (c *DatabaseConfig) PersistenceEnabled() bool {
	return c.ConnectionString != ""
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil || u.Host == "" {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return getEnvAsInt("SERVER_PORT", 8080)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsOptionalFloat returns nil when key is unset; a malformed value is an error
func getEnvAsOptionalFloat(key string) (*float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
