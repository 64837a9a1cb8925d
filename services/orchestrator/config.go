package orchestrator

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/upb/ai-orchestrator/services"
	"github.com/upb/ai-orchestrator/services/health"
)

// Config holds the policy knobs of one Orchestrator instance
type Config struct {
	// CostOptimized orders candidates by ascending estimated cost
	CostOptimized bool

	// FallbackEnabled moves to the next candidate after a failed attempt
	FallbackEnabled bool

	// MaxRetries bounds the total number of attempts across all candidates
	MaxRetries int `validate:"gte=1"`

	// MaxCostPerRequest is the optional cost ceiling for a single request
	MaxCostPerRequest *float64 `validate:"omitempty,gte=0"`

	// PreferredProvider is tried first whenever it is available
	PreferredProvider string

	// DefaultTimeout bounds a provider call when GenerateOptions.Timeout is unset
	DefaultTimeout time.Duration `validate:"gte=0"`

	// HealthTTL is how long a health check is served from cache
	HealthTTL time.Duration `validate:"gte=0"`

	Backoff        BackoffPolicy
	CircuitBreaker CircuitBreakerConfig
}

// BackoffPolicy is an exponential delay between failed attempts
type BackoffPolicy struct {
	InitialDelay time.Duration `validate:"gte=0"`
	MaxDelay     time.Duration `validate:"omitempty,gtefield=InitialDelay"`
	Multiplier   float64       `validate:"omitempty,gte=1"`
}

// CircuitBreakerConfig configures the optional per-provider breakers
type CircuitBreakerConfig struct {
	Enabled bool

	// FailureThreshold is the number of consecutive failures that opens a breaker
	FailureThreshold uint32 `validate:"required_if=Enabled true"`

	// OpenTimeout is how long a breaker stays open before allowing a trial call
	OpenTimeout time.Duration `validate:"gte=0"`

	// HalfOpenRequests is the number of trial calls allowed while half-open
	HalfOpenRequests uint32
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		CostOptimized:   false,
		FallbackEnabled: true,
		MaxRetries:      3,
		DefaultTimeout:  30 * time.Second,
		HealthTTL:       health.DefaultTTL,
		Backoff:         DefaultBackoffPolicy(),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          false,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			HalfOpenRequests: 1,
		},
	}
}

// DefaultBackoffPolicy waits 200ms before the first retry and doubles up to 5s
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

var validate = validator.New()

// Validate checks the configuration
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		domainErr := services.ErrInvalidConfig.WithCause(err)
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				domainErr.WithDetail(fe.Namespace(), fe.Tag())
			}
		}
		return domainErr
	}
	return nil
}
