package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is the capability set every text-generation backend exposes.
// Concrete vendor adapters and test doubles satisfy it structurally.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "anthropic", "gemini")
	Name() string

	// Models returns the models priced by this provider
	Models() []string

	// GenerateText performs a single-shot generation call
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (*GenerationResult, error)

	// EstimateCost predicts token usage and cost without a network call
	EstimateCost(prompt string, opts GenerateOptions) (*CostEstimate, error)

	// CheckHealth issues a minimal request and reports reachability and latency
	CheckHealth(ctx context.Context) ProviderHealth

	// IsAvailable reports CheckHealth(ctx).Available
	IsAvailable(ctx context.Context) bool
}

// MetadataUser is the GenerateOptions.Metadata key naming the end user a call is made for.
// Adapters forward it to vendors that accept a user identifier.
const MetadataUser = "user"

// GenerateOptions carries per-call generation parameters
type GenerateOptions struct {
	// Model identifier; empty selects the provider's default model
	Model string `json:"model,omitempty"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness
	Temperature float64 `json:"temperature,omitempty"`

	// SystemPrompt is sent ahead of the user prompt
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Timeout bounds a single provider call
	Timeout time.Duration `json:"-"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GenerationResult is the outcome of a successful generate call
type GenerationResult struct {
	Text           string  `json:"text"`
	Model          string  `json:"model"`
	ProviderName   string  `json:"provider_name"`
	TokensUsed     int     `json:"tokens_used"`
	Cost           float64 `json:"cost"`
	ResponseTimeMs int64   `json:"response_time_ms"`
}

// CostEstimate is the predicted resource usage for a prompt
type CostEstimate struct {
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
	Currency      string  `json:"currency"`
}

// ProviderHealth is a point-in-time reachability snapshot
type ProviderHealth struct {
	Available bool      `json:"available"`
	LatencyMs int64     `json:"latency_ms"`
	ErrorRate float64   `json:"error_rate"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// DefaultModel used when GenerateOptions.Model is empty
	DefaultModel string

	// Timeout for generation requests
	Timeout time.Duration

	// HealthCheckTimeout bounds CheckHealth
	HealthCheckTimeout time.Duration

	// Additional headers
	Headers map[string]string

	// OrgID for organization-specific endpoints
	OrgID string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:            30 * time.Second,
		HealthCheckTimeout: DefaultHealthCheckTimeout,
		Headers:            make(map[string]string),
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.Provider == "" {
		msg = e.Message
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// UnknownModelError is returned when a model is not in a provider's cost table
type UnknownModelError struct {
	Provider string
	Model    string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q for provider %s", e.Model, e.Provider)
}

// NewUnknownModelError creates a new unknown model error
func NewUnknownModelError(provider, model string) *UnknownModelError {
	return &UnknownModelError{Provider: provider, Model: model}
}

// IsUnknownModel checks if an error is an UnknownModelError
func IsUnknownModel(err error) bool {
	var modelErr *UnknownModelError
	return errors.As(err, &modelErr)
}
