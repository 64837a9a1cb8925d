package services

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/upb/ai-orchestrator/services/providers"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound             ErrorType = "not_found"
	ErrorTypeValidation           ErrorType = "validation"
	ErrorTypeUnauthorized         ErrorType = "unauthorized"
	ErrorTypeConflict             ErrorType = "conflict"
	ErrorTypeInternal             ErrorType = "internal"
	ErrorTypeUnknownModel         ErrorType = "unknown_model"
	ErrorTypeProvider             ErrorType = "provider_error"
	ErrorTypeCostExceeded         ErrorType = "cost_exceeded"
	ErrorTypeNoProvidersAvailable ErrorType = "no_providers_available"
	ErrorTypeAllProvidersFailed   ErrorType = "all_providers_failed"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause returns a copy of e wrapping err, so shared sentinels are never mutated
func (e *DomainError) WithCause(err error) *DomainError {
	out := NewDomainError(e.Type, e.Message, err)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	return out
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

var (
	ErrEmptyPrompt     = NewDomainError(ErrorTypeValidation, "prompt cannot be empty", nil)
	ErrInvalidConfig   = NewDomainError(ErrorTypeValidation, "invalid orchestrator configuration", nil)
	ErrInvalidProvider = NewDomainError(ErrorTypeValidation, "invalid provider", nil)
	ErrProviderExists  = NewDomainError(ErrorTypeConflict, "provider already registered", nil)
	ErrInternal        = NewDomainError(ErrorTypeInternal, "An internal error occurred", nil)
	ErrUsageDisabled   = NewDomainError(ErrorTypeNotFound, "usage persistence is not enabled", nil)
)

// CostExceededError is returned when a candidate's estimated or realized
// cost is above the configured per-request ceiling
type CostExceededError struct {
	Provider string
	Cost     float64
	Max      float64
}

// Error renders both values as plain decimals, e.g. "Cost 0.2 exceeds maximum 0.1"
func (e *CostExceededError) Error() string {
	return "Cost " + formatDecimal(e.Cost) + " exceeds maximum " + formatDecimal(e.Max)
}

// NewCostExceededError creates a new cost exceeded error
func NewCostExceededError(provider string, cost, max float64) *CostExceededError {
	return &CostExceededError{Provider: provider, Cost: cost, Max: max}
}

// NoProvidersAvailableError is returned when no registered provider reports available
type NoProvidersAvailableError struct {
	// Registered is the number of providers that were checked
	Registered int
}

func (e *NoProvidersAvailableError) Error() string {
	return "No AI providers available"
}

// AllProvidersFailedError is returned once the attempt budget or the candidate list is exhausted
type AllProvidersFailedError struct {
	Attempts int
	Errors   []error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("All providers failed after %d attempts", e.Attempts)
}

// Unwrap exposes every per-attempt error to errors.Is and errors.As
func (e *AllProvidersFailedError) Unwrap() []error {
	return e.Errors
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsCostExceeded checks if an error is, or wraps, a CostExceededError
func IsCostExceeded(err error) bool {
	var costErr *CostExceededError
	return errors.As(err, &costErr)
}

// IsNoProvidersAvailable checks if an error is a NoProvidersAvailableError
func IsNoProvidersAvailable(err error) bool {
	var noneErr *NoProvidersAvailableError
	return errors.As(err, &noneErr)
}

// IsAllProvidersFailed checks if an error is an AllProvidersFailedError
func IsAllProvidersFailed(err error) bool {
	var failedErr *AllProvidersFailedError
	return errors.As(err, &failedErr)
}

// GetErrorType classifies err. Terminal orchestrator errors win over the
// per-attempt errors they wrap.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var (
		noneErr   *NoProvidersAvailableError
		failedErr *AllProvidersFailedError
		costErr   *CostExceededError
		modelErr  *providers.UnknownModelError
		provErr   *providers.ProviderError
		domainErr *DomainError
	)

	switch {
	case errors.As(err, &noneErr):
		return ErrorTypeNoProvidersAvailable
	case errors.As(err, &failedErr):
		return ErrorTypeAllProvidersFailed
	case errors.As(err, &costErr):
		return ErrorTypeCostExceeded
	case errors.As(err, &modelErr):
		return ErrorTypeUnknownModel
	case errors.As(err, &provErr):
		return ErrorTypeProvider
	case errors.As(err, &domainErr):
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return WrapError(ErrorTypeInternal, message, err)
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
