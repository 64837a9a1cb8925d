// Package orchestrator routes generation requests across interchangeable
// providers, selecting candidates by policy and falling back with backoff.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/ai-orchestrator/internal/observability"
	"github.com/upb/ai-orchestrator/models"
	"github.com/upb/ai-orchestrator/services"
	"github.com/upb/ai-orchestrator/services/cost"
	"github.com/upb/ai-orchestrator/services/health"
	"github.com/upb/ai-orchestrator/services/providers"
)

// MetadataRequestID is the GenerateOptions.Metadata key carrying a caller-supplied request ID
const MetadataRequestID = "request_id"

// UsageRecorder receives one record per GenerateText call
type UsageRecorder interface {
	Record(ctx context.Context, record *models.GenerationRecord) error
}

// Orchestrator selects among registered providers and manages retry and
// fallback for a single logical request. It is safe for concurrent use.
type Orchestrator struct {
	config   Config
	registry *providers.Registry
	monitor  *health.Monitor
	breakers *breakerSet
	sleep    Sleeper
	recorder UsageRecorder
	logger   *zap.Logger
	metrics  observability.Metrics
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics observability.Metrics) Option {
	return func(o *Orchestrator) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithSleeper replaces the backoff sleep, e.g. to make timing deterministic in tests
func WithSleeper(sleep Sleeper) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithHealthMonitor shares an existing health monitor
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(o *Orchestrator) {
		o.monitor = monitor
	}
}

// WithUsageRecorder records the outcome of every GenerateText call
func WithUsageRecorder(recorder UsageRecorder) Option {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

// NewOrchestrator creates an orchestrator over providers, registered in the given order.
// Zero-valued timeouts and backoff fall back to DefaultConfig values.
func NewOrchestrator(all []providers.Provider, config Config, opts ...Option) (*Orchestrator, error) {
	defaults := DefaultConfig()
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.Backoff == (BackoffPolicy{}) {
		config.Backoff = defaults.Backoff
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:   config,
		registry: providers.NewRegistry(),
		sleep:    sleepContext,
		logger:   zap.NewNop(),
		metrics:  observability.NopMetrics{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.monitor == nil {
		o.monitor = health.NewMonitor(config.HealthTTL,
			health.WithLogger(o.logger),
			health.WithMetrics(o.metrics),
		)
	}
	o.breakers = newBreakerSet(config.CircuitBreaker, o.logger)

	for _, p := range all {
		if err := o.AddProvider(p); err != nil {
			return nil, err
		}
	}

	if name := config.PreferredProvider; name != "" {
		if _, err := o.registry.GetProvider(name); err != nil {
			o.logger.Warn("preferred provider is not registered", zap.String("provider", name))
		}
	}

	return o, nil
}

// GenerateText generates text with the first candidate that succeeds.
// It fails with NoProvidersAvailableError when no provider is available and
// with AllProvidersFailedError once candidates or the attempt budget run out.
func (o *Orchestrator) GenerateText(ctx context.Context, prompt string, opts providers.GenerateOptions) (*providers.GenerationResult, error) {
	requestID := opts.Metadata[MetadataRequestID]
	if requestID == "" {
		requestID = uuid.New().String()
	}
	logger := o.logger.With(zap.String("request_id", requestID))
	start := time.Now()

	result, attempts, err := o.generate(ctx, logger, prompt, opts)

	latency := time.Since(start)
	if err != nil {
		logger.Warn("generation failed",
			zap.Int("attempts", attempts),
			zap.Int64("latency_ms", latency.Milliseconds()),
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err),
		)
	} else {
		logger.Info("generation succeeded",
			zap.String("provider", result.ProviderName),
			zap.String("model", result.Model),
			zap.Int("attempts", attempts),
			zap.Int("tokens_used", result.TokensUsed),
			zap.Float64("cost", result.Cost),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)
	}

	o.recordUsage(ctx, logger, requestID, prompt, opts, result, attempts, latency, err)

	return result, err
}

func (o *Orchestrator) generate(ctx context.Context, logger *zap.Logger, prompt string, opts providers.GenerateOptions) (*providers.GenerationResult, int, error) {
	candidates, err := o.selectCandidates(ctx, logger, prompt, opts)
	if err != nil {
		if services.IsNoProvidersAvailable(err) {
			o.metrics.RecordRequest(observability.OutcomeNoProviders)
		} else {
			o.metrics.RecordRequest(observability.OutcomeFailure)
		}
		return nil, 0, err
	}

	var (
		attempts int
		failures []error
	)

	for _, candidate := range candidates {
		if attempts > 0 {
			delay := o.config.Backoff.Delay(attempts)
			logger.Debug("backing off before next candidate",
				zap.String("next_provider", candidate.Name()),
				zap.Duration("delay", delay),
			)
			if err := o.sleep(ctx, delay); err != nil {
				o.metrics.RecordRequest(observability.OutcomeCancelled)
				return nil, attempts, fmt.Errorf("generation cancelled after %d attempts: %w", attempts, err)
			}
		}

		attempts++
		result, err := o.attempt(ctx, logger, candidate, attempts, prompt, opts)
		if err == nil {
			o.metrics.RecordRequest(observability.OutcomeSuccess)
			return result, attempts, nil
		}
		failures = append(failures, err)

		if attempts >= o.config.MaxRetries || !o.config.FallbackEnabled {
			break
		}
	}

	termErr := terminalError(attempts, failures)
	if services.IsAllProvidersFailed(termErr) {
		o.metrics.RecordRequest(observability.OutcomeFailure)
	} else {
		o.metrics.RecordRequest(observability.OutcomeCostExceeded)
	}
	return nil, attempts, termErr
}

// terminalError folds per-attempt failures into the error surfaced to the caller.
// When every attempt was rejected by the cost ceiling the last CostExceededError
// is surfaced as is, so callers see why the request was refused.
func terminalError(attempts int, failures []error) error {
	var last *services.CostExceededError
	for _, err := range failures {
		var costErr *services.CostExceededError
		if !errors.As(err, &costErr) {
			return &services.AllProvidersFailedError{Attempts: attempts, Errors: failures}
		}
		last = costErr
	}
	if last != nil {
		return last
	}
	return &services.AllProvidersFailedError{Attempts: attempts, Errors: failures}
}

// attempt runs one candidate under the per-call timeout and the cost ceiling
func (o *Orchestrator) attempt(ctx context.Context, logger *zap.Logger, p providers.Provider, n int, prompt string, opts providers.GenerateOptions) (*providers.GenerationResult, error) {
	name := p.Name()
	start := time.Now()

	fail := func(outcome string, err error) (*providers.GenerationResult, error) {
		elapsed := time.Since(start)
		o.metrics.RecordAttempt(name, outcome, elapsed)
		logger.Warn("provider attempt failed",
			zap.String("provider", name),
			zap.Int("attempt", n),
			zap.String("outcome", outcome),
			zap.Int64("latency_ms", elapsed.Milliseconds()),
			zap.Error(err),
		)
		return nil, err
	}

	if o.config.MaxCostPerRequest != nil {
		est, err := p.EstimateCost(prompt, opts)
		if err != nil {
			return fail(observability.OutcomeFailure, err)
		}
		if err := cost.CheckCeiling(name, est.EstimatedCost, o.config.MaxCostPerRequest); err != nil {
			return fail(observability.OutcomeCostExceeded, err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.config.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callOpts := opts
	callOpts.Timeout = timeout

	result, err := o.breakers.execute(name, func() (*providers.GenerationResult, error) {
		return p.GenerateText(callCtx, prompt, callOpts)
	})
	if err == nil && result == nil {
		err = providers.NewProviderError(name, "EMPTY_RESULT", "provider returned no result", 0, true, nil)
	}
	if err != nil {
		err = asProviderError(name, err)
		outcome := observability.OutcomeFailure
		if !providers.IsRetryable(err) {
			// the request itself was refused: an unpriced model or a non-retryable vendor status
			outcome = observability.OutcomeRejected
		}
		return fail(outcome, err)
	}

	result.ProviderName = name

	if err := cost.CheckCeiling(name, result.Cost, o.config.MaxCostPerRequest); err != nil {
		return fail(observability.OutcomeCostExceeded, err)
	}

	elapsed := time.Since(start)
	o.metrics.RecordAttempt(name, observability.OutcomeSuccess, elapsed)
	o.metrics.RecordUsage(name, result.Model, result.TokensUsed, result.Cost)
	logger.Debug("provider attempt succeeded",
		zap.String("provider", name),
		zap.Int("attempt", n),
		zap.Int64("latency_ms", elapsed.Milliseconds()),
	)

	return result, nil
}

// asProviderError keeps typed provider errors and wraps anything else
func asProviderError(name string, err error) error {
	var provErr *providers.ProviderError
	if errors.As(err, &provErr) || providers.IsUnknownModel(err) {
		return err
	}
	code := "PROVIDER_FAILURE"
	if errors.Is(err, context.DeadlineExceeded) {
		code = "TIMEOUT"
	}
	return providers.NewProviderError(name, code, "generation failed", 0, true, err)
}

// selectCandidates applies the ordering policy once per GenerateText call:
// available providers only, preferred provider first, then ascending estimated
// cost when cost-optimized or registration order otherwise.
func (o *Orchestrator) selectCandidates(ctx context.Context, logger *zap.Logger, prompt string, opts providers.GenerateOptions) ([]providers.Provider, error) {
	registered := o.registry.Providers()

	eligible := make([]providers.Provider, 0, len(registered))
	for _, p := range registered {
		if o.breakers.allows(p.Name()) {
			eligible = append(eligible, p)
		} else {
			logger.Debug("skipping provider with open circuit", zap.String("provider", p.Name()))
		}
	}

	available := o.monitor.Available(ctx, eligible)
	if len(available) == 0 {
		return nil, &services.NoProvidersAvailableError{Registered: len(registered)}
	}

	var preferred providers.Provider
	rest := available
	if name := o.config.PreferredProvider; name != "" {
		for i, p := range available {
			if p.Name() == name {
				preferred = p
				rest = make([]providers.Provider, 0, len(available)-1)
				rest = append(rest, available[:i]...)
				rest = append(rest, available[i+1:]...)
				break
			}
		}
		if preferred == nil {
			logger.Debug("preferred provider unavailable", zap.String("provider", name))
		}
	}

	if o.config.CostOptimized {
		ranked, failures := cost.Rank(rest, prompt, opts)

		var dropped []error
		for _, p := range rest {
			if err, ok := failures[p.Name()]; ok {
				logger.Debug("dropping provider with failed cost estimate",
					zap.String("provider", p.Name()),
					zap.Error(err),
				)
				dropped = append(dropped, err)
			}
		}

		rest = make([]providers.Provider, 0, len(ranked))
		for _, r := range ranked {
			rest = append(rest, r.Provider)
		}

		if preferred == nil && len(rest) == 0 {
			return nil, &services.AllProvidersFailedError{Attempts: 0, Errors: dropped}
		}
	}

	if preferred != nil {
		return append([]providers.Provider{preferred}, rest...), nil
	}
	return rest, nil
}

// EstimateCosts asks every registered provider for an estimate concurrently.
// Providers whose estimate fails are omitted; only an empty registry is an error.
func (o *Orchestrator) EstimateCosts(ctx context.Context, prompt string, opts providers.GenerateOptions) (map[string]*providers.CostEstimate, error) {
	registered := o.registry.Providers()
	if len(registered) == 0 {
		return nil, &services.NoProvidersAvailableError{}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	estimates, failures := cost.EstimateAll(registered, prompt, opts)
	for name, err := range failures {
		o.logger.Debug("cost estimate failed", zap.String("provider", name), zap.Error(err))
	}

	return estimates, nil
}

// GetProviderHealth returns the (possibly cached) health of every registered provider.
// Unavailable providers are included with Available=false.
func (o *Orchestrator) GetProviderHealth(ctx context.Context) (map[string]providers.ProviderHealth, error) {
	registered := o.registry.Providers()
	if len(registered) == 0 {
		return nil, &services.NoProvidersAvailableError{}
	}

	return o.monitor.GetAll(ctx, registered), nil
}

// AddProvider registers p; names must be unique
func (o *Orchestrator) AddProvider(p providers.Provider) error {
	if err := o.registry.RegisterProvider(p); err != nil {
		if errors.Is(err, providers.ErrProviderAlreadyRegistered) {
			return services.ErrProviderExists.WithCause(err)
		}
		return services.ErrInvalidProvider.WithCause(err)
	}

	o.logger.Info("provider added", zap.String("provider", p.Name()), zap.Strings("models", p.Models()))
	return nil
}

// RemoveProvider unregisters name and drops its cached health and breaker.
// Unknown names are a no-op; the return value reports whether anything was removed.
func (o *Orchestrator) RemoveProvider(name string) bool {
	removed := o.registry.UnregisterProvider(name)
	o.monitor.Invalidate(name)
	o.breakers.remove(name)

	if removed {
		o.logger.Info("provider removed", zap.String("provider", name))
	}
	return removed
}

// Providers returns the registered providers in registration order
func (o *Orchestrator) Providers() []providers.Provider {
	return o.registry.Providers()
}

// ProviderNames returns the registered provider names in registration order
func (o *Orchestrator) ProviderNames() []string {
	return o.registry.ListProviders()
}

// ProviderCount returns the number of registered providers
func (o *Orchestrator) ProviderCount() int {
	return o.registry.GetProviderCount()
}

// CircuitState returns the breaker state of name ("closed" when breakers are disabled)
func (o *Orchestrator) CircuitState(name string) string {
	return o.breakers.state(name).String()
}

// Config returns the orchestrator configuration
func (o *Orchestrator) Config() Config {
	return o.config
}

func (o *Orchestrator) recordUsage(ctx context.Context, logger *zap.Logger, requestID, prompt string, opts providers.GenerateOptions, result *providers.GenerationResult, attempts int, latency time.Duration, err error) {
	if o.recorder == nil {
		return
	}

	status := models.GenerationStatusSucceeded
	if err != nil {
		status = models.GenerationStatusFailed
	}

	record := models.NewGenerationRecord(requestID, status)
	record.Model = opts.Model
	record.Attempts = attempts
	record.PromptChars = len([]rune(prompt))
	record.LatencyMs = latency.Milliseconds()
	if result != nil {
		record.Provider = result.ProviderName
		record.Model = result.Model
		record.TokensUsed = result.TokensUsed
		record.Cost = result.Cost
	}
	if err != nil {
		record.SetError(string(services.GetErrorType(err)), err.Error())
	}

	if recErr := o.recorder.Record(ctx, record); recErr != nil {
		logger.Warn("failed to record generation usage", zap.Error(recErr))
	}
}
