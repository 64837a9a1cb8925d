// Package providertest provides an in-memory providers.Provider for tests.
package providertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/upb/ai-orchestrator/services/providers"
)

// DefaultModel is the only model a Fake prices unless Models is overridden
const DefaultModel = "fake-model"

// ErrGenerate is the error returned by a Fake configured to fail
var ErrGenerate = errors.New("fake provider failure")

// Fake is a configurable provider double. Configure fields before use;
// call counters and availability are safe for concurrent use.
type Fake struct {
	ProviderName string
	ModelList    []string

	// EstimatedCost is reported by EstimateCost
	EstimatedCost float64
	// ResultCost is reported on GenerationResult.Cost
	ResultCost float64
	// Text is returned by GenerateText
	Text string

	GenerateErr error
	EstimateErr error

	// GenerateDelay and HealthDelay simulate network latency; both honor ctx
	GenerateDelay time.Duration
	HealthDelay   time.Duration

	// GenerateFunc overrides GenerateText entirely when set
	GenerateFunc func(ctx context.Context, prompt string, opts providers.GenerateOptions) (*providers.GenerationResult, error)

	mu            sync.Mutex
	available     bool
	generateCalls int
	estimateCalls int
	healthCalls   int
}

// New returns an available Fake with cost 0.01 for both estimate and result
func New(name string) *Fake {
	return &Fake{
		ProviderName:  name,
		ModelList:     []string{DefaultModel},
		EstimatedCost: 0.01,
		ResultCost:    0.01,
		Text:          "generated by " + name,
		available:     true,
	}
}

// WithCost sets both the estimated and the realized cost
func (f *Fake) WithCost(cost float64) *Fake {
	f.EstimatedCost = cost
	f.ResultCost = cost
	return f
}

// Failing makes every GenerateText call fail with ErrGenerate
func (f *Fake) Failing() *Fake {
	f.GenerateErr = ErrGenerate
	return f
}

// SetAvailable toggles the outcome of health checks
func (f *Fake) SetAvailable(available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = available
}

func (f *Fake) Name() string {
	return f.ProviderName
}

func (f *Fake) Models() []string {
	return f.ModelList
}

func (f *Fake) GenerateText(ctx context.Context, prompt string, opts providers.GenerateOptions) (*providers.GenerationResult, error) {
	f.mu.Lock()
	f.generateCalls++
	f.mu.Unlock()

	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, prompt, opts)
	}
	if err := wait(ctx, f.GenerateDelay); err != nil {
		return nil, providers.NewProviderError(f.ProviderName, "TIMEOUT", "request cancelled", 0, true, err)
	}
	if f.GenerateErr != nil {
		return nil, providers.NewProviderError(f.ProviderName, "FAKE_ERROR", "generation failed", 500, true, f.GenerateErr)
	}

	model, err := f.model(opts.Model)
	if err != nil {
		return nil, err
	}
	return &providers.GenerationResult{
		Text:           f.Text,
		Model:          model,
		ProviderName:   f.ProviderName,
		TokensUsed:     providers.EstimateTokens(prompt, providers.DefaultCharsPerToken) + 10,
		Cost:           f.ResultCost,
		ResponseTimeMs: f.GenerateDelay.Milliseconds(),
	}, nil
}

func (f *Fake) EstimateCost(prompt string, opts providers.GenerateOptions) (*providers.CostEstimate, error) {
	f.mu.Lock()
	f.estimateCalls++
	f.mu.Unlock()

	if f.EstimateErr != nil {
		return nil, f.EstimateErr
	}
	if _, err := f.model(opts.Model); err != nil {
		return nil, err
	}

	outputTokens := opts.MaxTokens
	if outputTokens <= 0 {
		outputTokens = providers.DefaultOutputTokens
	}
	return &providers.CostEstimate{
		InputTokens:   providers.EstimateTokens(prompt, providers.DefaultCharsPerToken),
		OutputTokens:  outputTokens,
		EstimatedCost: f.EstimatedCost,
		Currency:      providers.CurrencyUSD,
	}, nil
}

func (f *Fake) CheckHealth(ctx context.Context) providers.ProviderHealth {
	f.mu.Lock()
	f.healthCalls++
	available := f.available
	f.mu.Unlock()

	return providers.RunHealthCheck(ctx, providers.DefaultHealthCheckTimeout, func(ctx context.Context) error {
		if err := wait(ctx, f.HealthDelay); err != nil {
			return err
		}
		if !available {
			return errors.New("provider unreachable")
		}
		return nil
	})
}

func (f *Fake) IsAvailable(ctx context.Context) bool {
	return f.CheckHealth(ctx).Available
}

// GenerateCalls returns the number of GenerateText calls
func (f *Fake) GenerateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls
}

// EstimateCalls returns the number of EstimateCost calls
func (f *Fake) EstimateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.estimateCalls
}

// HealthCalls returns the number of CheckHealth calls
func (f *Fake) HealthCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthCalls
}

func (f *Fake) model(requested string) (string, error) {
	if requested == "" {
		return f.ModelList[0], nil
	}
	for _, m := range f.ModelList {
		if m == requested {
			return m, nil
		}
	}
	return "", providers.NewUnknownModelError(f.ProviderName, requested)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
