package orchestrator

import (
	"errors"
	"sync"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/upb/ai-orchestrator/services/providers"
)

// breakerSet lazily keeps one circuit breaker per provider name.
// A nil *breakerSet is valid and disables circuit breaking.
type breakerSet struct {
	mu       sync.Mutex
	config   CircuitBreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

func newBreakerSet(config CircuitBreakerConfig, logger *zap.Logger) *breakerSet {
	if !config.Enabled {
		return nil
	}
	return &breakerSet{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

func (s *breakerSet) get(name string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[name]; ok {
		return cb
	}

	threshold := s.config.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.config.HalfOpenRequests,
		Timeout:     s.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Info("circuit breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// a model the provider does not price says nothing about its health
		IsSuccessful: func(err error) bool {
			return err == nil || providers.IsUnknownModel(err)
		},
	})
	s.breakers[name] = cb
	return cb
}

// allows reports whether the breaker for name would admit a call
func (s *breakerSet) allows(name string) bool {
	if s == nil {
		return true
	}
	return s.get(name).State() != gobreaker.StateOpen
}

func (s *breakerSet) execute(name string, fn func() (*providers.GenerationResult, error)) (*providers.GenerationResult, error) {
	if s == nil {
		return fn()
	}

	out, err := s.get(name).Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, providers.NewProviderError(name, "CIRCUIT_OPEN", "circuit breaker rejected the call", 0, true, err)
	}
	if err != nil {
		return nil, err
	}
	result, _ := out.(*providers.GenerationResult)
	return result, nil
}

func (s *breakerSet) state(name string) gobreaker.State {
	if s == nil {
		return gobreaker.StateClosed
	}
	return s.get(name).State()
}

func (s *breakerSet) remove(name string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, name)
}
