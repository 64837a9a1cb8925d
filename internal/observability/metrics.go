package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt and request outcomes
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeCostExceeded = "cost_exceeded"
	OutcomeNoProviders  = "no_providers"
	OutcomeCancelled    = "cancelled"
	// OutcomeRejected marks an attempt that failed with a non-retryable provider error
	OutcomeRejected     = "rejected"
)

// Health check results
const (
	HealthCacheHit    = "cache_hit"
	HealthAvailable   = "available"
	HealthUnavailable = "unavailable"
)

// Metrics collects orchestrator metrics.
type Metrics interface {
	RecordAttempt(provider, outcome string, duration time.Duration)
	RecordRequest(outcome string)
	RecordUsage(provider, model string, tokens int, cost float64)
	RecordHealthCheck(provider, result string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordAttempt(string, string, time.Duration) {}
func (NopMetrics) RecordRequest(string)                        {}
func (NopMetrics) RecordUsage(string, string, int, float64)    {}
func (NopMetrics) RecordHealthCheck(string, string)            {}

// PrometheusMetrics implements Metrics with client_golang collectors.
type PrometheusMetrics struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	cost            *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	healthChecks    *prometheus.CounterVec
}

// NewPrometheusMetrics registers the orchestrator collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_orchestrator_attempts_total",
				Help: "Provider attempts by outcome",
			},
			[]string{"provider", "outcome"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ai_orchestrator_attempt_duration_seconds",
				Help:    "Provider attempt duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_orchestrator_requests_total",
				Help: "GenerateText calls by terminal outcome",
			},
			[]string{"outcome"},
		),
		cost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_orchestrator_cost_dollars_total",
				Help: "Total realized generation cost in dollars",
			},
			[]string{"provider", "model"},
		),
		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_orchestrator_tokens_total",
				Help: "Total tokens used by successful generations",
			},
			[]string{"provider", "model"},
		),
		healthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_orchestrator_health_checks_total",
				Help: "Provider health lookups by result",
			},
			[]string{"provider", "result"},
		),
	}
}

func (m *PrometheusMetrics) RecordAttempt(provider, outcome string, duration time.Duration) {
	m.attempts.WithLabelValues(provider, outcome).Inc()
	m.attemptDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordRequest(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordUsage(provider, model string, tokens int, cost float64) {
	m.tokens.WithLabelValues(provider, model).Add(float64(tokens))
	m.cost.WithLabelValues(provider, model).Add(cost)
}

func (m *PrometheusMetrics) RecordHealthCheck(provider, result string) {
	m.healthChecks.WithLabelValues(provider, result).Inc()
}
