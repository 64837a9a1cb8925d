package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.RecordAttempt("openai", OutcomeFailure, 120*time.Millisecond)
	m.RecordAttempt("anthropic", OutcomeSuccess, 80*time.Millisecond)
	m.RecordRequest(OutcomeSuccess)
	m.RecordUsage("anthropic", "claude-3-5-haiku-20241022", 150, 0.002)
	m.RecordUsage("anthropic", "claude-3-5-haiku-20241022", 50, 0.001)
	m.RecordHealthCheck("openai", HealthCacheHit)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("openai", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("anthropic", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.tokens.WithLabelValues("anthropic", "claude-3-5-haiku-20241022")))
	assert.InDelta(t, 0.003, testutil.ToFloat64(m.cost.WithLabelValues("anthropic", "claude-3-5-haiku-20241022")), 1e-12)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.healthChecks.WithLabelValues("openai", HealthCacheHit)))

	count, err := testutil.GatherAndCount(reg, "ai_orchestrator_attempt_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewPrometheusMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg)

	assert.Panics(t, func() { NewPrometheusMetrics(reg) })
}

func TestNopMetrics(t *testing.T) {
	var m Metrics = NopMetrics{}
	assert.NotPanics(t, func() {
		m.RecordAttempt("p", OutcomeSuccess, time.Second)
		m.RecordRequest(OutcomeFailure)
		m.RecordUsage("p", "m", 1, 0.1)
		m.RecordHealthCheck("p", HealthAvailable)
	})
}
