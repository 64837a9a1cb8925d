package providers

import (
	"context"
	"time"
)

// DefaultHealthCheckTimeout bounds a single health check
const DefaultHealthCheckTimeout = 5 * time.Second

// HealthCheckFunc performs one minimal request against a provider
type HealthCheckFunc func(ctx context.Context) error

// RunHealthCheck runs fn under timeout and converts its outcome into a ProviderHealth.
// Any error, including the timeout, yields Available=false and ErrorRate=1.
func RunHealthCheck(ctx context.Context, timeout time.Duration, fn HealthCheckFunc) ProviderHealth {
	if timeout <= 0 {
		timeout = DefaultHealthCheckTimeout
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(checkCtx)
	latency := time.Since(start)

	health := ProviderHealth{
		Available: true,
		LatencyMs: latency.Milliseconds(),
		ErrorRate: 0,
		CheckedAt: start,
	}
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}
	if err != nil {
		health.Available = false
		health.ErrorRate = 1
		health.Error = err.Error()
	}
	return health
}
