// Package health memoizes provider health checks for a bounded interval.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/ai-orchestrator/internal/observability"
	"github.com/upb/ai-orchestrator/services/providers"
)

// DefaultTTL is how long a health check result is served from cache
const DefaultTTL = 60 * time.Second

// cacheEntry holds the last health check of one provider.
// mu serializes checks so concurrent cold reads share one network call.
type cacheEntry struct {
	mu         sync.Mutex
	health     providers.ProviderHealth
	capturedAt time.Time
	ttl        time.Duration
	valid      bool
}

func (e *cacheEntry) isFresh(now time.Time) bool {
	return e.valid && now.Sub(e.capturedAt) < e.ttl
}

// Monitor wraps Provider.CheckHealth with a TTL cache keyed by provider name
type Monitor struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	now     func() time.Time
	hits    uint64
	misses  uint64

	logger  *zap.Logger
	metrics observability.Metrics
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock replaces time.Now for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithMetrics records cache hits and health check outcomes
func WithMetrics(metrics observability.Metrics) Option {
	return func(m *Monitor) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor creates a Monitor; a non-positive ttl selects DefaultTTL
func NewMonitor(ttl time.Duration, opts ...Option) *Monitor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Monitor{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  zap.NewNop(),
		metrics: observability.NopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetHealth returns the cached health of p while it is within the TTL,
// otherwise checks p, stores the result, and returns it
func (m *Monitor) GetHealth(ctx context.Context, p providers.Provider) providers.ProviderHealth {
	name := p.Name()
	entry := m.lockEntry(name)
	defer entry.mu.Unlock()

	if entry.isFresh(m.now()) {
		m.recordHit(name)
		return entry.health
	}

	m.recordMiss()
	health := m.check(ctx, p)

	// a cancelled caller must not poison the cache for everyone else
	if ctx.Err() != nil && !health.Available {
		return health
	}

	entry.health = health
	entry.capturedAt = m.now()
	entry.ttl = m.ttl
	entry.valid = true

	return health
}

// IsAvailable reports GetHealth(ctx, p).Available
func (m *Monitor) IsAvailable(ctx context.Context, p providers.Provider) bool {
	return m.GetHealth(ctx, p).Available
}

// GetAll fans GetHealth out concurrently and joins the results by provider name
func (m *Monitor) GetAll(ctx context.Context, all []providers.Provider) map[string]providers.ProviderHealth {
	results := m.collect(ctx, all)

	out := make(map[string]providers.ProviderHealth, len(results))
	for i, p := range all {
		if results[i] != nil {
			out[p.Name()] = *results[i]
		}
	}
	return out
}

// Available returns the providers reporting available, preserving input order.
// Checks run concurrently.
func (m *Monitor) Available(ctx context.Context, all []providers.Provider) []providers.Provider {
	results := m.collect(ctx, all)

	out := make([]providers.Provider, 0, len(all))
	for i, p := range all {
		if results[i] != nil && results[i].Available {
			out = append(out, p)
		}
	}
	return out
}

// collect checks every provider concurrently; a nil slot means the check produced no result
func (m *Monitor) collect(ctx context.Context, all []providers.Provider) []*providers.ProviderHealth {
	results := make([]*providers.ProviderHealth, len(all))

	var wg sync.WaitGroup
	for i, p := range all {
		wg.Add(1)
		go func(i int, p providers.Provider) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("health check panicked",
						zap.String("provider", p.Name()),
						zap.String("panic", fmt.Sprint(r)),
					)
				}
			}()

			health := m.GetHealth(ctx, p)
			results[i] = &health
		}(i, p)
	}
	wg.Wait()

	return results
}

// Invalidate drops the cached entry for name
func (m *Monitor) Invalidate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, name)
}

// Clear removes all entries from the cache
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*cacheEntry)
}

// Stats returns cache statistics
func (m *Monitor) Stats() CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := m.hits + m.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(m.hits) / float64(total)
	}

	return CacheStats{
		Size:    len(m.entries),
		Hits:    m.hits,
		Misses:  m.misses,
		HitRate: hitRate,
		TTL:     m.ttl,
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
	TTL     time.Duration
}

// CleanupExpired removes all expired entries and returns how many were removed
func (m *Monitor) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for name, entry := range m.entries {
		// skip entries with a check in flight
		if !entry.mu.TryLock() {
			continue
		}
		expired := !entry.isFresh(now)
		entry.mu.Unlock()

		if expired {
			delete(m.entries, name)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically removes expired entries until ctx is done
func (m *Monitor) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.CleanupExpired(); n > 0 {
				m.logger.Debug("health cache cleanup", zap.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) entry(name string) *cacheEntry {
	m.mu.RLock()
	entry, ok := m.entries[name]
	m.mu.RUnlock()
	if ok {
		return entry
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok = m.entries[name]; ok {
		return entry
	}
	entry = &cacheEntry{}
	m.entries[name] = entry
	return entry
}

// lockEntry returns the locked entry that is current in the map for name.
// CleanupExpired may drop an entry between lookup and lock; probing that
// detached entry would duplicate the check of whoever owns its replacement.
func (m *Monitor) lockEntry(name string) *cacheEntry {
	for {
		entry := m.entry(name)
		entry.mu.Lock()

		m.mu.RLock()
		current := m.entries[name] == entry
		m.mu.RUnlock()
		if current {
			return entry
		}
		entry.mu.Unlock()
	}
}

func (m *Monitor) check(ctx context.Context, p providers.Provider) providers.ProviderHealth {
	health := p.CheckHealth(ctx)

	result := observability.HealthAvailable
	if !health.Available {
		result = observability.HealthUnavailable
		m.logger.Warn("provider health check failed",
			zap.String("provider", p.Name()),
			zap.Int64("latency_ms", health.LatencyMs),
			zap.String("error", health.Error),
		)
	}
	m.metrics.RecordHealthCheck(p.Name(), result)

	return health
}

func (m *Monitor) recordHit(name string) {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
	m.metrics.RecordHealthCheck(name, observability.HealthCacheHit)
}

func (m *Monitor) recordMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}
