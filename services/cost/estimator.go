// Package cost ranks providers by estimated cost and enforces the per-request cost ceiling.
package cost

import (
	"fmt"
	"sort"
	"sync"

	"github.com/upb/ai-orchestrator/services"
	"github.com/upb/ai-orchestrator/services/providers"
)

// Validate returns a CostExceededError when cost is strictly above max
func Validate(provider string, cost, max float64) error {
	if cost > max {
		return services.NewCostExceededError(provider, cost, max)
	}
	return nil
}

// CheckCeiling validates cost against an optional ceiling; a nil ceiling accepts everything
func CheckCeiling(provider string, cost float64, ceiling *float64) error {
	if ceiling == nil {
		return nil
	}
	return Validate(provider, cost, *ceiling)
}

// Ranked is one provider with its estimate
type Ranked struct {
	Provider providers.Provider
	Estimate *providers.CostEstimate
}

// Rank orders candidates ascending by estimated cost. Ties keep the input order.
// Providers whose estimate fails are dropped and reported by name in the returned map.
func Rank(candidates []providers.Provider, prompt string, opts providers.GenerateOptions) ([]Ranked, map[string]error) {
	ranked := make([]Ranked, 0, len(candidates))
	var failures map[string]error

	for _, p := range candidates {
		est, err := p.EstimateCost(prompt, opts)
		if err == nil && est == nil {
			err = fmt.Errorf("%s returned no estimate", p.Name())
		}
		if err != nil {
			if failures == nil {
				failures = make(map[string]error)
			}
			failures[p.Name()] = err
			continue
		}
		ranked = append(ranked, Ranked{Provider: p, Estimate: est})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Estimate.EstimatedCost < ranked[j].Estimate.EstimatedCost
	})

	return ranked, failures
}

// EstimateAll asks every provider for an estimate concurrently.
// Successful estimates and failures are returned in separate maps keyed by provider name.
func EstimateAll(all []providers.Provider, prompt string, opts providers.GenerateOptions) (map[string]*providers.CostEstimate, map[string]error) {
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		estimates = make(map[string]*providers.CostEstimate, len(all))
		failures  = make(map[string]error)
	)

	for _, p := range all {
		wg.Add(1)
		go func(p providers.Provider) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					failures[p.Name()] = fmt.Errorf("estimate panicked: %v", r)
					mu.Unlock()
				}
			}()

			est, err := p.EstimateCost(prompt, opts)
			if err == nil && est == nil {
				err = fmt.Errorf("%s returned no estimate", p.Name())
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[p.Name()] = err
				return
			}
			estimates[p.Name()] = est
		}(p)
	}
	wg.Wait()

	return estimates, failures
}
