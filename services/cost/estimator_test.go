package cost

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/ai-orchestrator/services"
	"github.com/upb/ai-orchestrator/services/providers"
	"github.com/upb/ai-orchestrator/services/providers/providertest"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cost    float64
		max     float64
		wantErr string
	}{
		{name: "below ceiling", cost: 0.05, max: 0.1},
		{name: "equal to ceiling", cost: 0.1, max: 0.1},
		{name: "above ceiling", cost: 0.2, max: 0.1, wantErr: "Cost 0.2 exceeds maximum 0.1"},
		{name: "zero ceiling", cost: 0.0001, max: 0, wantErr: "Cost 0.0001 exceeds maximum 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("openai", tt.cost, tt.max)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())

			var costErr *services.CostExceededError
			require.ErrorAs(t, err, &costErr)
			assert.Equal(t, "openai", costErr.Provider)
		})
	}
}

func TestCheckCeiling(t *testing.T) {
	assert.NoError(t, CheckCeiling("a", 1000, nil))

	ceiling := 0.1
	assert.NoError(t, CheckCeiling("a", 0.1, &ceiling))
	assert.True(t, services.IsCostExceeded(CheckCeiling("a", 0.11, &ceiling)))
}

func TestRank(t *testing.T) {
	a := providertest.New("a").WithCost(0.03)
	b := providertest.New("b").WithCost(0.02)
	c := providertest.New("c").WithCost(0.01)

	ranked, failures := Rank([]providers.Provider{a, b, c}, "prompt", providers.GenerateOptions{})

	assert.Empty(t, failures)
	require.Len(t, ranked, 3)
	assert.Equal(t, "c", ranked[0].Provider.Name())
	assert.Equal(t, "b", ranked[1].Provider.Name())
	assert.Equal(t, "a", ranked[2].Provider.Name())
	assert.Equal(t, 0.01, ranked[0].Estimate.EstimatedCost)
}

func TestRank_TiesKeepRegistrationOrder(t *testing.T) {
	first := providertest.New("first").WithCost(0.02)
	second := providertest.New("second").WithCost(0.01)
	third := providertest.New("third").WithCost(0.01)

	ranked, _ := Rank([]providers.Provider{first, second, third}, "prompt", providers.GenerateOptions{})

	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"second", "third", "first"}, names(ranked))
}

func TestRank_DropsFailedEstimates(t *testing.T) {
	ok := providertest.New("ok")
	broken := providertest.New("broken")
	broken.EstimateErr = errors.New("pricing unavailable")

	ranked, failures := Rank([]providers.Provider{broken, ok}, "prompt", providers.GenerateOptions{})

	assert.Equal(t, []string{"ok"}, names(ranked))
	require.Contains(t, failures, "broken")
	assert.EqualError(t, failures["broken"], "pricing unavailable")
}

func TestEstimateAll(t *testing.T) {
	a := providertest.New("a").WithCost(0.01)
	b := providertest.New("b").WithCost(0.02)
	c := providertest.New("c")
	c.EstimateErr = errors.New("boom")

	estimates, failures := EstimateAll([]providers.Provider{a, b, c}, "prompt", providers.GenerateOptions{})

	assert.Len(t, estimates, 2)
	assert.Contains(t, estimates, "a")
	assert.Contains(t, estimates, "b")
	assert.NotContains(t, estimates, "c")
	assert.Len(t, failures, 1)
	assert.Equal(t, 1, c.EstimateCalls())
}

func TestEstimateAll_UnknownModel(t *testing.T) {
	a := providertest.New("a")

	estimates, failures := EstimateAll([]providers.Provider{a}, "prompt", providers.GenerateOptions{Model: "not-real"})

	assert.Empty(t, estimates)
	assert.True(t, providers.IsUnknownModel(failures["a"]))
}

func names(ranked []Ranked) []string {
	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Provider.Name())
	}
	return out
}
