package providers_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/ai-orchestrator/services/providers"
	"github.com/upb/ai-orchestrator/services/providers/providertest"
)

func TestRegistry_RegisterProvider(t *testing.T) {
	registry := providers.NewRegistry()

	require.NoError(t, registry.RegisterProvider(providertest.New("a")))
	require.NoError(t, registry.RegisterProvider(providertest.New("b")))

	err := registry.RegisterProvider(providertest.New("a"))
	assert.ErrorIs(t, err, providers.ErrProviderAlreadyRegistered)

	assert.Error(t, registry.RegisterProvider(nil))
	assert.Error(t, registry.RegisterProvider(providertest.New("")))

	assert.Equal(t, 2, registry.GetProviderCount())
}

func TestRegistry_PreservesRegistrationOrder(t *testing.T) {
	registry := providers.NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, registry.RegisterProvider(providertest.New(name)))
	}

	assert.Equal(t, []string{"c", "a", "b"}, registry.ListProviders())

	names := make([]string, 0, 3)
	for _, p := range registry.Providers() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)

	assert.True(t, registry.UnregisterProvider("a"))
	require.NoError(t, registry.RegisterProvider(providertest.New("a")))
	assert.Equal(t, []string{"c", "b", "a"}, registry.ListProviders())
}

func TestRegistry_UnregisterProvider(t *testing.T) {
	registry := providers.NewRegistry()
	require.NoError(t, registry.RegisterProvider(providertest.New("a")))

	assert.True(t, registry.UnregisterProvider("a"))
	assert.False(t, registry.UnregisterProvider("a"))
	assert.False(t, registry.UnregisterProvider("never-registered"))

	_, err := registry.GetProvider("a")
	assert.ErrorIs(t, err, providers.ErrProviderNotFound)
	assert.Empty(t, registry.ListProviders())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := providers.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("p-%d", i)
			_ = registry.RegisterProvider(providertest.New(name))
			registry.UnregisterProvider(name)
		}(i)
		go func() {
			defer wg.Done()
			_ = registry.Providers()
			_ = registry.ListProviders()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, registry.GetProviderCount())
}

func TestRegistryBuilder_Build(t *testing.T) {
	fakeBuilder := func(name string) providers.ProviderBuilder {
		return func(config providers.ProviderConfig) (providers.Provider, error) {
			if config.APIKey == "" {
				return nil, errors.New("missing api key")
			}
			return providertest.New(name), nil
		}
	}

	t.Run("builds configured providers in builder order", func(t *testing.T) {
		registry, err := providers.NewRegistryBuilder().
			WithProviderBuilder("openai", fakeBuilder("openai")).
			WithProviderBuilder("anthropic", fakeBuilder("anthropic")).
			WithProviderBuilder("gemini", fakeBuilder("gemini")).
			Build(map[string]providers.ProviderConfig{
				"gemini": {APIKey: "g"},
				"openai": {APIKey: "o"},
			})
		require.NoError(t, err)

		assert.Equal(t, []string{"openai", "gemini"}, registry.ListProviders())
	})

	t.Run("propagates builder errors", func(t *testing.T) {
		_, err := providers.NewRegistryBuilder().
			WithProviderBuilder("openai", fakeBuilder("openai")).
			Build(map[string]providers.ProviderConfig{"openai": {}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to build provider openai")
	})
}
