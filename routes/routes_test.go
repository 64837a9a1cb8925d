package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/ai-orchestrator/app"
	"github.com/upb/ai-orchestrator/config"
	"github.com/upb/ai-orchestrator/middleware"
	"github.com/upb/ai-orchestrator/services/providers/providertest"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Port:               8080,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    time.Second,
			CORSAllowedOrigins: []string{"https://app.example.com"},
		},
		Providers: config.ProvidersConfig{Timeout: 5 * time.Second},
		Orchestrator: config.OrchestratorConfig{
			FallbackEnabled: true,
			MaxRetries:      3,
		},
		Health:        config.HealthConfig{CacheTTL: time.Minute},
		Observability: config.ObservabilityConfig{LogLevel: "info", MetricsEnabled: true},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config, fakes ...*providertest.Fake) http.Handler {
	t.Helper()

	opts := []app.Option{app.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })}
	for _, f := range fakes {
		opts = append(opts, app.WithProviders(f))
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	return SetupRoutes(deps)
}

func TestHealthRoutes(t *testing.T) {
	t.Run("liveness", func(t *testing.T) {
		router := newTestRouter(t, testConfig())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	})

	t.Run("not ready without providers", func(t *testing.T) {
		router := newTestRouter(t, testConfig())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("ready with a provider", func(t *testing.T) {
		router := newTestRouter(t, testConfig(), providertest.New("local"))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGenerateRoute(t *testing.T) {
	router := newTestRouter(t, testConfig(), providertest.New("local"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai/generate", strings.NewReader(`{"prompt":"hello"}`))
	req.Header.Set(middleware.RequestIDHeader, "req-routes-1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-routes-1", w.Header().Get(middleware.RequestIDHeader))

	var response struct {
		Data struct {
			RequestID string `json:"request_id"`
			Provider  string `json:"provider"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "req-routes-1", response.Data.RequestID)
	assert.Equal(t, "local", response.Data.Provider)
}

func TestAPIRoutes(t *testing.T) {
	router := newTestRouter(t, testConfig(), providertest.New("local"))

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"estimate", http.MethodPost, "/api/v1/ai/estimate", `{"prompt":"hello"}`, http.StatusOK},
		{"providers", http.MethodGet, "/api/v1/ai/providers", "", http.StatusOK},
		{"provider health", http.MethodGet, "/api/v1/ai/providers/health", "", http.StatusOK},
		{"usage without persistence", http.MethodGet, "/api/v1/ai/usage", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/v1/unknown", "", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/api/v1/ai/generate", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestAuthRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{JWTSecret: "route-secret", JWTIssuer: "gateway"}
	router := newTestRouter(t, cfg, providertest.New("local"))

	t.Run("API requires a token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ai/providers", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token passes", func(t *testing.T) {
		token, err := middleware.NewHMACTokenValidator("route-secret", "gateway").SignToken("svc", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/ai/providers", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("health stays public", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestMetricsRoute(t *testing.T) {
	t.Run("exposes orchestrator metrics", func(t *testing.T) {
		router := newTestRouter(t, testConfig(), providertest.New("local"))

		gen := httptest.NewRequest(http.MethodPost, "/api/v1/ai/generate", strings.NewReader(`{"prompt":"hello"}`))
		router.ServeHTTP(httptest.NewRecorder(), gen)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ai_orchestrator_requests_total")
		assert.Contains(t, w.Body.String(), "ai_orchestrator_attempts_total")
		assert.Contains(t, w.Body.String(), `provider="local"`)
	})

	t.Run("absent when disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.Observability.MetricsEnabled = false
		router := newTestRouter(t, cfg)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCORS(t *testing.T) {
	router := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ai/generate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGenerationTimeout(t *testing.T) {
	deps := &app.Dependencies{Config: testConfig()}
	assert.Equal(t, 29*time.Second, generationTimeout(deps))

	deps.Config.Server.WriteTimeout = 0
	assert.Equal(t, 2*time.Minute, generationTimeout(deps))

	deps.Config.Server.WriteTimeout = time.Second
	assert.Equal(t, time.Second, generationTimeout(deps))
}
