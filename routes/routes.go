package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upb/ai-orchestrator/app"
	"github.com/upb/ai-orchestrator/handlers"
	"github.com/upb/ai-orchestrator/middleware"
	"github.com/upb/ai-orchestrator/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.SQLDB(), deps.Orchestrator.ProviderCount, deps.Logger)

	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.MetricsRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	var usage handlers.UsageReader
	if deps.Usage != nil {
		usage = deps.Usage
	}
	ai := handlers.NewAIHandler(deps.Orchestrator, usage, deps.Logger)

	r.Route("/api/v1/ai", func(r chi.Router) {
		if deps.AuthMiddleware != nil {
			r.Use(deps.AuthMiddleware.RequireAuth)
		}

		// Generation is bounded by the server write timeout
		r.With(chimiddleware.Timeout(generationTimeout(deps))).Post("/generate", ai.HandleGenerate)

		r.Post("/estimate", ai.HandleEstimate)
		r.Get("/providers", ai.HandleListProviders)
		r.Get("/providers/health", ai.HandleProviderHealth)
		r.Get("/usage", ai.HandleUsage)
		r.Get("/usage/recent", ai.HandleRecentUsage)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	return r
}

// generationTimeout leaves a small margin inside the server write timeout
func generationTimeout(deps *app.Dependencies) time.Duration {
	timeout := deps.Config.Server.WriteTimeout
	if timeout <= 0 {
		return 2 * time.Minute
	}
	if timeout > 2*time.Second {
		timeout -= time.Second
	}
	return timeout
}
