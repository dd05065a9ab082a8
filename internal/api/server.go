// Package api assembles the chi router: middleware stack, public
// subscription and alert routes, operator routes, health, metrics and docs.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/climaguard/alerts/internal/api/handler"
	"github.com/climaguard/alerts/internal/config"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
// A nil metricsHandler falls back to the default Prometheus registry.
func NewRouter(deps handler.Deps, cfg *config.Config, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Authorization", "Content-Type", "If-None-Match", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// --- Handler dependencies ---
	if deps.Config == nil {
		deps.Config = cfg
	}
	h := handler.New(deps)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	// Prometheus
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Rate limiting applies to the public API only.
		if cfg.RateLimitEnabled {
			r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		// Subscriptions
		r.Post("/subscriptions/subscribe", h.Subscribe)
		r.Post("/subscriptions/unsubscribe", h.Unsubscribe)
		r.Get("/push/vapid-public-key", h.VAPIDPublicKey)

		// Alerts
		r.Get("/alerts/location", h.GetAlertsForLocation)
		r.Get("/alerts/{alertID}", h.GetAlert)
		r.With(RequireBearer(cfg.AdminToken)).Post("/alerts", h.CreateAlert)
	})

	return r
}
