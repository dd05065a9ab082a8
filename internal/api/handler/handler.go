// Package handler provides HTTP handlers for all API endpoints. Handlers
// depend on narrow service interfaces so the router can be exercised
// without a database.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/api/respond"
	"github.com/climaguard/alerts/internal/cache"
	"github.com/climaguard/alerts/internal/config"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/notifications"
	"github.com/climaguard/alerts/internal/subscription"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// SubscriptionService is the registry surface used by the subscribe routes.
type SubscriptionService interface {
	Upsert(ctx context.Context, endpoint string, keys subscription.Keys, location *geo.Point, userAgent string) (subscription.Subscription, bool, error)
	Remove(ctx context.Context, endpoint string) error
}

// AlertReader serves the read-only alert routes.
type AlertReader interface {
	FindActiveNear(ctx context.Context, p geo.Point) ([]alert.Alert, error)
	Get(ctx context.Context, id string) (alert.Alert, error)
}

// CandidateProcessor commits and dispatches an operator candidate.
type CandidateProcessor interface {
	ProcessCandidate(ctx context.Context, c alert.Candidate, source string) (alert.Alert, notifications.DispatchResult, error)
}

// HealthChecker verifies database connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps groups the handler dependencies.
type Deps struct {
	Subscriptions SubscriptionService
	Alerts        AlertReader
	Processor     CandidateProcessor
	DB            HealthChecker
	Cache         *cache.Cache
	Config        *config.Config
	Logger        *slog.Logger
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	subs      SubscriptionService
	alerts    AlertReader
	processor CandidateProcessor
	db        HealthChecker
	cache     *cache.Cache
	cfg       *config.Config
	logger    *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	c := d.Cache
	if c == nil {
		c = cache.New(false, nil)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		subs:      d.Subscriptions,
		alerts:    d.Alerts,
		processor: d.Processor,
		db:        d.DB,
		cache:     c,
		cfg:       d.Config,
		logger:    logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, status and docs location.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "ClimaGuard Alerts API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if h.db == nil || h.db.HealthCheck(r.Context()) != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
