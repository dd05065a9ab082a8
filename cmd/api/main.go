// Command api is the ClimaGuard alerts server: HTTP API, anomaly
// scheduler, candidate listener and maintenance tickers in one process.
//
// Usage:
//
//	climaguard-api
//	API_PORT=8080 GEO_INDEX=postgis climaguard-api

// @title ClimaGuard Alerts API
// @version 1.0.0
// @description Geofenced weather alert subscriptions, alert lookups and operator alerts delivered over Web Push.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @contact.name ClimaGuard
// @license.name MIT
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/climaguard/alerts/internal/api"
	"github.com/climaguard/alerts/internal/api/handler"
	"github.com/climaguard/alerts/internal/app"
	"github.com/climaguard/alerts/internal/cache"
	"github.com/climaguard/alerts/internal/config"
	"github.com/climaguard/alerts/internal/db"
	"github.com/climaguard/alerts/internal/listener"
	"github.com/climaguard/alerts/internal/maintenance"
	"github.com/climaguard/alerts/internal/notifications"
	"github.com/climaguard/alerts/internal/observability"

	_ "github.com/climaguard/alerts/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger(os.Stderr, "info", "text").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if cfg.Debug {
		logger = observability.NewLogger(os.Stdout, "debug", cfg.LogFormat)
	}
	slog.SetDefault(logger)

	if err := cfg.ValidatePipeline(); err != nil {
		logger.Error("Invalid pipeline configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...", "geo_index", cfg.GeoIndex)
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	// Wire the pipeline
	deps, err := app.New(cfg, pool, clock, metrics, logger)
	if err != nil {
		logger.Error("Failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer deps.Close()
	if deps.Events != nil {
		logger.Info("Alert event stream enabled", "topic", cfg.KafkaAlertTopic, "brokers", cfg.KafkaBrokers)
	}

	// Response cache for location lookups
	appCache := cache.New(cfg.AlertsCacheTTL > 0, clock)
	go appCache.Run(ctx, cache.DefaultEvictInterval)

	// Start anomaly scheduler
	var scheduler *notifications.Handle
	if cfg.SchedulerEnabled {
		scheduler = deps.Scheduler.Start(ctx)
	} else {
		logger.Info("Anomaly scheduler disabled (SCHEDULER_ENABLED=false)")
	}

	// Start LISTEN/NOTIFY consumer for externally produced candidates
	listenerDone := make(chan struct{})
	if cfg.ListenerEnabled {
		l := listener.New(listener.PgxDialer(cfg.DatabaseURL), cfg.ListenerChannel, deps.Pipeline, clock, logger)
		go func() {
			defer close(listenerDone)
			l.Start(ctx)
		}()
	} else {
		close(listenerDone)
	}

	// Start maintenance tickers (dispatch audit, active alert gauge)
	go maintenance.Start(ctx, deps.Alerts, maintenance.DefaultConfig(), clock, metrics, logger)

	// Create router
	router := api.NewRouter(handler.Deps{
		Subscriptions: deps.Registry,
		Alerts:        deps.Alerts,
		Processor:     deps.Pipeline,
		DB:            pool,
		Cache:         appCache,
		Logger:        logger,
	}, cfg, nil)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting ClimaGuard Alerts API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("Scheduler shutdown error", "error", err)
		}
	}
	select {
	case <-listenerDone:
	case <-shutdownCtx.Done():
		logger.Error("Listener did not stop before shutdown timeout")
	}
	logger.Info("Server stopped")
}
