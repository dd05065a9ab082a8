// Package maintenance runs periodic background tasks as Go tickers: the
// dispatch audit sweep and the active-alert gauge. All scheduled work is
// driven from Go since the API is already a long-running service.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/climaguard/alerts/internal/observability"
)

// Store is the alert store surface the tasks use.
type Store interface {
	CountUndispatched(ctx context.Context, olderThan time.Duration) (int, error)
	CountActive(ctx context.Context) (int, error)
}

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	AuditInterval time.Duration // Undispatched-alert audit
	PendingAfter  time.Duration // Age at which a pending alert is reported
	GaugeInterval time.Duration // Active alert gauge refresh
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		AuditInterval: 15 * time.Minute,
		PendingAfter:  time.Hour,
		GaugeInterval: time.Minute,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, store Store, cfg Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger.Info("Maintenance tickers started",
		"audit", cfg.AuditInterval,
		"pending_after", cfg.PendingAfter,
		"gauge", cfg.GaugeInterval)

	var wg sync.WaitGroup

	// Audit: alerts still pending long after creation never got a tally
	if cfg.AuditInterval > 0 && cfg.PendingAfter > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runLoop(ctx, clock, cfg.AuditInterval, func() { AuditDispatches(ctx, store, cfg.PendingAfter, metrics, logger) })
		}()
	}

	// Gauge: refreshed once up front so /metrics is populated immediately
	if cfg.GaugeInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RefreshActiveGauge(ctx, store, metrics, logger)
			runLoop(ctx, clock, cfg.GaugeInterval, func() { RefreshActiveGauge(ctx, store, metrics, logger) })
		}()
	}

	<-ctx.Done()
	wg.Wait()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, clock clockwork.Clock, every time.Duration, fn func()) {
	t := clock.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.Chan():
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// AuditDispatches reports alerts still pending after olderThan. The count
// is computed at query time and no alert row is written. It includes alerts
// whose area held no subscribers, which stay pending by design.
func AuditDispatches(ctx context.Context, store Store, olderThan time.Duration, metrics *observability.Metrics, logger *slog.Logger) int {
	n, err := store.CountUndispatched(ctx, olderThan)
	if err != nil {
		logger.Warn("Audit: failed to count undispatched alerts", "error", err)
		return 0
	}
	metrics.UndispatchedAlerts.Set(float64(n))
	if n > 0 {
		logger.Info("Audit: alerts without a recorded tally", "count", n, "older_than", olderThan)
	}
	return n
}

// RefreshActiveGauge sets the active alert gauge from the store.
func RefreshActiveGauge(ctx context.Context, store Store, metrics *observability.Metrics, logger *slog.Logger) {
	n, err := store.CountActive(ctx)
	if err != nil {
		logger.Warn("Gauge: failed to count active alerts", "error", err)
		return
	}
	metrics.ActiveAlerts.Set(float64(n))
}
