package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/observability"
)

// ErrTickInProgress is returned by Tick when another pass is still running.
var ErrTickInProgress = errors.New("scheduler tick already in progress")

// SchedulerConfig controls the anomaly scan.
type SchedulerConfig struct {
	Interval        time.Duration
	LocationDelay   time.Duration
	LocationTimeout time.Duration
	MaxLocations    int
	RunOnStart      bool
}

// TickResult summarises one pass.
type TickResult struct {
	Locations  int
	Succeeded  int
	Failed     int
	Candidates int
	Alerts     int
	Notified   int
	Duration   time.Duration
	// Interrupted is set when shutdown stopped the pass before the last location.
	Interrupted bool
}

func (r TickResult) Summary() string {
	return fmt.Sprintf("locations=%d succeeded=%d failed=%d candidates=%d alerts=%d notified=%d duration=%s",
		r.Locations, r.Succeeded, r.Failed, r.Candidates, r.Alerts, r.Notified, r.Duration.Round(time.Millisecond))
}

// Scheduler periodically walks every monitored location, one at a time.
type Scheduler struct {
	locations LocationSource
	processor LocationProcessor
	cfg       SchedulerConfig
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger

	tickMu sync.Mutex
}

func NewScheduler(locations LocationSource, processor LocationProcessor, cfg SchedulerConfig, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.LocationDelay < 0 {
		cfg.LocationDelay = defaultLocationDelay
	}
	if cfg.LocationTimeout <= 0 {
		cfg.LocationTimeout = defaultLocationTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		locations: locations,
		processor: processor,
		cfg:       cfg,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// Tick runs one pass. Per-location failures are logged and counted; only a
// failure to list locations is returned. When ctx is cancelled the location
// in flight finishes (bounded by LocationTimeout) and the pass stops.
func (s *Scheduler) Tick(ctx context.Context) (result TickResult, err error) {
	if !s.tickMu.TryLock() {
		return TickResult{}, ErrTickInProgress
	}
	defer s.tickMu.Unlock()

	start := s.clock.Now()
	defer func() {
		result.Duration = s.clock.Since(start)
		s.metrics.SchedulerTicks.Inc()
		s.metrics.TickDuration.Observe(result.Duration.Seconds())
	}()

	locations, err := s.locations.DistinctLocations(ctx, s.cfg.MaxLocations)
	if err != nil {
		return result, fmt.Errorf("list monitored locations: %w", err)
	}
	result.Locations = len(locations)

	for i, loc := range locations {
		if i > 0 && !s.wait(ctx) {
			result.Interrupted = true
			break
		}
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		res, err := s.runLocation(ctx, loc)
		result.Candidates += res.Candidates
		result.Alerts += len(res.Dispatches)
		result.Notified += res.Notified()
		if err != nil {
			result.Failed++
			s.metrics.LocationsEvaluated.WithLabelValues(outcomeLabel(err)).Inc()
			s.logger.Warn("location failed", "lat", loc.Lat, "lng", loc.Lng, "error", err)
			continue
		}
		result.Succeeded++
		s.metrics.LocationsEvaluated.WithLabelValues("ok").Inc()
		if res.Candidates > 0 {
			s.logger.Info("location processed",
				"lat", loc.Lat, "lng", loc.Lng,
				"candidates", res.Candidates, "notified", res.Notified())
		}
	}
	return result, nil
}

// runLocation isolates one location: it survives caller cancellation up to
// LocationTimeout and converts a panic into an error.
func (s *Scheduler) runLocation(ctx context.Context, loc geo.Point) (res LocationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("location %s panicked: %v", loc, r)
		}
	}()
	locCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LocationTimeout)
	defer cancel()
	return s.processor.ProcessLocation(locCtx, loc)
}

// wait sleeps LocationDelay and reports false if ctx ended first.
func (s *Scheduler) wait(ctx context.Context) bool {
	if s.cfg.LocationDelay == 0 {
		return ctx.Err() == nil
	}
	select {
	case <-s.clock.After(s.cfg.LocationDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

func outcomeLabel(err error) string {
	switch {
	case apperr.IsProvider(err):
		return "provider_error"
	case apperr.IsStorage(err):
		return "storage_error"
	default:
		return "error"
	}
}

// Run blocks, ticking every Interval until ctx is cancelled.
// Intended to be called with `go` or through Start.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Anomaly scheduler started",
		"interval", s.cfg.Interval, "max_locations", s.cfg.MaxLocations)
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		s.tick(ctx)
	}
	for {
		select {
		case <-ticker.Chan():
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("Anomaly scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	result, err := s.Tick(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		s.logger.Warn("skipping tick, previous pass still running")
	case err != nil:
		s.logger.Error("anomaly tick failed", "error", err)
	default:
		s.logger.Info("anomaly tick complete", "summary", result.Summary())
	}
}

// Handle stops a scheduler started with Start.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs the scheduler in a goroutine.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		s.Run(ctx)
	}()
	return h
}

// Stop cancels the loop and waits for the pass in flight to finish or for
// ctx to expire.
func (h *Handle) Stop(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop: %w", ctx.Err())
	}
}

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }
