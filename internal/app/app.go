// Package app assembles the alert pipeline from configuration. Both the API
// server and the operator CLI build their components here so the two
// processes run the same stack.
package app

import (
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/config"
	"github.com/climaguard/alerts/internal/db"
	"github.com/climaguard/alerts/internal/events"
	"github.com/climaguard/alerts/internal/notifications"
	"github.com/climaguard/alerts/internal/observability"
	"github.com/climaguard/alerts/internal/push"
	"github.com/climaguard/alerts/internal/subscription"
	"github.com/climaguard/alerts/internal/weather"
)

// Deps holds the wired pipeline components.
type Deps struct {
	Registry   *subscription.Registry
	Alerts     *alert.Store
	Evaluator  *weather.Evaluator
	Sender     *push.Sender
	Events     *events.Writer
	Dispatcher *notifications.Dispatcher
	Pipeline   *notifications.Pipeline
	Scheduler  *notifications.Scheduler
}

// New wires every component on top of q. Evaluator is nil when no weather
// key is configured; Sender is nil without VAPID keys; Events is nil without
// Kafka brokers.
func New(cfg *config.Config, q db.Querier, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) (*Deps, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	// 1. Stores
	index, err := subscription.NewIndex(q, cfg.GeoIndex)
	if err != nil {
		return nil, fmt.Errorf("geo index: %w", err)
	}
	d := &Deps{
		Registry: subscription.NewRegistry(q, index, clock),
		Alerts:   alert.NewStore(q, cfg.AlertTTL, clock),
	}

	// 2. External transports
	if cfg.WeatherAPIKey != "" {
		client := weather.NewClient(cfg.WeatherAPIURL, cfg.WeatherAPIKey,
			cfg.WeatherRequestsPerMinute, cfg.WeatherTimeout, metrics, logger)
		d.Evaluator = weather.NewEvaluator(client, metrics, logger)
	}
	d.Sender = push.NewSender(push.Options{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subject:         cfg.VAPIDSubject,
		TTL:             cfg.PushTTL,
		Timeout:         cfg.PushTimeout,
	}, metrics, logger)
	d.Events = events.NewWriter(cfg, metrics, logger)

	// 3. Pipeline
	d.Dispatcher = notifications.NewDispatcher(d.Registry, d.Alerts, d.Sender, d.Events,
		notifications.DispatcherConfig{
			Concurrency:    cfg.PushConcurrency,
			AttemptTimeout: cfg.PushTimeout,
		}, metrics, logger)

	var evaluator notifications.Evaluator
	if d.Evaluator != nil {
		evaluator = d.Evaluator
	}
	d.Pipeline = notifications.NewPipeline(evaluator, d.Alerts, d.Dispatcher, metrics, logger)

	d.Scheduler = notifications.NewScheduler(d.Registry, d.Pipeline, notifications.SchedulerConfig{
		Interval:        cfg.SchedulerInterval,
		LocationDelay:   cfg.SchedulerLocationDelay,
		LocationTimeout: cfg.SchedulerLocationTimeout,
		MaxLocations:    cfg.SchedulerMaxLocations,
		RunOnStart:      cfg.SchedulerRunOnStart,
	}, clock, metrics, logger)

	return d, nil
}

// Close flushes the event writer.
func (d *Deps) Close() error {
	return d.Events.Close()
}
