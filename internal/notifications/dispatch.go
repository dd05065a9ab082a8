package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/observability"
	"github.com/climaguard/alerts/internal/push"
	"github.com/climaguard/alerts/internal/subscription"
)

// DispatcherConfig tunes fan-out.
type DispatcherConfig struct {
	Concurrency    int
	AttemptTimeout time.Duration
}

// Dispatcher delivers an alert to every subscription inside its affected
// area. Each alert is dispatched once: Dispatch of an alert that is already
// dispatched, or in flight on this dispatcher, fails with
// apperr.ErrAlreadyDispatched before any push is sent.
type Dispatcher struct {
	inflight sync.Map // alert ID -> struct{}

	registry Registry
	alerts   AlertRecorder
	pusher   Pusher
	events   EventPublisher
	cfg      DispatcherConfig
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. events may be nil.
func NewDispatcher(registry Registry, alerts AlertRecorder, pusher Pusher, events EventPublisher, cfg DispatcherConfig, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaultPushConcurrency
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		alerts:   alerts,
		pusher:   pusher,
		events:   events,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Dispatch resolves targets, fans out delivery and records the aggregate.
// With zero targets it returns an empty result and leaves the alert
// untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, a alert.Alert) (DispatchResult, error) {
	result := DispatchResult{AlertID: a.ID}

	// 0. One pass per alert
	if _, busy := d.inflight.LoadOrStore(a.ID, struct{}{}); busy {
		return result, fmt.Errorf("%w: alert %s is being dispatched", apperr.ErrAlreadyDispatched, a.ID)
	}
	defer d.inflight.Delete(a.ID)

	status, err := d.alerts.DispatchStatus(ctx, a.ID)
	if err != nil {
		return result, fmt.Errorf("read dispatch status for alert %s: %w", a.ID, err)
	}
	if status != alert.StatusPending {
		return result, fmt.Errorf("%w: alert %s is %s", apperr.ErrAlreadyDispatched, a.ID, status)
	}

	// 1. Resolve subscribers inside the affected area
	targets, err := d.registry.FindWithinArea(ctx, a.AffectedArea)
	if err != nil {
		return result, fmt.Errorf("resolve targets for alert %s: %w", a.ID, err)
	}
	if len(targets) == 0 {
		d.logger.Info("No subscriptions in affected area", "alert_id", a.ID, "type", a.Type)
		return result, nil
	}

	// 2. Fan out. Each attempt writes only its own slot.
	payload := push.AlertPayload(a).Encode()
	outcomes := make([]DeliveryOutcome, len(targets))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, sub := range targets {
		i, sub := i, sub
		g.Go(func() error {
			outcomes[i] = d.deliver(ctx, sub, payload)
			return nil
		})
	}
	_ = g.Wait()

	// 3. Reduce
	result.Total = len(targets)
	notified := make([]string, 0, len(targets))
	var unpruned []string
	pruned := 0
	for _, o := range outcomes {
		switch o.Status {
		case Delivered:
			result.Successful++
			notified = append(notified, o.SubscriptionID)
		case PermanentFailure:
			result.Failed++
			result.Gone++
			if o.Pruned {
				pruned++
			} else {
				unpruned = append(unpruned, o.Endpoint)
			}
		default:
			result.Failed++
		}
	}

	// 4. Persist the tally, then sweep gone endpoints the attempts could not remove
	recordErr := d.alerts.RecordNotified(ctx, a.ID, notified, result.Successful)
	if recordErr != nil {
		recordErr = fmt.Errorf("record tally for alert %s: %w", a.ID, recordErr)
	}
	if len(unpruned) > 0 {
		n, err := d.registry.RemoveMany(ctx, unpruned)
		if err != nil {
			d.logger.Warn("batch prune failed", "alert_id", a.ID, "endpoints", len(unpruned), "error", err)
		}
		pruned += n
	}

	d.metrics.Deliveries.WithLabelValues("success").Add(float64(result.Successful))
	d.metrics.Deliveries.WithLabelValues("failed").Add(float64(result.Failed - result.Gone))
	d.metrics.Deliveries.WithLabelValues("gone").Add(float64(result.Gone))
	d.metrics.SubscriptionsPruned.Add(float64(pruned))

	if recordErr == nil && d.events != nil {
		if err := d.events.PublishDispatched(ctx, a, result); err != nil {
			d.logger.Warn("publish dispatch event failed", "alert_id", a.ID, "error", err)
		}
	}

	d.logger.Info("Alert dispatched",
		"alert_id", a.ID, "type", a.Type, "severity", a.Severity,
		"total", result.Total, "successful", result.Successful,
		"failed", result.Failed, "gone", result.Gone)
	return result, recordErr
}

// deliver runs one isolated attempt. Panics and timeouts become retryable
// failures; gone endpoints are removed immediately.
func (d *Dispatcher) deliver(ctx context.Context, sub subscription.Subscription, payload []byte) (o DeliveryOutcome) {
	o = DeliveryOutcome{SubscriptionID: sub.ID, Endpoint: sub.Endpoint, Status: RetryableFailure}
	defer func() {
		if r := recover(); r != nil {
			o.Status = RetryableFailure
			o.Err = apperr.NewProvider("push attempt panicked: %v", r)
			d.logger.Error("push attempt panicked", "subscription_id", sub.ID, "panic", r)
		}
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	code, err := d.pusher.Send(attemptCtx, sub, payload)
	o.StatusCode, o.Err = code, err
	switch {
	case err == nil:
		o.Status = Delivered
	case apperr.IsEndpointGone(err):
		o.Status = PermanentFailure
		if rmErr := d.registry.Remove(ctx, sub.Endpoint); rmErr != nil {
			d.logger.Warn("prune gone subscription failed", "subscription_id", sub.ID, "error", rmErr)
		} else {
			o.Pruned = true
		}
		d.logger.Info("Subscription gone", "subscription_id", sub.ID, "status", code)
	default:
		d.logger.Warn("push failed", "subscription_id", sub.ID, "status", code, "error", err)
	}
	return o
}
