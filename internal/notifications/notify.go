// Package notifications runs the geofenced alert pipeline.
//
// Pipeline: evaluate location → persist candidate → resolve subscribers in
// the affected area → fan out Web Push → record the tally and prune dead
// endpoints. The Scheduler drives it over every monitored location on a
// fixed period.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/subscription"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultPushConcurrency = 8
	defaultAttemptTimeout  = 5 * time.Second
	defaultInterval        = 30 * time.Minute
	defaultLocationDelay   = time.Second
	defaultLocationTimeout = 2 * time.Minute
)

// Alert sources, used as a metrics label and in logs.
const (
	SourceScheduler = "scheduler"
	SourceOperator  = "operator"
	SourceListener  = "listener"
)

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// Registry is the part of the subscription registry the dispatcher mutates.
type Registry interface {
	FindWithinArea(ctx context.Context, area geo.Area) ([]subscription.Subscription, error)
	Remove(ctx context.Context, endpoint string) error
	RemoveMany(ctx context.Context, endpoints []string) (int, error)
}

// AlertRecorder stores the delivery tally.
type AlertRecorder interface {
	DispatchStatus(ctx context.Context, alertID string) (alert.DispatchStatus, error)
	RecordNotified(ctx context.Context, alertID string, subscriptionIDs []string, successCount int) error
}

// Pusher delivers one payload to one endpoint and returns the transport
// status code.
type Pusher interface {
	Send(ctx context.Context, sub subscription.Subscription, payload []byte) (int, error)
}

// EventPublisher announces completed dispatches. Optional.
type EventPublisher interface {
	PublishDispatched(ctx context.Context, a alert.Alert, result DispatchResult) error
}

// Evaluator classifies the conditions at a location.
type Evaluator interface {
	Evaluate(ctx context.Context, p geo.Point) ([]alert.Candidate, error)
}

// AlertCreator commits candidates.
type AlertCreator interface {
	Create(ctx context.Context, c alert.Candidate) (alert.Alert, error)
}

// AlertDispatcher delivers a persisted alert.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, a alert.Alert) (DispatchResult, error)
}

// LocationSource lists the distinct monitored locations.
type LocationSource interface {
	DistinctLocations(ctx context.Context, limit int) ([]geo.Point, error)
}

// LocationProcessor runs evaluate → persist → dispatch for one location.
type LocationProcessor interface {
	ProcessLocation(ctx context.Context, p geo.Point) (LocationResult, error)
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// DeliveryStatus classifies one push attempt.
type DeliveryStatus string

const (
	Delivered        DeliveryStatus = "success"
	RetryableFailure DeliveryStatus = "retryable_failure"
	PermanentFailure DeliveryStatus = "permanent_failure"
)

// DeliveryOutcome is the result of one attempt. Not persisted.
type DeliveryOutcome struct {
	SubscriptionID string
	Endpoint       string
	Status         DeliveryStatus
	StatusCode     int
	// Pruned is set when the gone endpoint was already removed.
	Pruned bool
	Err    error
}

// DispatchResult is the aggregate of one dispatch. Gone is the subset of
// Failed whose endpoints were pruned.
type DispatchResult struct {
	AlertID    string `json:"alertId,omitempty"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Gone       int    `json:"gone"`
}

func (r DispatchResult) Summary() string {
	return fmt.Sprintf("total=%d successful=%d failed=%d gone=%d", r.Total, r.Successful, r.Failed, r.Gone)
}

// LocationResult is the outcome of processing one monitored location.
type LocationResult struct {
	Location   geo.Point
	Candidates int
	Dispatches []DispatchResult
}

// Notified sums successful deliveries across the location's alerts.
func (r LocationResult) Notified() int {
	n := 0
	for _, d := range r.Dispatches {
		n += d.Successful
	}
	return n
}
