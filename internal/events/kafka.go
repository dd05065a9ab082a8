// Package events publishes alert lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/config"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/notifications"
	"github.com/climaguard/alerts/internal/observability"
)

// EventDispatched is the event_type header of a completed dispatch.
const EventDispatched = "alert.dispatched"

// DispatchedEvent is the message body for EventDispatched.
type DispatchedEvent struct {
	EventType    string         `json:"event_type"`
	AlertID      string         `json:"alert_id"`
	Type         alert.Type     `json:"type"`
	Severity     alert.Severity `json:"severity"`
	Title        string         `json:"title"`
	AffectedArea geo.Area       `json:"affected_area"`
	RadiusKm     *float64       `json:"radius_km,omitempty"`
	TriggeredAt  time.Time      `json:"triggered_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Total        int            `json:"total"`
	Successful   int            `json:"successful"`
	Failed       int            `json:"failed"`
	Gone         int            `json:"gone"`
	DispatchedAt time.Time      `json:"dispatched_at"`
}

// UnmarshalJSON restores the circle radius on the affected area.
func (e *DispatchedEvent) UnmarshalJSON(data []byte) error {
	type plain DispatchedEvent
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	p.AffectedArea = p.AffectedArea.WithRadius(p.RadiusKm)
	*e = DispatchedEvent(p)
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces alert events to a Kafka topic.
// Nil-safe: when no brokers are configured all methods are no-ops.
type Writer struct {
	writer  messageWriter
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWriter returns nil when cfg.KafkaBrokers is empty.
func NewWriter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	if len(cfg.KafkaBrokers) == 0 {
		return nil
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	return newWriter(w, clockwork.NewRealClock(), metrics, logger)
}

func newWriter(w messageWriter, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{writer: w, clock: clock, metrics: metrics, logger: logger}
}

// PublishDispatched implements notifications.EventPublisher.
func (w *Writer) PublishDispatched(ctx context.Context, a alert.Alert, r notifications.DispatchResult) error {
	if w == nil {
		return nil
	}
	msg, err := serializeToMessage(newDispatchedEvent(a, r, w.clock.Now().UTC()))
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		w.metrics.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish %s: %w", EventDispatched, err)
	}
	w.metrics.EventsPublished.WithLabelValues("success").Inc()
	return nil
}

func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	return w.writer.Close()
}

func newDispatchedEvent(a alert.Alert, r notifications.DispatchResult, at time.Time) DispatchedEvent {
	return DispatchedEvent{
		EventType:    EventDispatched,
		AlertID:      a.ID,
		Type:         a.Type,
		Severity:     a.Severity,
		Title:        a.Title,
		AffectedArea: a.AffectedArea,
		RadiusKm:     a.RadiusKm,
		TriggeredAt:  a.TriggeredAt,
		ExpiresAt:    a.ExpiresAt,
		Total:        r.Total,
		Successful:   r.Successful,
		Failed:       r.Failed,
		Gone:         r.Gone,
		DispatchedAt: at,
	}
}

// serializeToMessage marshals an event into a Kafka message keyed by alert id.
func serializeToMessage(event DispatchedEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s event: %w", event.EventType, err)
	}
	return kafkago.Message{
		Key:   []byte(event.AlertID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "alert_type", Value: []byte(event.Type)},
			{Key: "dispatched_at", Value: []byte(event.DispatchedAt.Format(time.RFC3339))},
		},
	}, nil
}
