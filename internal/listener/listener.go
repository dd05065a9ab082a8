// Package listener provides a Postgres LISTEN/NOTIFY consumer for alert
// candidates produced outside this service. It holds a dedicated pgx
// connection (not from the pool) listening on the configured channel
// (alert_candidates by default).
//
// A producer such as the forecasting model runs
//
//	SELECT pg_notify('alert_candidates', '{"type":"storm", ...}')
//
// and this consumer decodes the candidate, commits it and dispatches it to
// every subscriber inside the affected area.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/notifications"
)

const (
	DefaultChannel   = "alert_candidates"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
	handleTimeout    = 2 * time.Minute
)

// Processor commits and dispatches a candidate.
type Processor interface {
	ProcessCandidate(ctx context.Context, c alert.Candidate, source string) (alert.Alert, notifications.DispatchResult, error)
}

// Conn is the subset of *pgx.Conn a listen session uses.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a dedicated connection.
type Dialer func(ctx context.Context) (Conn, error)

// PgxDialer dials databaseURL with pgx.Connect.
func PgxDialer(databaseURL string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.Connect(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Listener consumes candidate notifications.
type Listener struct {
	dial      Dialer
	channel   string
	processor Processor
	clock     clockwork.Clock
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New creates a Listener. An empty channel uses DefaultChannel; a nil clock
// uses real time.
func New(dial Dialer, channel string, processor Processor, clock clockwork.Clock, logger *slog.Logger) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		dial:      dial,
		channel:   channel,
		processor: processor,
		clock:     clock,
		logger:    logger,
	}
}

// Start listens until ctx is cancelled, reconnecting with exponential
// backoff on connection loss. Candidates already being processed when ctx
// is cancelled run to completion before Start returns. Intended to be
// called with `go`.
func (l *Listener) Start(ctx context.Context) {
	defer l.wg.Wait()
	backoff := reconnectBackoff

	for {
		connected, err := l.listenLoop(ctx)
		if ctx.Err() != nil {
			l.logger.Info("Candidate listener stopped (context cancelled)")
			return
		}
		if connected {
			backoff = reconnectBackoff
		}

		l.logger.Error("Candidate listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-l.clock.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled; connected reports whether LISTEN succeeded.
func (l *Listener) listenLoop(ctx context.Context) (connected bool, err error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("LISTEN %s: %w", l.channel, err)
	}
	l.logger.Info("Candidate listener connected", "channel", l.channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, fmt.Errorf("wait for notification: %w", err)
		}

		c, err := alert.DecodeCandidate([]byte(notification.Payload))
		if err != nil {
			l.logger.Warn("Failed to parse alert candidate",
				"payload", notification.Payload, "error", err)
			continue
		}

		l.logger.Info("Alert candidate received",
			"type", c.Type, "severity", c.Severity, "area", c.Area.Kind())

		// Process asynchronously to avoid blocking the listener
		l.wg.Add(1)
		go l.handle(ctx, c)
	}
}

// handle commits and dispatches one candidate. The work is detached from
// the listener's context so shutdown does not interrupt a dispatch midway.
func (l *Listener) handle(ctx context.Context, c alert.Candidate) {
	defer l.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Candidate handler panicked", "type", c.Type, "panic", r)
		}
	}()

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
	defer cancel()

	a, res, err := l.processor.ProcessCandidate(hctx, c, notifications.SourceListener)
	if err != nil {
		l.logger.Warn("Alert candidate processing failed",
			"type", c.Type, "alert_id", a.ID, "error", err)
		return
	}
	l.logger.Info("Alert candidate dispatched",
		"alert_id", a.ID, "type", a.Type, "result", res.Summary())
}
