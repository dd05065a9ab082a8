package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/db"
	"github.com/climaguard/alerts/internal/geo"
)

const (
	// DefaultTTL is the fixed alert lifetime.
	DefaultTTL = 24 * time.Hour

	// NearbyLimit caps FindActiveNear.
	NearbyLimit = 10

	// boxPageSize is how many bbox prefilter rows are read per round trip
	// while looking for exact matches.
	boxPageSize = 200
)

// Store is the Postgres-backed alert store.
type Store struct {
	q     db.Querier
	ttl   time.Duration
	clock clockwork.Clock
}

// NewStore creates a store. ttl <= 0 uses DefaultTTL; a nil clock uses real
// time.
func NewStore(q db.Querier, ttl time.Duration, clock clockwork.Clock) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{q: q, ttl: ttl, clock: clock}
}

// Create commits a candidate with triggeredAt = now and expiresAt = now + TTL.
func (s *Store) Create(ctx context.Context, c Candidate) (Alert, error) {
	if err := c.Validate(); err != nil {
		return Alert{}, err
	}

	now := s.clock.Now().UTC()
	a := Alert{
		ID:                      uuid.NewString(),
		Type:                    c.Type,
		Severity:                c.Severity,
		Title:                   c.Title,
		Message:                 c.Message,
		AffectedArea:            c.Area,
		TriggeredAt:             now,
		ExpiresAt:               now.Add(s.ttl),
		NotifiedSubscriptionIDs: []string{},
		DispatchStatus:          StatusPending,
	}
	if !c.Area.IsPolygon() {
		r := c.Area.RadiusKm
		a.RadiusKm = &r
	}

	area, err := json.Marshal(c.Area)
	if err != nil {
		return Alert{}, fmt.Errorf("encode affected area: %w", err)
	}
	box := c.Area.BoundingBox()

	_, err = s.q.Exec(ctx, "alert_insert",
		a.ID, string(a.Type), string(a.Severity), a.Title, a.Message,
		area, a.RadiusKm,
		box.MinLat, box.MaxLat, box.MinLng, box.MaxLng,
		a.TriggeredAt, a.ExpiresAt,
	)
	if err != nil {
		return Alert{}, apperr.Storage("insert alert", err)
	}
	return a, nil
}

// RecordNotified stores the delivery tally. totalUsersNotified is set, not
// incremented, and only the first call for an alert succeeds; later calls
// return apperr.ErrAlreadyDispatched.
func (s *Store) RecordNotified(ctx context.Context, alertID string, subscriptionIDs []string, successCount int) error {
	if subscriptionIDs == nil {
		subscriptionIDs = []string{}
	}
	tag, err := s.q.Exec(ctx, "alert_record_notified",
		alertID, subscriptionIDs, successCount, s.clock.Now().UTC())
	if err != nil {
		return apperr.Storage("record notified", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	status, err := s.DispatchStatus(ctx, alertID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: alert %s is %s", apperr.ErrAlreadyDispatched, alertID, status)
}

// DispatchStatus returns whether the alert's tally has been recorded.
func (s *Store) DispatchStatus(ctx context.Context, alertID string) (DispatchStatus, error) {
	var status string
	err := s.q.QueryRow(ctx, "alert_dispatch_status", alertID).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", apperr.NewNotFound("alert %s", alertID)
	case err != nil:
		return "", apperr.Storage("read dispatch status", err)
	}
	return DispatchStatus(status), nil
}

// Get returns an alert by id regardless of expiry.
func (s *Store) Get(ctx context.Context, id string) (Alert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Alert{}, apperr.NewNotFound("alert %s", id)
	}
	a, err := scanAlert(s.q.QueryRow(ctx, "alert_by_id", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, apperr.NewNotFound("alert %s", id)
	}
	if err != nil {
		return Alert{}, apperr.Storage("get alert", err)
	}
	return a, nil
}

// FindActiveNear returns unexpired alerts whose affected area contains p,
// newest first, at most NearbyLimit. Bounding-box hits are paged until the
// limit is reached or the prefilter is exhausted.
func (s *Store) FindActiveNear(ctx context.Context, p geo.Point) ([]Alert, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()

	alerts := []Alert{}
	for offset := 0; ; offset += boxPageSize {
		seen, err := s.scanNear(ctx, now, p, offset, &alerts)
		if err != nil {
			return nil, err
		}
		if len(alerts) >= NearbyLimit || seen < boxPageSize {
			return alerts, nil
		}
	}
}

// scanNear reads one prefilter page, appends exact matches to alerts and
// returns how many rows the page held.
func (s *Store) scanNear(ctx context.Context, now time.Time, p geo.Point, offset int, alerts *[]Alert) (int, error) {
	rows, err := s.q.Query(ctx, "alert_active_in_box", now, p.Lat, p.Lng, boxPageSize, offset)
	if err != nil {
		return 0, apperr.Storage("find active alerts", err)
	}
	defer rows.Close()

	seen := 0
	for rows.Next() {
		seen++
		a, err := scanAlert(rows)
		if err != nil {
			return seen, apperr.Storage("scan alert", err)
		}
		if !a.ActiveAt(now) || !a.AffectedArea.Contains(p) {
			continue
		}
		*alerts = append(*alerts, a)
		if len(*alerts) == NearbyLimit {
			return seen, nil
		}
	}
	if err := rows.Err(); err != nil {
		return seen, apperr.Storage("find active alerts", err)
	}
	return seen, nil
}

// CountUndispatched returns how many alerts triggered more than olderThan
// ago still have no recorded tally. Alerts whose area held no subscribers
// are included since they never reach RecordNotified. Nothing is modified.
func (s *Store) CountUndispatched(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	var n int
	if err := s.q.QueryRow(ctx, "alert_undispatched_count", cutoff).Scan(&n); err != nil {
		return 0, apperr.Storage("count undispatched alerts", err)
	}
	return n, nil
}

// CountActive returns the number of unexpired alerts.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, "alert_active_count", s.clock.Now().UTC()).Scan(&n); err != nil {
		return 0, apperr.Storage("count active alerts", err)
	}
	return n, nil
}

// scanAlert reads a row selected with db.AlertColumns.
func scanAlert(row pgx.Row) (Alert, error) {
	var (
		a      Alert
		typ    string
		sev    string
		status string
		area   []byte
	)
	err := row.Scan(
		&a.ID, &typ, &sev, &a.Title, &a.Message, &area, &a.RadiusKm,
		&a.TriggeredAt, &a.ExpiresAt, &a.NotifiedSubscriptionIDs,
		&a.TotalUsersNotified, &status, &a.DispatchedAt,
	)
	if err != nil {
		return Alert{}, err
	}
	a.Type, a.Severity, a.DispatchStatus = Type(typ), Severity(sev), DispatchStatus(status)

	var radius float64
	if a.RadiusKm != nil {
		radius = *a.RadiusKm
	}
	if a.AffectedArea, err = geo.ParseGeoJSON(area, radius); err != nil {
		return Alert{}, fmt.Errorf("alert %s affected area: %w", a.ID, err)
	}
	if a.NotifiedSubscriptionIDs == nil {
		a.NotifiedSubscriptionIDs = []string{}
	}
	return a, nil
}
