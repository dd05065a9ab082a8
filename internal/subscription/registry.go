package subscription

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/db"
	"github.com/climaguard/alerts/internal/geo"
)

// DefaultLocationLimit caps DistinctLocations when the caller passes <= 0.
const DefaultLocationLimit = 50

// Registry is the Postgres-backed subscription store. Area lookups are
// delegated to the configured AreaIndex.
type Registry struct {
	q     db.Querier
	index AreaIndex
	clock clockwork.Clock
}

// NewRegistry creates a registry. A nil clock uses real time.
func NewRegistry(q db.Querier, index AreaIndex, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{q: q, index: index, clock: clock}
}

// Upsert registers endpoint at location, or replaces the keys, location and
// user agent of an existing registration. created reports whether a new row
// was inserted.
func (r *Registry) Upsert(ctx context.Context, endpoint string, keys Keys, location *geo.Point, userAgent string) (sub Subscription, created bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Subscription{}, false, apperr.NewValidation("endpoint is required")
	}
	if location == nil {
		return Subscription{}, false, apperr.NewValidation("location is required")
	}
	if err := location.Validate(); err != nil {
		return Subscription{}, false, err
	}

	row := r.q.QueryRow(ctx, "subscription_upsert",
		uuid.NewString(), endpoint, keys.P256dh, keys.Auth,
		location.Lat, location.Lng, userAgent, r.clock.Now().UTC(),
	)
	sub, err = scanSubscription(row, &created)
	if err != nil {
		return Subscription{}, false, apperr.Storage("upsert subscription", err)
	}
	return sub, created, nil
}

// FindByEndpoint returns the subscription registered for endpoint.
func (r *Registry) FindByEndpoint(ctx context.Context, endpoint string) (Subscription, error) {
	sub, err := scanSubscription(r.q.QueryRow(ctx, "subscription_by_endpoint", endpoint))
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, apperr.NewNotFound("subscription for endpoint")
	}
	if err != nil {
		return Subscription{}, apperr.Storage("find subscription", err)
	}
	return sub, nil
}

// Remove deletes the subscription for endpoint. Removing an unknown
// endpoint is not an error.
func (r *Registry) Remove(ctx context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return apperr.NewValidation("endpoint is required")
	}
	if _, err := r.q.Exec(ctx, "subscription_delete", endpoint); err != nil {
		return apperr.Storage("delete subscription", err)
	}
	return nil
}

// RemoveMany deletes every listed endpoint and returns how many rows went away.
func (r *Registry) RemoveMany(ctx context.Context, endpoints []string) (int, error) {
	if len(endpoints) == 0 {
		return 0, nil
	}
	tag, err := r.q.Exec(ctx, "subscription_delete_many", endpoints)
	if err != nil {
		return 0, apperr.Storage("delete subscriptions", err)
	}
	return int(tag.RowsAffected()), nil
}

// FindWithinArea returns the subscriptions located inside area.
func (r *Registry) FindWithinArea(ctx context.Context, area geo.Area) ([]Subscription, error) {
	if err := area.Validate(); err != nil {
		return nil, err
	}
	subs, err := r.index.FindWithinArea(ctx, area)
	if err != nil {
		return nil, apperr.Storage("find subscriptions in area", err)
	}
	return subs, nil
}

// DistinctLocations returns up to limit distinct subscription coordinates.
func (r *Registry) DistinctLocations(ctx context.Context, limit int) ([]geo.Point, error) {
	if limit <= 0 {
		limit = DefaultLocationLimit
	}
	rows, err := r.q.Query(ctx, "subscription_distinct_locations", limit)
	if err != nil {
		return nil, apperr.Storage("distinct locations", err)
	}
	defer rows.Close()

	var points []geo.Point
	for rows.Next() {
		var p geo.Point
		if err := rows.Scan(&p.Lat, &p.Lng); err != nil {
			return nil, apperr.Storage("scan location", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("distinct locations", err)
	}
	return points, nil
}
