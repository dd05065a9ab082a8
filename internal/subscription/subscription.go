// Package subscription is the durable registry of push endpoints keyed by
// geographic point. It owns the Subscription lifecycle: create on first
// subscribe, update on re-subscribe from the same endpoint, delete on
// unsubscribe or when the push service reports the endpoint gone.
package subscription

import (
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/climaguard/alerts/internal/geo"
)

// Keys is the Web Push encryption material supplied by the browser.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is a registered push endpoint at a location.
type Subscription struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Keys      Keys      `json:"keys"`
	Location  geo.Point `json:"location"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// scanSubscription reads a row selected with db.SubscriptionColumns.
func scanSubscription(row pgx.Row, extra ...any) (Subscription, error) {
	var s Subscription
	dest := []any{
		&s.ID, &s.Endpoint, &s.Keys.P256dh, &s.Keys.Auth,
		&s.Location.Lat, &s.Location.Lng, &s.UserAgent,
		&s.CreatedAt, &s.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return s, err
}

func collect(rows pgx.Rows, keep func(Subscription) bool) ([]Subscription, error) {
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(s) {
			subs = append(subs, s)
		}
	}
	return subs, rows.Err()
}
