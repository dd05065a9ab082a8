package subscription

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/climaguard/alerts/internal/config"
	"github.com/climaguard/alerts/internal/db"
	"github.com/climaguard/alerts/internal/geo"
)

// AreaIndex answers "which subscriptions lie inside this area".
type AreaIndex interface {
	FindWithinArea(ctx context.Context, area geo.Area) ([]Subscription, error)
}

// NewIndex returns the backend named by cfg.GeoIndex.
func NewIndex(q db.Querier, backend string) (AreaIndex, error) {
	switch backend {
	case config.GeoIndexExact, "":
		return &ExactIndex{q: q}, nil
	case config.GeoIndexPostGIS:
		return &PostGISIndex{q: q}, nil
	default:
		return nil, fmt.Errorf("unknown geo index backend %q", backend)
	}
}

// ExactIndex narrows candidates with a lat/lng bounding box on the btree
// index and applies the exact geometric test in Go. Suited to small and
// medium subscriber counts and needs no database extension.
type ExactIndex struct {
	q db.Querier
}

func (x *ExactIndex) FindWithinArea(ctx context.Context, area geo.Area) ([]Subscription, error) {
	box := area.BoundingBox()
	rows, err := x.q.Query(ctx, "subscription_in_box", box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(s Subscription) bool {
		return area.Contains(s.Location)
	})
}

// PostGISIndex narrows candidates inside Postgres with GiST expression
// indexes (see schema_postgis.sql) and applies the same exact test as
// ExactIndex in Go, so both backends agree at the edges. The circle query is
// padded because geography distance is spheroidal while Area.Contains uses
// haversine.
type PostGISIndex struct {
	q db.Querier
}

// radiusPad widens the spheroidal prefilter past the haversine radius.
const radiusPad = 1.01

const (
	postgisWithinRadius = "SELECT " + db.SubscriptionColumns + ` FROM subscriptions
		WHERE ST_DWithin(
			ST_SetSRID(ST_MakePoint(lng, lat), 4326)::geography,
			ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography,
			$3)`

	postgisWithinPolygon = "SELECT " + db.SubscriptionColumns + ` FROM subscriptions
		WHERE ST_Covers(
			ST_SetSRID(ST_GeomFromGeoJSON($1::text), 4326),
			ST_SetSRID(ST_MakePoint(lng, lat), 4326))`
)

func (x *PostGISIndex) FindWithinArea(ctx context.Context, area geo.Area) ([]Subscription, error) {
	if !area.IsPolygon() {
		rows, err := x.q.Query(ctx, postgisWithinRadius, area.Center.Lng, area.Center.Lat, area.RadiusKm*1000*radiusPad)
		if err != nil {
			return nil, err
		}
		return collect(rows, func(s Subscription) bool {
			return area.Contains(s.Location)
		})
	}

	geojson, err := json.Marshal(area)
	if err != nil {
		return nil, fmt.Errorf("encode polygon: %w", err)
	}
	rows, err := x.q.Query(ctx, postgisWithinPolygon, string(geojson))
	if err != nil {
		return nil, err
	}
	return collect(rows, func(s Subscription) bool {
		return area.Contains(s.Location)
	})
}
