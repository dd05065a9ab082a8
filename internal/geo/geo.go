// Package geo provides the geofence geometry used by subscriptions and
// alerts: WGS84 points, circles (point + radius) and polygons, with exact
// containment tests and GeoJSON encoding.
package geo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/climaguard/alerts/internal/apperr"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate reports whether the point is a usable WGS84 coordinate.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return apperr.NewValidation("coordinates must be finite")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return apperr.NewValidation("latitude %v out of range [-90, 90]", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return apperr.NewValidation("longitude %v out of range [-180, 180]", p.Lng)
	}
	return nil
}

func (p Point) String() string { return fmt.Sprintf("(%.4f,%.4f)", p.Lat, p.Lng) }

func (p Point) orb() orb.Point { return orb.Point{p.Lng, p.Lat} }

func fromOrb(p orb.Point) Point { return Point{Lat: p.Lat(), Lng: p.Lon()} }

// Area is an affected-area geometry: either a circle around Center or a
// polygon. The zero Polygon means circle.
type Area struct {
	Center   Point
	RadiusKm float64
	Polygon  orb.Polygon
}

// Circle returns a point-with-radius area.
func Circle(center Point, radiusKm float64) Area {
	return Area{Center: center, RadiusKm: radiusKm}
}

// NewPolygon builds a polygon area from a single outer ring. The ring is
// closed automatically if the last vertex differs from the first.
func NewPolygon(ring []Point) (Area, error) {
	r := make(orb.Ring, 0, len(ring)+1)
	for _, p := range ring {
		r = append(r, p.orb())
	}
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	a := Area{Polygon: orb.Polygon{r}}
	if err := a.Validate(); err != nil {
		return Area{}, err
	}
	a.Center = fromOrb(a.Polygon.Bound().Center())
	return a, nil
}

// IsPolygon reports whether the area is a polygon rather than a circle.
func (a Area) IsPolygon() bool { return len(a.Polygon) > 0 }

// Kind returns the GeoJSON geometry type name.
func (a Area) Kind() string {
	if a.IsPolygon() {
		return "Polygon"
	}
	return "Point"
}

// Validate checks coordinates and shape.
func (a Area) Validate() error {
	if !a.IsPolygon() {
		if err := a.Center.Validate(); err != nil {
			return err
		}
		if a.RadiusKm < 0 || math.IsNaN(a.RadiusKm) {
			return apperr.NewValidation("radius must be non-negative")
		}
		return nil
	}
	outer := a.Polygon[0]
	if len(outer) < 4 {
		return apperr.NewValidation("polygon ring needs at least 3 distinct vertices")
	}
	for _, ring := range a.Polygon {
		for _, p := range ring {
			if err := fromOrb(p).Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Contains reports whether p lies inside the area. Circles use haversine
// distance on orb.EarthRadius; a zero radius matches the exact coordinate
// only. Polygons are planar in lng/lat, points on the outer boundary count
// as inside and points in a hole do not. Every AreaIndex backend makes its
// final decision with this test.
func (a Area) Contains(p Point) bool {
	if a.IsPolygon() {
		return planar.PolygonContains(a.Polygon, p.orb())
	}
	if a.RadiusKm == 0 {
		return a.Center == p
	}
	return geo.DistanceHaversine(a.Center.orb(), p.orb()) <= a.RadiusKm*1000
}

// Box is a lat/lng bounding box suitable for a SQL BETWEEN prefilter.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Contains reports whether p is inside the box (inclusive).
func (b Box) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// BoundingBox returns a box that fully covers the area. A circle crossing
// the antimeridian or a pole widens to the full longitude range.
func (a Area) BoundingBox() Box {
	var b orb.Bound
	switch {
	case a.IsPolygon():
		b = a.Polygon.Bound()
	case a.RadiusKm == 0:
		b = orb.Bound{Min: a.Center.orb(), Max: a.Center.orb()}
	default:
		b = geo.NewBoundAroundPoint(a.Center.orb(), a.RadiusKm*1000)
	}

	box := Box{
		MinLat: math.Max(b.Min.Lat(), -90),
		MaxLat: math.Min(b.Max.Lat(), 90),
		MinLng: b.Min.Lon(),
		MaxLng: b.Max.Lon(),
	}
	if box.MinLng > box.MaxLng || box.MinLng < -180 || box.MaxLng > 180 || box.MinLat == -90 || box.MaxLat == 90 {
		box.MinLng, box.MaxLng = -180, 180
	}
	return box
}

// Geometry returns the orb geometry (orb.Point or orb.Polygon).
func (a Area) Geometry() orb.Geometry {
	if a.IsPolygon() {
		return a.Polygon
	}
	return a.Center.orb()
}

// MarshalJSON encodes the area as a GeoJSON geometry. The radius of a
// circle is carried separately by the owning record.
func (a Area) MarshalJSON() ([]byte, error) {
	return json.Marshal(geojson.NewGeometry(a.Geometry()))
}

// UnmarshalJSON decodes a GeoJSON Point or Polygon geometry. A decoded
// circle has no radius until the owning record applies it with WithRadius.
func (a *Area) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*a = Area{}
		return nil
	}
	parsed, err := ParseGeoJSON(data, 0)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// WithRadius returns the area with radiusKm applied when it is a circle.
func (a Area) WithRadius(radiusKm *float64) Area {
	if radiusKm != nil && !a.IsPolygon() {
		a.RadiusKm = *radiusKm
	}
	return a
}

// ParseGeoJSON decodes a GeoJSON Point or Polygon geometry. radiusKm applies
// to points and is ignored for polygons.
func ParseGeoJSON(data []byte, radiusKm float64) (Area, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return Area{}, apperr.NewValidation("invalid GeoJSON geometry: %v", err)
	}

	var a Area
	switch geom := g.Geometry().(type) {
	case orb.Point:
		a = Circle(fromOrb(geom), radiusKm)
	case orb.Polygon:
		if len(geom) == 0 {
			return Area{}, apperr.NewValidation("polygon has no rings")
		}
		a = Area{Polygon: geom, Center: fromOrb(geom.Bound().Center())}
	default:
		return Area{}, apperr.NewValidation("unsupported geometry type %q", g.Type)
	}
	if err := a.Validate(); err != nil {
		return Area{}, err
	}
	return a, nil
}
