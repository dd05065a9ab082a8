package alert

import (
	"encoding/json"

	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/geo"
)

// CandidateRequest is the wire form of a candidate submitted by an operator
// or an external producer. The area is either a GeoJSON Point/Polygon in
// AffectedArea or a bare Location; Radius (km) applies to points.
type CandidateRequest struct {
	Type         Type            `json:"type"`
	Severity     Severity        `json:"severity"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	AffectedArea json.RawMessage `json:"affectedArea,omitempty" swaggertype:"object"`
	Location     *geo.Point      `json:"location,omitempty"`
	Radius       float64         `json:"radius,omitempty"`
}

// Candidate resolves the request geometry and validates the result.
func (r CandidateRequest) Candidate() (Candidate, error) {
	var area geo.Area
	switch {
	case len(r.AffectedArea) > 0 && string(r.AffectedArea) != "null":
		a, err := geo.ParseGeoJSON(r.AffectedArea, r.Radius)
		if err != nil {
			return Candidate{}, err
		}
		area = a
	case r.Location != nil:
		area = geo.Circle(*r.Location, r.Radius)
	default:
		return Candidate{}, apperr.NewValidation("affectedArea or location is required")
	}
	if !area.IsPolygon() && r.Radius <= 0 {
		return Candidate{}, apperr.NewValidation("radius is required for a point area")
	}

	c := Candidate{
		Type:     r.Type,
		Severity: r.Severity,
		Title:    r.Title,
		Message:  r.Message,
		Area:     area,
	}
	if err := c.Validate(); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

// DecodeCandidate parses a JSON CandidateRequest.
func DecodeCandidate(data []byte) (Candidate, error) {
	var req CandidateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return Candidate{}, apperr.NewValidation("invalid candidate JSON: %v", err)
	}
	return req.Candidate()
}
