// Package alert owns the Alert lifecycle: candidates produced by rule
// evaluation or an operator are committed here, the dispatcher records the
// delivery tally once, and expiry is applied at query time. Rows are never
// deleted.
package alert

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/geo"
)

// Type is the kind of environmental threat.
type Type string

const (
	Storm    Type = "storm"
	Flood    Type = "flood"
	Heatwave Type = "heatwave"
	Coldwave Type = "coldwave"
	Rain     Type = "rain"
	Wind     Type = "wind"
)

// Valid reports whether t is a known alert type.
func (t Type) Valid() bool {
	switch t {
	case Storm, Flood, Heatwave, Coldwave, Rain, Wind:
		return true
	}
	return false
}

// Severity grades an alert.
type Severity string

const (
	Low      Severity = "low"
	Moderate Severity = "moderate"
	High     Severity = "high"
	Extreme  Severity = "extreme"
)

func (s Severity) Valid() bool {
	switch s {
	case Low, Moderate, High, Extreme:
		return true
	}
	return false
}

// DispatchStatus tracks whether the one delivery pass has been recorded.
type DispatchStatus string

const (
	StatusPending    DispatchStatus = "pending"
	StatusDispatched DispatchStatus = "dispatched"
)

// Candidate is a detected anomaly that has not been persisted yet.
type Candidate struct {
	Type     Type     `json:"type"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Area     geo.Area `json:"-"`
}

// Validate checks the candidate before it is committed.
func (c Candidate) Validate() error {
	if !c.Type.Valid() {
		return apperr.NewValidation("unknown alert type %q", c.Type)
	}
	if !c.Severity.Valid() {
		return apperr.NewValidation("unknown severity %q", c.Severity)
	}
	if strings.TrimSpace(c.Title) == "" {
		return apperr.NewValidation("title is required")
	}
	if strings.TrimSpace(c.Message) == "" {
		return apperr.NewValidation("message is required")
	}
	return c.Area.Validate()
}

// Alert is a persisted, append-only alert record.
type Alert struct {
	ID                      string         `json:"id"`
	Type                    Type           `json:"type"`
	Severity                Severity       `json:"severity"`
	Title                   string         `json:"title"`
	Message                 string         `json:"message"`
	AffectedArea            geo.Area       `json:"affectedArea"`
	RadiusKm                *float64       `json:"radius,omitempty"`
	TriggeredAt             time.Time      `json:"triggeredAt"`
	ExpiresAt               time.Time      `json:"expiresAt"`
	NotifiedSubscriptionIDs []string       `json:"notifiedSubscriptionIds"`
	TotalUsersNotified      int            `json:"totalUsersNotified"`
	DispatchStatus          DispatchStatus `json:"dispatchStatus"`
	DispatchedAt            *time.Time     `json:"dispatchedAt,omitempty"`
}

// UnmarshalJSON restores the circle radius, which travels beside the
// GeoJSON geometry.
func (a *Alert) UnmarshalJSON(data []byte) error {
	type plain Alert
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	p.AffectedArea = p.AffectedArea.WithRadius(p.RadiusKm)
	*a = Alert(p)
	return nil
}

// ActiveAt reports whether the alert has not expired at now.
func (a Alert) ActiveAt(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}
