package push

import (
	"encoding/json"

	"github.com/climaguard/alerts/internal/alert"
)

const (
	alertIcon  = "/icons/weather-alert.png"
	alertBadge = "/icons/badge.png"
)

// Payload is the JSON document the service worker receives.
type Payload struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Data    Data     `json:"data"`
	Actions []Action `json:"actions"`
}

// Data carries the deep link back to the alert.
type Data struct {
	URL      string `json:"url"`
	AlertID  string `json:"alertId"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// AlertPayload builds the notification for a persisted alert.
func AlertPayload(a alert.Alert) Payload {
	return Payload{
		Title: a.Title,
		Body:  a.Message,
		Icon:  alertIcon,
		Badge: alertBadge,
		Data: Data{
			URL:      "/alerts/" + a.ID,
			AlertID:  a.ID,
			Type:     string(a.Type),
			Severity: string(a.Severity),
		},
		Actions: []Action{
			{Action: "view", Title: "View Details"},
			{Action: "dismiss", Title: "Dismiss"},
		},
	}
}

// Encode marshals the payload. The struct has no unencodable fields.
func (p Payload) Encode() []byte {
	b, _ := json.Marshal(p)
	return b
}
