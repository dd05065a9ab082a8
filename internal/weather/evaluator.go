package weather

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/observability"
)

// Rule thresholds and affected radii.
const (
	RainThresholdMm     = 50.0
	WindThresholdKph    = 60.0
	HeatThresholdC      = 35.0
	FreezeThresholdC    = 0.0
	RainRadiusKm        = 50.0
	WindRadiusKm        = 30.0
	TemperatureRadiusKm = 40.0
)

// Provider returns a forecast reading for a point.
type Provider interface {
	Forecast(ctx context.Context, p geo.Point) (Reading, error)
}

// Evaluator turns a location into zero or more candidate alerts.
type Evaluator struct {
	provider Provider
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewEvaluator(provider Provider, metrics *observability.Metrics, logger *slog.Logger) *Evaluator {
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{provider: provider, metrics: metrics, logger: logger}
}

// Evaluate fetches the forecast for p and applies the rules. A fetch failure
// is returned as a provider error for the caller to log and move past.
func (e *Evaluator) Evaluate(ctx context.Context, p geo.Point) ([]alert.Candidate, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	reading, err := e.provider.Forecast(ctx, p)
	if err != nil {
		if !apperr.IsProvider(err) {
			err = apperr.Provider("fetch forecast", err)
		}
		return nil, fmt.Errorf("evaluate %s: %w", p, err)
	}

	candidates := Classify(reading, p)
	for _, c := range candidates {
		e.metrics.CandidatesDetected.WithLabelValues(string(c.Type)).Inc()
	}
	e.logger.Debug("location evaluated",
		"lat", p.Lat, "lng", p.Lng,
		"temp_c", reading.TempC, "wind_kph", reading.WindKph,
		"candidates", len(candidates))
	return candidates, nil
}

// Classify applies the fixed threshold rules. Rules are independent and may
// co-fire. Each candidate is a circle around the queried location, so the
// subscribers it was evaluated for are always inside it.
func Classify(r Reading, at geo.Point) []alert.Candidate {
	var out []alert.Candidate

	if r.PrecipMm != nil && *r.PrecipMm > RainThresholdMm {
		out = append(out, alert.Candidate{
			Type:     alert.Rain,
			Severity: alert.High,
			Title:    "Heavy Rainfall Warning",
			Message:  fmt.Sprintf("Heavy rainfall (%smm) expected in your area. Possible flooding.", num(*r.PrecipMm)),
			Area:     geo.Circle(at, RainRadiusKm),
		})
	}
	if r.WindKph > WindThresholdKph {
		out = append(out, alert.Candidate{
			Type:     alert.Wind,
			Severity: alert.Moderate,
			Title:    "High Wind Warning",
			Message:  fmt.Sprintf("Strong winds (%s kph) expected in your area.", num(r.WindKph)),
			Area:     geo.Circle(at, WindRadiusKm),
		})
	}
	if r.TempC > HeatThresholdC {
		out = append(out, alert.Candidate{
			Type:     alert.Heatwave,
			Severity: alert.High,
			Title:    "Heat Wave Alert",
			Message:  fmt.Sprintf("Extreme heat (%s°C) expected in your area. Stay hydrated.", num(r.TempC)),
			Area:     geo.Circle(at, TemperatureRadiusKm),
		})
	}
	if r.TempC < FreezeThresholdC {
		out = append(out, alert.Candidate{
			Type:     alert.Coldwave,
			Severity: alert.Moderate,
			Title:    "Freezing Temperature Alert",
			Message:  fmt.Sprintf("Freezing temperatures (%s°C) expected in your area.", num(r.TempC)),
			Area:     geo.Circle(at, TemperatureRadiusKm),
		})
	}
	return out
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
