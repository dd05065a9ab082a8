package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/observability"
)

// Pipeline commits candidates and dispatches them.
type Pipeline struct {
	evaluator  Evaluator
	alerts     AlertCreator
	dispatcher AlertDispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewPipeline wires the stages. evaluator may be nil when only
// ProcessCandidate is used (operator and listener paths).
func NewPipeline(evaluator Evaluator, alerts AlertCreator, dispatcher AlertDispatcher, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		evaluator:  evaluator,
		alerts:     alerts,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// ProcessCandidate persists c and dispatches it. A dispatch failure after
// the alert was created is returned alongside the alert; the alert keeps
// totalUsersNotified = 0.
func (p *Pipeline) ProcessCandidate(ctx context.Context, c alert.Candidate, source string) (alert.Alert, DispatchResult, error) {
	// 1. Persist
	a, err := p.alerts.Create(ctx, c)
	if err != nil {
		return alert.Alert{}, DispatchResult{}, fmt.Errorf("create %s alert: %w", c.Type, err)
	}
	p.metrics.AlertsCreated.WithLabelValues(source).Inc()
	p.logger.Info("Alert created",
		"alert_id", a.ID, "type", a.Type, "severity", a.Severity,
		"area", a.AffectedArea.Kind(), "source", source)

	// 2. Dispatch
	res, err := p.dispatcher.Dispatch(ctx, a)
	return a, res, err
}

// ProcessLocation evaluates p and runs every candidate through
// ProcessCandidate. Candidates are handled in rule order; the first storage
// failure abandons the rest of this location.
func (p *Pipeline) ProcessLocation(ctx context.Context, loc geo.Point) (LocationResult, error) {
	result := LocationResult{Location: loc}
	if p.evaluator == nil {
		return result, fmt.Errorf("pipeline has no evaluator")
	}

	candidates, err := p.evaluator.Evaluate(ctx, loc)
	if err != nil {
		return result, err
	}
	result.Candidates = len(candidates)

	for _, c := range candidates {
		_, res, err := p.ProcessCandidate(ctx, c, SourceScheduler)
		if err != nil {
			return result, err
		}
		result.Dispatches = append(result.Dispatches, res)
	}
	return result, nil
}
