package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "climaguard"

// Metrics holds the Prometheus counters, histograms and gauges for the alert
// pipeline.
type Metrics struct {
	// Scheduler
	SchedulerTicks      prometheus.Counter
	TickDuration        prometheus.Histogram
	LocationsEvaluated  *prometheus.CounterVec // labels: outcome={ok,provider_error,storage_error}
	CandidatesDetected  *prometheus.CounterVec // labels: type
	SchedulerRunning    prometheus.Gauge
	ProviderAPIDuration *prometheus.HistogramVec // labels: provider={weather,push}

	// Alerts and delivery
	AlertsCreated       *prometheus.CounterVec // labels: source={scheduler,operator,listener}
	Deliveries          *prometheus.CounterVec // labels: outcome={success,failed,gone}
	SubscriptionsPruned prometheus.Counter
	ActiveAlerts        prometheus.Gauge
	UndispatchedAlerts  prometheus.Gauge
	EventsPublished     *prometheus.CounterVec // labels: outcome={success,error}
}

func newMetrics(help bool) *Metrics {
	h := func(s string) string {
		if help {
			return s
		}
		return ""
	}
	return &Metrics{
		SchedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      h("Completed anomaly scheduler passes."),
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      h("Duration of one pass over all monitored locations."),
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		LocationsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_evaluated_total",
			Help:      h("Monitored locations evaluated by outcome."),
		}, []string{"outcome"}),
		CandidatesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_detected_total",
			Help:      h("Candidate alerts produced by rule evaluation, by alert type."),
		}, []string{"type"}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      h("1 while the anomaly scheduler loop is active."),
		}),
		ProviderAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      h("External provider request duration in seconds."),
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      h("Alerts persisted, by source."),
		}, []string{"source"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_deliveries_total",
			Help:      h("Push delivery attempts by outcome."),
		}, []string{"outcome"}),
		SubscriptionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_pruned_total",
			Help:      h("Subscriptions removed after the push service reported them gone."),
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      h("Alerts that have not yet expired."),
		}),
		UndispatchedAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "undispatched_alerts",
			Help:      h("Alerts pending past the audit window with no recorded tally."),
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      h("Alert events written to the event stream, by outcome."),
		}, []string{"outcome"}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.SchedulerTicks,
		m.TickDuration,
		m.LocationsEvaluated,
		m.CandidatesDetected,
		m.SchedulerRunning,
		m.ProviderAPIDuration,
		m.AlertsCreated,
		m.Deliveries,
		m.SubscriptionsPruned,
		m.ActiveAlerts,
		m.UndispatchedAlerts,
		m.EventsPublished,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}
