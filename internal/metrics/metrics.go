// Package metrics exposes the bot's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "achievements"

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics groups the collectors registered for one process.
type Metrics struct {
	grants        *prometheus.CounterVec
	grantDuration *prometheus.HistogramVec
	placements    *prometheus.CounterVec
	telegramCalls *prometheus.CounterVec
	warnings      *prometheus.CounterVec
	updates       *prometheus.CounterVec
}

// New registers the collectors with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		grants: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grants_total",
				Help:      "Achievement grants by path and outcome",
			},
			[]string{"path", "outcome"},
		),
		grantDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "grant_duration_seconds",
				Help:      "Time spent granting an achievement, including remote calls",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"path"},
		),
		placements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "placements_total",
				Help:      "Collection placements by scope and plan mode",
			},
			[]string{"scope", "mode"},
		),
		telegramCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "telegram",
				Name:      "calls_total",
				Help:      "Bot API calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		warnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warnings_total",
				Help:      "Usage warnings by interaction and whether they led to a ban",
			},
			[]string{"interaction", "banned"},
		),
		updates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_total",
				Help:      "Telegram updates handled by kind",
			},
			[]string{"kind"},
		),
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// ObserveCall counts a Bot API call.
func (m *Metrics) ObserveCall(method string, err error) {
	m.telegramCalls.WithLabelValues(method, outcome(err)).Inc()
}

func (m *Metrics) RecordGrant(path string, err error, duration time.Duration) {
	m.grants.WithLabelValues(path, outcome(err)).Inc()
	m.grantDuration.WithLabelValues(path).Observe(duration.Seconds())
}

func (m *Metrics) RecordPlacement(scope, mode string) {
	m.placements.WithLabelValues(scope, mode).Inc()
}

func (m *Metrics) RecordWarning(interaction string, banned bool) {
	label := "false"
	if banned {
		label = "true"
	}
	m.warnings.WithLabelValues(interaction, label).Inc()
}

func (m *Metrics) RecordUpdate(kind string) {
	m.updates.WithLabelValues(kind).Inc()
}
