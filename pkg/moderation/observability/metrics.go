// Package observability holds Prometheus metrics and OpenTelemetry tracing
// helpers for the moderation pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the moderation pipeline. A nil
// *Metrics is valid and records nothing, so tests and thin CLI paths can skip
// registration.
type Metrics struct {
	// Classification metrics
	ClassificationsTotal   *prometheus.CounterVec
	ClassificationFailures *prometheus.CounterVec
	ClassificationSeconds  *prometheus.HistogramVec
	FallbackParsesTotal    prometheus.Counter
	DecisionConfidence     *prometheus.HistogramVec

	// Dispatch metrics
	SweepRunsTotal    prometheus.Counter
	SweepProcessed    prometheus.Counter
	ScheduledTotal    *prometheus.CounterVec
	KicksTotal        *prometheus.CounterVec
	HeldCommentsGauge prometheus.Gauge

	// Guard metrics
	OverridesTotal prometheus.Counter
	HoldsTotal     prometheus.Counter
}

// DefaultMetrics creates metrics on the default registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates and registers the moderation metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ClassificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_classifications_total",
				Help: "Completed classifications by applied outcome",
			},
			[]string{"outcome", "model"},
		),
		ClassificationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_classification_failures_total",
				Help: "Classification failures by error code",
			},
			[]string{"code", "model"},
		),
		ClassificationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moderation_classification_seconds",
				Help:    "Classification API latency",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),
		FallbackParsesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moderation_fallback_parses_total",
				Help: "Classifications recovered by the free-text fallback parser",
			},
		),
		DecisionConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moderation_decision_confidence",
				Help:    "Reported confidence per classification",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
			},
			[]string{"outcome"},
		),

		SweepRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moderation_sweep_runs_total",
				Help: "Periodic sweep executions",
			},
		),
		SweepProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moderation_sweep_processed_total",
				Help: "Comments processed by the periodic sweep",
			},
		),
		ScheduledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_scheduled_total",
				Help: "Deferred moderation units scheduled, by backend",
			},
			[]string{"backend"},
		),
		KicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_kicks_total",
				Help: "Page-view kicks by result (fired, cooldown)",
			},
			[]string{"result"},
		),
		HeldCommentsGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "moderation_held_comments",
				Help: "Comments currently held awaiting a decision",
			},
		),

		OverridesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moderation_overrides_total",
				Help: "Human overrides of recorded decisions",
			},
		),
		HoldsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moderation_holds_total",
				Help: "Comments forced into the held state at creation",
			},
		),
	}
}

// RecordClassification records a completed classification.
func (m *Metrics) RecordClassification(outcome, model string, confidence float64, duration time.Duration, usedFallback bool) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(outcome, model).Inc()
	m.ClassificationSeconds.WithLabelValues(model).Observe(duration.Seconds())
	m.DecisionConfidence.WithLabelValues(outcome).Observe(confidence)
	if usedFallback {
		m.FallbackParsesTotal.Inc()
	}
}

// RecordFailure records a classification failure by error code.
func (m *Metrics) RecordFailure(code, model string) {
	if m == nil {
		return
	}
	m.ClassificationFailures.WithLabelValues(code, model).Inc()
}

// RecordScheduled records a deferred unit entering a backend.
func (m *Metrics) RecordScheduled(backend string) {
	if m == nil {
		return
	}
	m.ScheduledTotal.WithLabelValues(backend).Inc()
}

// RecordSweep records one sweep run and how many comments it processed.
func (m *Metrics) RecordSweep(processed int) {
	if m == nil {
		return
	}
	m.SweepRunsTotal.Inc()
	m.SweepProcessed.Add(float64(processed))
}

// RecordKick records a page-view kick attempt.
func (m *Metrics) RecordKick(fired bool) {
	if m == nil {
		return
	}
	if fired {
		m.KicksTotal.WithLabelValues("fired").Inc()
	} else {
		m.KicksTotal.WithLabelValues("cooldown").Inc()
	}
}

// RecordOverride records a human override of a decision.
func (m *Metrics) RecordOverride() {
	if m == nil {
		return
	}
	m.OverridesTotal.Inc()
}

// RecordHold records a comment forced into held state.
func (m *Metrics) RecordHold() {
	if m == nil {
		return
	}
	m.HoldsTotal.Inc()
}

// SetHeldComments updates the held-comments gauge.
func (m *Metrics) SetHeldComments(n int) {
	if m == nil {
		return
	}
	m.HeldCommentsGauge.Set(float64(n))
}
