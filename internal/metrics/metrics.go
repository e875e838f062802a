// Package metrics exposes Prometheus instrumentation for runs, stages and
// pooled clients. A nil *Metrics is valid and records nothing, so components
// can be constructed without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradegrid"

// Metrics holds every collector the engine reports to.
type Metrics struct {
	runsTotal     *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runsQueued    prometheus.Gauge
	runsPeak      prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	slotWait      prometheus.Histogram
	poolCheckouts *prometheus.CounterVec
	poolWait      *prometheus.HistogramVec
	events        *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of analysis runs by terminal status",
			},
			[]string{"status"},
		),
		runsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Number of runs currently holding an admission slot",
			},
		),
		runsQueued: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_queued",
				Help:      "Number of runs waiting for an admission slot",
			},
		),
		runsPeak: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_peak_active",
				Help:      "Highest number of simultaneously active runs observed",
			},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Stage handler duration distribution",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "kind"},
		),
		stageFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Total number of stage handler failures",
			},
			[]string{"stage", "retryable"},
		),
		slotWait: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admission_wait_seconds",
				Help:      "Time runs spent waiting for an admission slot",
				Buckets:   prometheus.DefBuckets,
			},
		),
		poolCheckouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_checkouts_total",
				Help:      "Total number of pooled client checkouts",
			},
			[]string{"kind"},
		),
		poolWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_wait_seconds",
				Help:      "Time spent waiting for a pooled client",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "progress_events_total",
				Help:      "Total number of progress events emitted",
			},
			[]string{"status"},
		),
	}
}

// RunFinished counts a run that reached a terminal status.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

// SetLoad publishes the controller's current occupancy.
func (m *Metrics) SetLoad(active, queued, peak int) {
	if m == nil {
		return
	}
	m.runsActive.Set(float64(active))
	m.runsQueued.Set(float64(queued))
	m.runsPeak.Set(float64(peak))
}

// ObserveSlotWait records how long a run waited for admission.
func (m *Metrics) ObserveSlotWait(d time.Duration) {
	if m == nil {
		return
	}
	m.slotWait.Observe(d.Seconds())
}

// ObserveStage records one handler invocation.
func (m *Metrics) ObserveStage(stage, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, kind).Observe(d.Seconds())
}

// StageFailed counts a classified stage failure.
func (m *Metrics) StageFailed(stage string, retryable bool) {
	if m == nil {
		return
	}
	r := "false"
	if retryable {
		r = "true"
	}
	m.stageFailures.WithLabelValues(stage, r).Inc()
}

// ObserveCheckout records a pooled client checkout.
func (m *Metrics) ObserveCheckout(kind string, wait time.Duration) {
	if m == nil {
		return
	}
	m.poolCheckouts.WithLabelValues(kind).Inc()
	m.poolWait.WithLabelValues(kind).Observe(wait.Seconds())
}

// EventEmitted counts a progress event.
func (m *Metrics) EventEmitted(status string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(status).Inc()
}
