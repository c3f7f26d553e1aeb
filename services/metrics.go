package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	Registry       *prometheus.Registry
	jobsScheduled  *prometheus.CounterVec
	jobsFired      *prometheus.CounterVec
	jobsArmed      prometheus.Gauge
	pollOutcomes   *prometheus.CounterVec
	trackerCalls   *prometheus.CounterVec
	recoveryPasses *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		jobsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "competition_jobs_scheduled_total",
			Help: "Timers armed, by job kind.",
		}, []string{"kind"}),
		jobsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "competition_jobs_fired_total",
			Help: "Timer handler runs, by job kind and result.",
		}, []string{"kind", "result"}),
		jobsArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "competition_jobs_armed",
			Help: "Timers currently armed.",
		}),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "competition_poll_outcomes_total",
			Help: "Finalized polls, by outcome.",
		}, []string{"outcome"}),
		trackerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "competition_tracker_calls_total",
			Help: "Calls to the competition tracker, by operation and result.",
		}, []string{"op", "result"}),
		recoveryPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "competition_recovery_passes_total",
			Help: "Catch-up passes, by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		m.jobsScheduled,
		m.jobsFired,
		m.jobsArmed,
		m.pollOutcomes,
		m.trackerCalls,
		m.recoveryPasses,
	)
	return m
}

func (m *Metrics) jobScheduled(kind string) {
	if m == nil {
		return
	}
	m.jobsScheduled.WithLabelValues(kind).Inc()
}

func (m *Metrics) jobFired(kind string, err error) {
	if m == nil {
		return
	}
	m.jobsFired.WithLabelValues(kind, resultLabel(err)).Inc()
}

func (m *Metrics) setArmed(n int) {
	if m == nil {
		return
	}
	m.jobsArmed.Set(float64(n))
}

func (m *Metrics) pollOutcome(kind PollOutcomeKind) {
	if m == nil {
		return
	}
	m.pollOutcomes.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) trackerCall(op string, err error) {
	if m == nil {
		return
	}
	m.trackerCalls.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) recoveryPass(err error) {
	if m == nil {
		return
	}
	m.recoveryPasses.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
