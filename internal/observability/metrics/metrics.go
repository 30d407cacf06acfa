// Package metrics exposes prometheus instruments for the quota and ledger core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the application-level instruments. A nil *Metrics is safe to
// call; services treat it as disabled.
type Metrics struct {
	admissions      *prometheus.CounterVec
	consumedMinutes *prometheus.CounterVec
	refundedMinutes prometheus.Counter
	topupsApplied   prometheus.Counter
	jobTransitions  *prometheus.CounterVec
	reapedJobs      prometheus.Counter
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubescribe_admissions_total",
			Help: "Credit decision outcomes by reason.",
		}, []string{"reason"}),
		consumedMinutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubescribe_consumed_minutes_total",
			Help: "Minutes consumed, split by credit pool.",
		}, []string{"pool"}),
		refundedMinutes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tubescribe_refunded_minutes_total",
			Help: "Minutes returned to users by refunds.",
		}),
		topupsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tubescribe_topups_applied_total",
			Help: "Top-up credit events applied (replays excluded).",
		}),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubescribe_job_transitions_total",
			Help: "Job status transitions by target status.",
		}, []string{"status"}),
		reapedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tubescribe_reaped_jobs_total",
			Help: "Stuck jobs failed by the reaper.",
		}),
	}

	reg.MustRegister(
		m.admissions,
		m.consumedMinutes,
		m.refundedMinutes,
		m.topupsApplied,
		m.jobTransitions,
		m.reapedJobs,
	)
	return m
}

func (m *Metrics) IncAdmission(reason string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddConsumedMinutes(fromSubscription, fromTopup int) {
	if m == nil {
		return
	}
	m.consumedMinutes.WithLabelValues("subscription").Add(float64(fromSubscription))
	m.consumedMinutes.WithLabelValues("topup").Add(float64(fromTopup))
}

func (m *Metrics) AddRefundedMinutes(minutes int) {
	if m == nil {
		return
	}
	m.refundedMinutes.Add(float64(minutes))
}

func (m *Metrics) IncTopupApplied() {
	if m == nil {
		return
	}
	m.topupsApplied.Inc()
}

func (m *Metrics) IncJobTransition(status string) {
	if m == nil {
		return
	}
	m.jobTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncReapedJob() {
	if m == nil {
		return
	}
	m.reapedJobs.Inc()
}
