package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the EVV core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RecordTransitions *prometheus.CounterVec
	OfflineSync       *prometheus.CounterVec
	DispatchOutcome   *prometheus.CounterVec
	DispatchLatency   *prometheus.HistogramVec
	AuditFailures     prometheus.Counter
	JobRuns           *prometheus.CounterVec
	JobLatency        *prometheus.HistogramVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evv_record_transitions_total",
			Help: "Visit record lifecycle events by event type",
		}, []string{"event"}),

		OfflineSync: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evv_offline_sync_items_total",
			Help: "Offline queue items processed by operation and outcome",
		}, []string{"operation", "outcome"}), // outcome: "synced", "failed", "exhausted"

		DispatchOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evv_outbox_dispatch_total",
			Help: "Outbox delivery attempts by destination and outcome",
		}, []string{"destination", "outcome"}),

		DispatchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evv_outbox_dispatch_duration_seconds",
			Help:    "Duration of adapter submit calls by destination",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"destination"}),

		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "evv_audit_write_failures_total",
			Help: "Audit events that could not be persisted",
		}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evv_scheduler_job_runs_total",
			Help: "Background job runs by job and outcome",
		}, []string{"job", "outcome"}), // outcome: "ok", "error", "skipped"

		JobLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evv_scheduler_job_duration_seconds",
			Help:    "Duration of background job runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
	}
}

func (m *Metrics) IncRecordEvent(event string) {
	if m != nil {
		m.RecordTransitions.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) IncOfflineSync(operation, outcome string) {
	if m != nil {
		m.OfflineSync.WithLabelValues(operation, outcome).Inc()
	}
}

// ObserveDispatch records one adapter call and its outcome.
func (m *Metrics) ObserveDispatch(destination, outcome string, d time.Duration) {
	if m != nil {
		m.DispatchOutcome.WithLabelValues(destination, outcome).Inc()
		m.DispatchLatency.WithLabelValues(destination).Observe(d.Seconds())
	}
}

func (m *Metrics) IncAuditFailure() {
	if m != nil {
		m.AuditFailures.Inc()
	}
}

func (m *Metrics) ObserveJob(job, outcome string, d time.Duration) {
	if m != nil {
		m.JobRuns.WithLabelValues(job, outcome).Inc()
		m.JobLatency.WithLabelValues(job).Observe(d.Seconds())
	}
}
