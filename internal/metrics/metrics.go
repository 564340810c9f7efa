package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the custody engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Mutations     *prometheus.CounterVec
	Splits        *prometheus.CounterVec
	Verifications *prometheus.CounterVec
	AuditOutcomes *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec
	AuditPending  prometheus.Gauge
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "armory_custody_mutations_total",
			Help: "Ledger mutations by operation and outcome",
		}, []string{"op", "outcome"}),
		Splits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "armory_bulk_splits_total",
			Help: "Bulk releases by kind (whole or partial)",
		}, []string{"kind"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "armory_verifications_total",
			Help: "Verification records created or undone, by subject kind",
		}, []string{"subject", "action"}),
		AuditOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "armory_audit_outcomes_total",
			Help: "Audit/notification outcomes of custody batches",
		}, []string{"outcome"}),
		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "armory_batch_duration_seconds",
			Help:    "Wall time of custody batches by entry point",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		AuditPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "armory_audit_fallback_pending",
			Help: "Audit events held in memory after the audit sink failed",
		}),
	}
}

// IncMutation counts one ledger mutation.
func (m *Metrics) IncMutation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Mutations.WithLabelValues(op, outcome).Inc()
}

// IncSplit counts a bulk release.
func (m *Metrics) IncSplit(partial bool) {
	if m == nil {
		return
	}
	kind := "whole"
	if partial {
		kind = "partial"
	}
	m.Splits.WithLabelValues(kind).Inc()
}

// IncVerification counts a verification create or undo.
func (m *Metrics) IncVerification(subject, action string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(subject, action).Inc()
}

// IncAuditOutcome counts the notification outcome of a batch.
func (m *Metrics) IncAuditOutcome(outcome string) {
	if m == nil {
		return
	}
	m.AuditOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveBatch records how long a batch took.
func (m *Metrics) ObserveBatch(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetAuditPending reports the size of the audit fallback buffer.
func (m *Metrics) SetAuditPending(n int) {
	if m == nil {
		return
	}
	m.AuditPending.Set(float64(n))
}
