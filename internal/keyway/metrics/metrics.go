// Package metrics exposes Prometheus instrumentation for issuance,
// redemption, lock actuation, the audit pipeline and the expiry sweep.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use through a nil pointer; every method is a no-op then.
type Metrics struct {
	// Credentials issued by kind ("qr", "otp")
	CredentialsIssued *prometheus.CounterVec

	// Issuance rejections by reason
	IssueDenied *prometheus.CounterVec

	// Redemption outcomes; reason is "ok" on success
	RedemptionOutcome *prometheus.CounterVec

	// Lock actuator latency by outcome ("ok", "failed", "timeout")
	ActuatorLatency *prometheus.HistogramVec

	AuditWriteFailures prometheus.Counter
	AuditRetries       prometheus.Counter
	AuditDropped       prometheus.Counter
	AuditQueueDepth    prometheus.Gauge

	CredentialsSwept prometheus.Counter

	UnlockRateLimited prometheus.Counter
}

// New registers all keyway metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		CredentialsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyway_credentials_issued_total",
			Help: "Total credentials issued by kind",
		}, []string{"kind"}),

		IssueDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyway_issue_denied_total",
			Help: "Total issuance requests rejected by reason",
		}, []string{"reason"}),

		RedemptionOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyway_redemptions_total",
			Help: "Total redemption attempts by outcome reason",
		}, []string{"reason"}),

		ActuatorLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keyway_actuator_duration_seconds",
			Help:    "Duration of lock actuator calls by outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"outcome"}),

		AuditWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "keyway_audit_write_failures_total",
			Help: "Total audit writes that failed and were queued for retry",
		}),
		AuditRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "keyway_audit_retries_total",
			Help: "Total audit write retry attempts",
		}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "keyway_audit_dropped_total",
			Help: "Total audit events dropped after the retry queue overflowed or retries ran out",
		}),
		AuditQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "keyway_audit_retry_queue_depth",
			Help: "Audit events currently waiting for retry",
		}),

		CredentialsSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "keyway_credentials_swept_total",
			Help: "Total credentials moved to expired by the background sweep",
		}),

		UnlockRateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "keyway_unlock_rate_limited_total",
			Help: "Total unlock requests rejected by the failure limiter",
		}),
	}
}

func (m *Metrics) IncrementIssued(kind string) {
	if m != nil {
		m.CredentialsIssued.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementIssueDenied(reason string) {
	if m != nil {
		m.IssueDenied.WithLabelValues(reason).Inc()
	}
}

// IncrementRedemption records a redemption outcome.
func (m *Metrics) IncrementRedemption(reason string) {
	if m != nil {
		m.RedemptionOutcome.WithLabelValues(reason).Inc()
	}
}

// ObserveActuator records the duration of one actuator call.
func (m *Metrics) ObserveActuator(outcome string, d time.Duration) {
	if m != nil {
		m.ActuatorLatency.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementAuditWriteFailures() {
	if m != nil {
		m.AuditWriteFailures.Inc()
	}
}

func (m *Metrics) IncrementAuditRetries() {
	if m != nil {
		m.AuditRetries.Inc()
	}
}

func (m *Metrics) IncrementAuditDropped() {
	if m != nil {
		m.AuditDropped.Inc()
	}
}

func (m *Metrics) SetAuditQueueDepth(n int) {
	if m != nil {
		m.AuditQueueDepth.Set(float64(n))
	}
}

func (m *Metrics) AddSwept(n int) {
	if m != nil && n > 0 {
		m.CredentialsSwept.Add(float64(n))
	}
}

func (m *Metrics) IncrementUnlockRateLimited() {
	if m != nil {
		m.UnlockRateLimited.Inc()
	}
}
