package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/BrandonDHaskell/keyway/internal/keyway/metrics"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.IncrementIssued("qr")
	m.IncrementRedemption("ok")
	m.ObserveActuator("ok", time.Millisecond)
	m.SetAuditQueueDepth(3)
	m.AddSwept(2)
}

func TestMetrics_CountsOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.IncrementIssued("otp")
	m.IncrementIssued("otp")
	m.IncrementRedemption("expired")
	m.AddSwept(5)
	m.AddSwept(0)

	if got := testutil.ToFloat64(m.CredentialsIssued.WithLabelValues("otp")); got != 2 {
		t.Errorf("issued otp = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RedemptionOutcome.WithLabelValues("expired")); got != 1 {
		t.Errorf("redemptions expired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CredentialsSwept); got != 5 {
		t.Errorf("swept = %v, want 5", got)
	}

	// A second registry must accept the same names.
	_ = metrics.New(prometheus.NewRegistry())
}
