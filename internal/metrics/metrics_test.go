package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveGatewayRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveGatewayRequest("openai", "/v1/chat/completions", "l402")
	m.ObserveGatewayRequest("openai", "/v1/chat/completions", "l402")
	m.ObserveGatewayRequest("openai", "/v1/chat/completions", "bearer")

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.GatewayRequestsTotal.WithLabelValues("openai", "/v1/chat/completions", "l402")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.GatewayRequestsTotal.WithLabelValues("openai", "/v1/chat/completions", "bearer")))
}

func TestObserveDebit(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDebit("openai:/v1/embeddings", 2)
	m.ObserveDebit("openai:/v1/embeddings", 2)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.DebitsTotal.WithLabelValues("openai:/v1/embeddings")))
	assert.Equal(t, float64(4), testutil.ToFloat64(
		m.DebitedSatsTotal.WithLabelValues("openai:/v1/embeddings")))
}

func TestObserveEscrow(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEscrowLock("ledger", 80)
	m.ObserveEscrowLock("lightning", 50)
	m.ObserveEscrowRelease(80)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EscrowLocksTotal.WithLabelValues("ledger")))
	assert.Equal(t, float64(130), testutil.ToFloat64(m.EscrowedSatsTotal))
	assert.Equal(t, float64(80), testutil.ToFloat64(m.ReleasedSatsTotal))
}

func TestObservePhoenixCall(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePhoenixCall("createinvoice", 120*time.Millisecond, nil)
	m.ObservePhoenixCall("createinvoice", 50*time.Millisecond, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.PhoenixCallsTotal.WithLabelValues("createinvoice", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.PhoenixCallsTotal.WithLabelValues("createinvoice", "error")))
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances with their own registries must not collide.
	m1 := New(prometheus.NewRegistry())
	m2 := New(prometheus.NewRegistry())

	m1.ReplaysRejectedTotal.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m1.ReplaysRejectedTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(m2.ReplaysRejectedTotal))
}
