package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alittlebitofmoney/server/internal/config"
	"github.com/alittlebitofmoney/server/internal/lightning"
)

func monitorFixture(t *testing.T, balanceSat int64, thresholdSats int64) (*BalanceMonitor, *int32) {
	t.Helper()

	phoenixSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"balanceSat": balanceSat, "feeCreditSat": 0})
	}))
	t.Cleanup(phoenixSrv.Close)

	var alerts int32
	alertSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&alerts, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(alertSrv.Close)

	cfg := config.MonitoringConfig{
		LowBalanceAlertURL:      alertSrv.URL,
		LowBalanceThresholdSats: thresholdSats,
		CheckInterval:           config.Duration{Duration: time.Hour},
		Timeout:                 config.Duration{Duration: 5 * time.Second},
	}
	phoenix := lightning.New(phoenixSrv.URL, "pw", 5*time.Second, nil)
	return NewBalanceMonitor(cfg, phoenix, zerolog.Nop()), &alerts
}

func TestCheckBalanceAlertsBelowThreshold(t *testing.T) {
	m, alerts := monitorFixture(t, 1000, 50000)

	m.checkBalance(context.Background())
	require.EqualValues(t, 1, atomic.LoadInt32(alerts))

	// A second check within the dedupe window stays quiet.
	m.checkBalance(context.Background())
	assert.EqualValues(t, 1, atomic.LoadInt32(alerts))
}

func TestCheckBalanceHealthyStaysQuiet(t *testing.T) {
	m, alerts := monitorFixture(t, 100000, 50000)

	m.checkBalance(context.Background())
	assert.EqualValues(t, 0, atomic.LoadInt32(alerts))
}

func TestRecoveryResetsAlertWindow(t *testing.T) {
	m, _ := monitorFixture(t, 100000, 50000)

	m.mu.Lock()
	m.lastAlertAt = time.Now()
	m.mu.Unlock()

	m.checkBalance(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.True(t, m.lastAlertAt.IsZero())
}
