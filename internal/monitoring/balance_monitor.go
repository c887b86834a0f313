// Package monitoring watches the Lightning node's channel balance and posts
// a webhook alert when it drops below the configured floor. A drained node
// cannot mint invoices, which silently turns every 402 into a 503.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alittlebitofmoney/server/internal/config"
	"github.com/alittlebitofmoney/server/internal/lightning"
)

// BalanceMonitor periodically checks the phoenixd channel balance.
type BalanceMonitor struct {
	cfg        config.MonitoringConfig
	phoenix    *lightning.Client
	httpClient *http.Client
	log        zerolog.Logger

	mu          sync.Mutex
	lastAlertAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// BalanceAlert is the webhook payload for a low-balance notification.
type BalanceAlert struct {
	BalanceSats   int64     `json:"balance_sats"`
	ThresholdSats int64     `json:"threshold_sats"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewBalanceMonitor creates a monitor for the node backing the gateway.
func NewBalanceMonitor(cfg config.MonitoringConfig, phoenix *lightning.Client, log zerolog.Logger) *BalanceMonitor {
	return &BalanceMonitor{
		cfg:        cfg,
		phoenix:    phoenix,
		httpClient: &http.Client{Timeout: cfg.Timeout.Duration},
		log:        log,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the monitoring loop. No-op when no alert URL is configured.
func (m *BalanceMonitor) Start(ctx context.Context) {
	if m.cfg.LowBalanceAlertURL == "" {
		m.log.Info().Msg("balance_monitor.disabled_no_url")
		return
	}

	m.log.Info().
		Dur("check_interval", m.cfg.CheckInterval.Duration).
		Int64("threshold_sats", m.cfg.LowBalanceThresholdSats).
		Msg("balance_monitor.started")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Stop gracefully stops the monitoring loop.
func (m *BalanceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.log.Info().Msg("balance_monitor.stopped")
}

// Close implements io.Closer for lifecycle registration.
func (m *BalanceMonitor) Close() error {
	m.Stop()
	return nil
}

func (m *BalanceMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval.Duration)
	defer ticker.Stop()

	m.checkBalance(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBalance(ctx)
		}
	}
}

func (m *BalanceMonitor) checkBalance(ctx context.Context) {
	balance, err := m.phoenix.GetBalance(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("balance_monitor.fetch_error")
		return
	}

	total := balance.BalanceSat + balance.FeeCreditSat
	m.log.Debug().Int64("balance_sats", total).Msg("balance_monitor.checked")

	if total >= m.cfg.LowBalanceThresholdSats {
		m.clearAlert()
		return
	}
	if m.shouldAlert() {
		m.sendAlert(ctx, total)
	}
}

// shouldAlert rate-limits notifications to one per 24 hours while the
// balance stays low.
func (m *BalanceMonitor) shouldAlert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAlertAt.IsZero() || time.Since(m.lastAlertAt) > 24*time.Hour
}

func (m *BalanceMonitor) clearAlert() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAlertAt = time.Time{}
}

func (m *BalanceMonitor) sendAlert(ctx context.Context, balanceSats int64) {
	alert := BalanceAlert{
		BalanceSats:   balanceSats,
		ThresholdSats: m.cfg.LowBalanceThresholdSats,
		Timestamp:     time.Now().UTC(),
	}

	// Discord/Slack-compatible default payload with the structured alert
	// alongside for machine consumers.
	body, err := json.Marshal(map[string]interface{}{
		"content": fmt.Sprintf(
			"Low Lightning balance: %d sats (threshold %d sats). "+
				"Invoice minting fails once the node cannot receive.",
			balanceSats, m.cfg.LowBalanceThresholdSats,
		),
		"alert": alert,
	})
	if err != nil {
		m.log.Error().Err(err).Msg("balance_monitor.marshal_error")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.LowBalanceAlertURL, bytes.NewReader(body))
	if err != nil {
		m.log.Error().Err(err).Msg("balance_monitor.request_error")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range m.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.log.Error().Err(err).Msg("balance_monitor.send_error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		m.log.Info().
			Int64("balance_sats", balanceSats).
			Int("status_code", resp.StatusCode).
			Msg("balance_monitor.alert_sent")
		m.mu.Lock()
		m.lastAlertAt = time.Now()
		m.mu.Unlock()
	} else {
		m.log.Warn().Int("status_code", resp.StatusCode).Msg("balance_monitor.alert_failed")
	}
}
