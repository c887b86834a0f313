package httpserver

import (
	"net/http"
	"time"

	apierrors "github.com/alittlebitofmoney/server/internal/errors"
	"github.com/alittlebitofmoney/server/internal/paywall"
	"github.com/alittlebitofmoney/server/pkg/responders"
)

// catalog lists every gated endpoint with its sats price and, when the BTC
// price feed is warm, an indicative USD conversion.
func (h *handlers) catalog(w http.ResponseWriter, r *http.Request) {
	var (
		btcUSD    float64
		updatedAt string
		havePrice bool
	)
	if h.btc != nil {
		price, at, ok := h.btc.Get(r.Context())
		if ok {
			btcUSD = price
			updatedAt = at.UTC().Format(time.RFC3339)
			havePrice = true
		}
	}
	responders.JSON(w, http.StatusOK, paywall.BuildCatalog(h.cfg, btcUSD, updatedAt, havePrice))
}

// health reports readiness: the Lightning node must answer, everything else
// is informational.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	balance, err := h.phoenix.GetBalance(r.Context())
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePhoenixUnavailable, "Lightning node unavailable")
		return
	}

	payload := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime_s":  int64(time.Since(h.started).Seconds()),
		"phoenix": map[string]interface{}{
			"ok":          true,
			"balance_sat": balance.BalanceSat,
		},
		"invoices": map[string]interface{}{
			"tracked_hashes": h.used.Len(),
		},
		"topup": map[string]interface{}{
			"enabled": h.ledger != nil,
		},
		"hire": map[string]interface{}{
			"enabled": h.hire != nil,
		},
	}
	responders.JSON(w, http.StatusOK, payload)
}
