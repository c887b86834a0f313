package httpserver

import (
	"errors"
	"net/http"

	apierrors "github.com/alittlebitofmoney/server/internal/errors"
	"github.com/alittlebitofmoney/server/internal/l402"
	"github.com/alittlebitofmoney/server/internal/ledger"
	"github.com/alittlebitofmoney/server/pkg/responders"
)

// createTopup mints a Lightning invoice whose payment will credit an
// account: the caller's when a token is supplied, or a brand-new one claimed
// with the preimage alone.
func (h *handlers) createTopup(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeTopupUnavailable, "Topup service is not configured")
		return
	}

	accountID := ""
	if token := bearerToken(r); token != "" {
		id, err := h.ledger.AccountIDByToken(r.Context(), token)
		if err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidToken, "Unknown topup token")
			return
		}
		accountID = id
	} else if auth := r.Header.Get("Authorization"); auth != "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAuthorization,
			"Topup refill requires Bearer token authorization.")
		return
	}

	var payload struct {
		AmountSats int64 `json:"amount_sats"`
	}
	if gerr := decodeJSONBody(r, &payload); gerr != nil {
		writeGateError(w, gerr)
		return
	}
	if payload.AmountSats <= 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "amount_sats must be a positive integer")
		return
	}

	inv, err := h.phoenix.CreateInvoice(r.Context(), payload.AmountSats, "topup")
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePhoenixUnavailable, "Lightning node unavailable")
		return
	}
	paymentHash := l402.CanonicalHash(inv.PaymentHash)
	if paymentHash == "" || inv.Serialized == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePhoenixUnavailable, "Invalid invoice payload from phoenixd")
		return
	}

	if err := h.ledger.CreateTopupInvoice(r.Context(), paymentHash, accountID, payload.AmountSats); err != nil {
		h.logger.Error().Err(err).Msg("topup.create_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeTopupUnavailable, "Topup service is not configured")
		return
	}
	if h.metrics != nil {
		h.metrics.TopupsCreatedTotal.Inc()
	}

	const claimURL = "/api/v1/topup/claim"
	w.Header().Set("X-Lightning-Invoice", inv.Serialized)
	w.Header().Set("X-Payment-Hash", paymentHash)
	w.Header().Set("X-Price-Sats", formatSats(payload.AmountSats))
	w.Header().Set("X-Topup-Claim-URL", claimURL)
	responders.JSON(w, http.StatusPaymentRequired, challengeBody{
		Status:        "payment_required",
		PaymentMethod: "topup",
		Invoice:       inv.Serialized,
		PaymentHash:   paymentHash,
		AmountSats:    payload.AmountSats,
		ExpiresIn:     h.cfg.InvoiceExpiry,
		ClaimURL:      claimURL,
	})
}

// claimTopup settles a paid top-up invoice: the preimage is the proof of
// payment, the optional token routes the credit.
func (h *handlers) claimTopup(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeTopupUnavailable, "Topup service is not configured")
		return
	}

	var payload struct {
		Preimage string  `json:"preimage"`
		Token    *string `json:"token"`
	}
	if gerr := decodeJSONBody(r, &payload); gerr != nil {
		writeGateError(w, gerr)
		return
	}

	token := ""
	if payload.Token != nil {
		token = *payload.Token
		if token == "" {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidToken, "token must be a non-empty string")
			return
		}
	}

	paymentHash, err := l402.HashFromPreimage(payload.Preimage)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPayment, "Preimage must be 32 hex-encoded bytes")
		return
	}

	claim, err := h.ledger.ClaimTopup(r.Context(), paymentHash, token)
	if err != nil {
		h.writeClaimError(w, err)
		return
	}
	if h.metrics != nil {
		outcome := "claimed"
		if token == "" {
			outcome = "new_account"
		}
		h.metrics.TopupsClaimedTotal.WithLabelValues(outcome).Inc()
	}

	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"token":        claim.Token,
		"balance_sats": claim.BalanceSats,
	})
}

func (h *handlers) writeClaimError(w http.ResponseWriter, err error) {
	if h.metrics != nil {
		h.metrics.TopupsClaimedTotal.WithLabelValues("rejected").Inc()
	}
	switch {
	case errors.Is(err, ledger.ErrInvalidPayment):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPayment, "Unknown topup payment hash")
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentAlreadyUsed, "Topup invoice already claimed")
	case errors.Is(err, ledger.ErrInvalidToken):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidToken, "Unknown topup token")
	case errors.Is(err, ledger.ErrMissingToken):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingToken, "token is required to claim refill invoices")
	default:
		h.logger.Error().Err(err).Msg("topup.claim_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeTopupUnavailable, "Topup service is not configured")
	}
}
