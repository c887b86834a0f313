package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/alittlebitofmoney/server/internal/errors"
	"github.com/alittlebitofmoney/server/internal/paywall"
	"github.com/alittlebitofmoney/server/pkg/responders"
)

// writeGateError maps a paywall rejection to the error envelope.
func writeGateError(w http.ResponseWriter, err error) {
	if gerr, ok := err.(*paywall.Error); ok {
		apierrors.WriteError(w, gerr.Code, gerr.Message, gerr.Details)
		return
	}
	apierrors.WriteSimpleError(w, apierrors.ErrCodeServerError, "Internal error")
}

// challengeBody is the JSON body of an L402 402 response.
type challengeBody struct {
	Status        string                 `json:"status"`
	PaymentMethod string                 `json:"payment_method,omitempty"`
	Invoice       string                 `json:"invoice"`
	PaymentHash   string                 `json:"payment_hash"`
	AmountSats    int64                  `json:"amount_sats"`
	ExpiresIn     int                    `json:"expires_in"`
	ClaimURL      string                 `json:"claim_url,omitempty"`
	AccountID     string                 `json:"account_id,omitempty"`
	Token         string                 `json:"token,omitempty"`
	Error         *apierrors.ErrorDetail `json:"error,omitempty"`
}

// writeChallenge emits the 402 with the standard L402 headers.
func (h *handlers) writeChallenge(w http.ResponseWriter, c *paywall.Challenge, body challengeBody) {
	body.Invoice = c.Invoice
	body.PaymentHash = c.PaymentHash
	body.AmountSats = c.AmountSats
	body.ExpiresIn = c.ExpiresIn
	if body.Status == "" {
		body.Status = "payment_required"
	}

	w.Header().Set("WWW-Authenticate", `L402 macaroon="`+c.Macaroon+`", invoice="`+c.Invoice+`"`)
	w.Header().Set("X-Lightning-Invoice", c.Invoice)
	w.Header().Set("X-Payment-Hash", c.PaymentHash)
	w.Header().Set("X-Price-Sats", strconv.FormatInt(c.AmountSats, 10))
	if h.ledger != nil {
		w.Header().Set("X-Topup-URL", "/api/v1/topup")
	}
	responders.JSON(w, http.StatusPaymentRequired, body)
}

func formatSats(sats int64) string {
	return strconv.FormatInt(sats, 10)
}

// bearerToken extracts the account token from X-Token or an Authorization
// Bearer header. Returns "" when neither is present.
func bearerToken(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get("X-Token")); t != "" {
		return t
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// l402Authorization returns the Authorization header when it carries an L402
// credential.
func l402Authorization(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(auth, "L402 ") {
		return auth
	}
	return ""
}

// decodeJSONBody parses a JSON object body, rejecting anything else.
func decodeJSONBody(r *http.Request, out interface{}) *paywall.Error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		return &paywall.Error{Code: apierrors.ErrCodeInvalidRequest, Message: "Request body must be a JSON object"}
	}
	return nil
}
