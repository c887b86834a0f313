package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/alittlebitofmoney/server/internal/errors"
	"github.com/alittlebitofmoney/server/internal/hire"
	"github.com/alittlebitofmoney/server/internal/ledger"
	"github.com/alittlebitofmoney/server/pkg/responders"
)

// requireAccount resolves the caller's account from X-Token / Bearer auth.
// Every marketplace endpoint is account-scoped.
func (h *handlers) requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.hire == nil || h.ledger == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeHireUnavailable, "Marketplace is not configured")
		return "", false
	}
	token := bearerToken(r)
	if token == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeAccountRequired,
			"Provide an account token via X-Token or Authorization: Bearer")
		return "", false
	}
	accountID, err := h.ledger.AccountIDByToken(r.Context(), token)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidToken, "Unknown account token")
		return "", false
	}
	return accountID, true
}

// writeHireError maps marketplace sentinels to the error envelope.
func (h *handlers) writeHireError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hire.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotFound, "Resource not found")
	case errors.Is(err, hire.ErrForbidden):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeForbidden, "Not allowed for this account")
	case errors.Is(err, hire.ErrInvalidState):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidState, err.Error())
	case errors.Is(err, hire.ErrInvalidArgument):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("hire.store_error")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeServerError, "Internal error")
	}
}

// writeAccountChallenge issues an account-bound 402 so the caller can settle
// the shortfall over Lightning and retry with the L402 credential.
func (h *handlers) writeAccountChallenge(w http.ResponseWriter, r *http.Request, accountID string, amountSats int64, description string, balErr *ledger.InsufficientBalanceError) {
	c, err := h.gate.Challenge(r.Context(), amountSats, description, accountID)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePhoenixUnavailable, "Lightning node unavailable")
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveChallenge("hire")
	}
	body := challengeBody{AccountID: accountID}
	if balErr != nil {
		body.Error = &apierrors.ErrorDetail{
			Code:    apierrors.ErrCodeInsufficientBalance,
			Message: fmt.Sprintf("Requires %d sats, but account balance is %d sats.", balErr.RequiredSats, balErr.BalanceSats),
			Details: map[string]interface{}{
				"required_sats": balErr.RequiredSats,
				"balance_sats":  balErr.BalanceSats,
			},
		}
	}
	h.writeChallenge(w, c, body)
}

// chargeFee collects a posting fee: from an L402 credential bound to the
// account when one is presented, otherwise from the account balance. An
// insufficient balance turns into an account-bound 402 challenge.
func (h *handlers) chargeFee(w http.ResponseWriter, r *http.Request, accountID string, feeSats int64, label string) bool {
	if feeSats <= 0 {
		return true
	}
	if auth := l402Authorization(r); auth != "" {
		if gerr := h.gate.RedeemL402ForAccount(auth, accountID, feeSats); gerr != nil {
			writeGateError(w, gerr)
			return false
		}
		if h.metrics != nil {
			h.metrics.ObserveRedemption("hire")
		}
		return true
	}
	if err := h.hire.DebitAccount(r.Context(), accountID, feeSats, label); err != nil {
		var balErr *ledger.InsufficientBalanceError
		if errors.As(err, &balErr) {
			h.writeAccountChallenge(w, r, accountID, feeSats, label, balErr)
			return false
		}
		h.writeHireError(w, err)
		return false
	}
	if h.metrics != nil {
		h.metrics.ObserveDebit(label, feeSats)
	}
	return true
}

func (h *handlers) hireMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	info, err := h.hire.GetAccountInfo(r.Context(), accountID)
	if err != nil {
		h.writeHireError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, info)
}

func (h *handlers) hireListTasks(w http.ResponseWriter, r *http.Request) {
	if h.hire == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeHireUnavailable, "Marketplace is not configured")
		return
	}
	tasks, err := h.hire.ListTasks(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")))
	if err != nil {
		h.writeHireError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (h *handlers) hireCreateTask(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var payload struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		BudgetSats  int64  `json:"budget_sats"`
	}
	if gerr := decodeJSONBody(r, &payload); gerr != nil {
		writeGateError(w, gerr)
		return
	}
	if strings.TrimSpace(payload.Title) == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "title must be a non-empty string")
		return
	}
	if payload.BudgetSats <= 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "budget_sats must be a positive integer")
		return
	}

	if !h.chargeFee(w, r, accountID, h.cfg.Hire.TaskFeeSats, "hire:task") {
		return
	}

	task, err := h.hire.CreateTask(r.Context(), accountID, strings.TrimSpace(payload.Title), payload.Description, payload.BudgetSats)
	if err != nil {
		h.writeHireError(w, err)
		return
	}
	responders.JSON(w, http.StatusCreated, task)
}

func (h *handlers) hireTaskDetail(w http.ResponseWriter, r *http.Request) {
	if h.hire == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeHireUnavailable, "Marketplace is not configured")
		return
	}
	detail, err := h.hire.GetTaskDetail(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.writeHireError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, detail)
}

func (h *handlers) hireCreateQuote(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var payload struct {
		PriceSats   int64  `json:"price_sats"`
		Description string `json:"description"`
	}
	if gerr := decodeJSONBody(r, &payload); gerr != nil {
		writeGateError(w, gerr)
		return
	}
	if payload.PriceSats <= 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "price_sats must be a positive integer")
		return
	}

	if !h.chargeFee(w, r, accountID, h.cfg.Hire.QuoteFeeSats, "hire:quote") {
		return
	}

	quote, err := h.hire.CreateQuote(r.Context(), chi.URLParam(r, "taskID"), accountID, payload.PriceSats, payload.Description)
	if err != nil {
		h.writeHireError(w, err)
		return
	}
	responders.JSON(w, http.StatusCreated, quote)
}

func (h *handlers) hireUpdateQuote(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var payload struct {
		PriceSats   *int64  `json:"price_sats"`
		Description *string `json:"description"`
	}
	if gerr := decodeJSONBody(r, &payload); gerr != nil {
		writeGateError(w, gerr)
		return
	}

	quote, err := h.hire.UpdateQuote(r.Context(), chi.URLParam(r, "taskID"), chi.URLParam(r, "quoteID"), accountID, payload.PriceSats, payload.Description)
	if err != nil {
		h.writeHireError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, quote)
}

// hireAcceptQuote locks the escrow. The quote price comes from the account
// balance, or from an L402 payment bound to the buyer's account when the
// caller retries a 402 challenge.
func (h *handlers) hireAcceptQuote(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	taskID := chi.URLParam(r, "taskID")
	quoteID := chi.URLParam(r, "quoteID")

	skipDebit := false
	if auth := l402Authorization(r); auth != "" {
		price, err := h.quotePrice(r, taskID, quoteID)
		if err != nil {
			h.writeHireError(w, err)
			return
		}
		if gerr := h.gate.RedeemL402ForAccount(auth, accountID, price); gerr != nil {
			writeGateError(w, gerr)
			return
		}
		if h.metrics != nil {
			h.metrics.ObserveRedemption("hire")
		}
		skipDebit = true
	}

	result, err := h.hire.AcceptQuote(r.Context(), taskID, quoteID, accountID, skipDebit)
	if err != nil {
		var balErr *ledger.InsufficientBalanceError
		if errors.As(err, &balErr) {
			h.writeAccountChallenge(w, r, accountID, balErr.RequiredSats, "hire:escrow:"+taskID, balErr)
			return
		}
		h.writeHireError(w, err)
		return
	}
	if h.metrics != nil {
		funding := "balance"
		if skipDebit {
			funding = "l402"
		}
		h.metrics.ObserveEscrowLock(funding, result.EscrowedSats)
	}
	responders.JSON(w, http.StatusOK, result)
}

// quotePrice looks up the pending quote's price for the L402-funded accept.
func (h *handlers) quotePrice(r *http.Request, taskID, quoteID string) (int64, error) {
	detail, err := h.hire.GetTaskDetail(r.Context(), taskID)
	if err != nil {
		return 0, err
	}
	for _, q := range detail.Quotes {
		if q.ID == quoteID {
			return q.PriceSats, nil
		}
	}
	return 0, hire.ErrNotFound
}

func (h *handlers) hireSendMessage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var payload struct {
		Body string `json:"body"`
	}
	if gerr := decodeJSONBody(r, &payload); gerr != nil {
		writeGateError(w, gerr)
		return
	}
	if strings.TrimSpace(payload.Body) == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "body must be a non-empty string")
		return
	}

	msg, err := h.hire.SendQuoteMessage(r.Context(), chi.URLParam(r, "taskID"), chi.URLParam(r, "quoteID"), accountID, payload.Body)
	if err != nil {
		h.writeHireError(w, err)
		return
	}
	responders.JSON(w, http.StatusCreated, msg)
}

func (h *handlers) hireGetMessages(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var sinceID int64
	if raw := r.URL.Query().Get("since_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "since_id must be a non-negative integer")
			return
		}
		sinceID = v
	}

	msgs, err := h.hire.GetQuoteMessages(r.Context(), chi.URLParam(r, "taskID"), chi.URLParam(r, "quoteID"), accountID, sinceID)
	if err != nil {
		h.writeHireError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (h *handlers) hireDeliver(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var payload struct {
		Filename      string `json:"filename"`
		ContentBase64 string `json:"content_base64"`
		Notes         string `json:"notes"`
	}
	if gerr := decodeJSONBody(r, &payload); gerr != nil {
		writeGateError(w, gerr)
		return
	}

	delivery, err := h.hire.CreateDelivery(r.Context(), chi.URLParam(r, "taskID"), accountID, payload.Filename, payload.ContentBase64, payload.Notes)
	if err != nil {
		h.writeHireError(w, err)
		return
	}
	responders.JSON(w, http.StatusCreated, delivery)
}

func (h *handlers) hireConfirm(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	result, err := h.hire.ConfirmDelivery(r.Context(), chi.URLParam(r, "taskID"), accountID)
	if err != nil {
		h.writeHireError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveEscrowRelease(result.ReleasedSats)
	}
	responders.JSON(w, http.StatusOK, result)
}

// hireCollect withdraws earned sats over Lightning. The debit happens first;
// a failed payout is refunded best-effort.
func (h *handlers) hireCollect(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var payload struct {
		Invoice    string `json:"invoice"`
		AmountSats int64  `json:"amount_sats"`
	}
	if gerr := decodeJSONBody(r, &payload); gerr != nil {
		writeGateError(w, gerr)
		return
	}
	if strings.TrimSpace(payload.Invoice) == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "invoice must be a non-empty string")
		return
	}
	if payload.AmountSats <= 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "amount_sats must be a positive integer")
		return
	}

	if err := h.hire.DebitAccount(r.Context(), accountID, payload.AmountSats, "hire:collect"); err != nil {
		var balErr *ledger.InsufficientBalanceError
		if errors.As(err, &balErr) {
			apierrors.WriteError(w, apierrors.ErrCodeInsufficientBalance,
				fmt.Sprintf("Withdrawal of %d sats exceeds account balance of %d sats.", balErr.RequiredSats, balErr.BalanceSats),
				map[string]interface{}{
					"required_sats": balErr.RequiredSats,
					"balance_sats":  balErr.BalanceSats,
				})
			return
		}
		h.writeHireError(w, err)
		return
	}

	payment, err := h.phoenix.PayInvoice(r.Context(), payload.Invoice)
	if err != nil {
		if refundErr := h.hire.CreditAccount(r.Context(), accountID, payload.AmountSats); refundErr != nil {
			h.logger.Error().Err(refundErr).
				Str("account_id", accountID).
				Int64("amount_sats", payload.AmountSats).
				Msg("hire.collect_refund_failed")
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodePhoenixUnavailable, "Lightning payout failed, balance refunded")
		return
	}

	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"status":          "paid",
		"amount_sats":     payload.AmountSats,
		"routing_fee_sat": payment.RoutingFeeSat,
	})
}
