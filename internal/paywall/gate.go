package paywall

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/alittlebitofmoney/server/internal/config"
	apierrors "github.com/alittlebitofmoney/server/internal/errors"
	"github.com/alittlebitofmoney/server/internal/l402"
	"github.com/alittlebitofmoney/server/internal/ledger"
	"github.com/alittlebitofmoney/server/internal/lightning"
	"github.com/alittlebitofmoney/server/internal/usedhash"
)

// Gate runs the payment decision procedure for a proxied request.
type Gate struct {
	cfg     *config.Config
	minter  *l402.Minter
	used    *usedhash.Set
	ledger  ledger.Store // nil when no database is configured
	phoenix *lightning.Client
	daily   *DailyCounter
	log     zerolog.Logger
}

// NewGate wires the gate's collaborators.
func NewGate(cfg *config.Config, minter *l402.Minter, used *usedhash.Set, store ledger.Store, phoenix *lightning.Client, log zerolog.Logger) *Gate {
	return &Gate{
		cfg:     cfg,
		minter:  minter,
		used:    used,
		ledger:  store,
		phoenix: phoenix,
		daily:   NewDailyCounter(),
		log:     log.With().Str("component", "paywall").Logger(),
	}
}

// Admission is the gate's go-ahead: the (possibly rewritten) body to forward
// and how much the request cost.
type Admission struct {
	API         *config.APIConfig
	Endpoint    *config.EndpointConfig
	Path        string
	Body        []byte
	ContentType string
	PriceSats   int64
}

// Challenge is a 402 L402 challenge.
type Challenge struct {
	Invoice     string
	PaymentHash string
	AmountSats  int64
	Macaroon    string
	ExpiresIn   int
}

// Request carries everything the gate needs from the HTTP layer.
type Request struct {
	APIName       string
	EndpointPath  string
	Method        string
	Authorization string
	Body          []byte
	ContentType   string
}

// Authorize runs the decision procedure: resolve, size-check, rewrite,
// validate, price, cap, then branch on bearer / L402 / no auth. Exactly one
// of Admission or Challenge is non-nil on success; *Error carries client
// rejections.
func (g *Gate) Authorize(ctx context.Context, req Request) (*Admission, *Challenge, error) {
	api, ep, normalizedPath := Resolve(g.cfg, req.APIName, req.EndpointPath, req.Method)
	if api == nil || ep == nil {
		return nil, nil, gateErr(apierrors.ErrCodeAPINotFound, "Requested endpoint is not configured")
	}

	maxBytes := MaxRequestBytes(g.cfg, ep)
	if int64(len(req.Body)) > maxBytes {
		e := gateErr(apierrors.ErrCodeRequestTooLarge, "Max request size: %d bytes", maxBytes)
		e.Details = map[string]interface{}{"max_bytes": maxBytes}
		return nil, nil, e
	}

	isJSON := strings.Contains(strings.ToLower(req.ContentType), "application/json")
	if JSONRequired(normalizedPath) && !isJSON {
		return nil, nil, gateErr(apierrors.ErrCodeInvalidRequest, "Request body must be a JSON object")
	}

	body := map[string]interface{}{}
	forwardBody := req.Body
	forwardContentType := req.ContentType
	if forwardContentType == "" {
		forwardContentType = "application/json"
	}

	if isJSON {
		if len(req.Body) > 0 {
			if err := json.Unmarshal(req.Body, &body); err != nil {
				return nil, nil, gateErr(apierrors.ErrCodeInvalidRequest, "Request body must be a JSON object")
			}
		}
		if gerr := ApplyRequestRules(normalizedPath, ep, body); gerr != nil {
			return nil, nil, gerr
		}
		if gerr := ValidateRequiredFields(normalizedPath, body); gerr != nil {
			return nil, nil, gerr
		}
		rewritten, err := json.Marshal(body)
		if err != nil {
			return nil, nil, gateErr(apierrors.ErrCodeServerError, "Could not encode request body")
		}
		forwardBody = rewritten
		forwardContentType = "application/json"
	}

	price, gerr := PriceForRequest(ep, body)
	if gerr != nil {
		return nil, nil, gerr
	}

	if !g.daily.Allow(req.APIName+":"+normalizedPath, ep.DailyLimit) {
		return nil, nil, gateErr(apierrors.ErrCodeDailyLimit, "Daily call limit reached for this endpoint")
	}

	admission := &Admission{
		API:         api,
		Endpoint:    ep,
		Path:        normalizedPath,
		Body:        forwardBody,
		ContentType: forwardContentType,
		PriceSats:   price,
	}

	auth := strings.TrimSpace(req.Authorization)
	switch {
	case strings.HasPrefix(auth, "Bearer "):
		if gerr := g.debitBearer(ctx, auth, price, req.APIName+":"+normalizedPath); gerr != nil {
			return nil, nil, gerr
		}
		return admission, nil, nil

	case strings.HasPrefix(auth, "L402 "):
		if gerr := g.redeemL402(auth, price); gerr != nil {
			return nil, nil, gerr
		}
		return admission, nil, nil

	case auth != "":
		return nil, nil, gateErr(apierrors.ErrCodeInvalidAuthorization,
			"Unsupported authorization scheme. Use Bearer or L402 authorization, or omit Authorization.")

	default:
		challenge, err := g.Challenge(ctx, price, req.APIName+":"+normalizedPath, "")
		if err != nil {
			return nil, nil, err
		}
		return nil, challenge, nil
	}
}

// debitBearer charges the bearer token's account for the request.
func (g *Gate) debitBearer(ctx context.Context, auth string, price int64, endpointLabel string) *Error {
	if g.ledger == nil {
		return gateErr(apierrors.ErrCodeTopupUnavailable, "Topup service is not configured")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return gateErr(apierrors.ErrCodeInvalidToken, "Missing bearer token")
	}

	_, err := g.ledger.DebitToken(ctx, token, price, endpointLabel)
	if err == nil {
		return nil
	}

	var insufficient *ledger.InsufficientBalanceError
	switch {
	case errors.Is(err, ledger.ErrInvalidToken):
		return gateErr(apierrors.ErrCodeInvalidToken, "Unknown topup token")
	case errors.As(err, &insufficient):
		return gateErr(apierrors.ErrCodeInsufficientBalance,
			"Request costs %d sats, but token balance is %d sats.",
			insufficient.RequiredSats, insufficient.BalanceSats)
	default:
		g.log.Error().Err(err).Msg("paywall.debit_failed")
		return gateErr(apierrors.ErrCodeTopupUnavailable, "Topup service is not configured")
	}
}

// redeemL402 verifies the macaroon and preimage and burns the payment hash.
// The used-hash check runs before marking, and marking happens only after the
// amount check, so an honest underpayment does not burn the hash.
func (g *Gate) redeemL402(auth string, price int64) *Error {
	macB64, preimage, err := l402.ParseAuthorization(auth)
	if err != nil {
		return gateErr(apierrors.ErrCodeInvalidL402, "Authorization header must be 'L402 <macaroon>:<preimage>'")
	}

	caveats, err := g.minter.Verify(macB64)
	if err != nil {
		return gateErr(apierrors.ErrCodeInvalidL402, "Invalid macaroon")
	}

	derived, err := l402.HashFromPreimage(preimage)
	if err != nil {
		return gateErr(apierrors.ErrCodeInvalidPayment, "Preimage must be 32 hex-encoded bytes")
	}
	if derived != caveats.PaymentHash {
		return gateErr(apierrors.ErrCodeInvalidL402, "Preimage does not match macaroon payment_hash")
	}

	if g.used.IsUsed(caveats.PaymentHash) {
		return gateErr(apierrors.ErrCodePaymentAlreadyUsed, "Payment hash already redeemed")
	}

	if price > caveats.AmountSats {
		return gateErr(apierrors.ErrCodeInsufficientPayment,
			"Request costs %d sats, but this macaroon only authorizes %d sats.",
			price, caveats.AmountSats)
	}

	if !g.used.MarkUsed(caveats.PaymentHash) {
		return gateErr(apierrors.ErrCodePaymentAlreadyUsed, "Payment hash already redeemed")
	}
	return nil
}

// Challenge mints a fresh invoice and macaroon at the given price. accountID,
// when non-empty, binds the macaroon to an account (the insufficient-balance
// escrow path).
func (g *Gate) Challenge(ctx context.Context, amountSats int64, description, accountID string) (*Challenge, error) {
	inv, err := g.phoenix.CreateInvoice(ctx, amountSats, description)
	if err != nil {
		return nil, gateErr(apierrors.ErrCodePhoenixUnavailable, "Lightning node unavailable")
	}

	paymentHash := l402.CanonicalHash(inv.PaymentHash)
	if paymentHash == "" || inv.Serialized == "" {
		return nil, gateErr(apierrors.ErrCodePhoenixUnavailable, "Invalid invoice payload from phoenixd")
	}

	macB64, err := g.minter.Mint(paymentHash, amountSats, accountID)
	if err != nil {
		g.log.Error().Err(err).Msg("paywall.mint_failed")
		return nil, gateErr(apierrors.ErrCodeServerError, "Could not mint macaroon")
	}

	return &Challenge{
		Invoice:     inv.Serialized,
		PaymentHash: paymentHash,
		AmountSats:  amountSats,
		Macaroon:    macB64,
		ExpiresIn:   g.cfg.InvoiceExpiry,
	}, nil
}

// RedeemL402ForAccount verifies an L402 authorization against an
// account-bound macaroon: the caveats must carry the expected account and at
// least the required amount. Used by the marketplace's Lightning-funded
// escrow path.
func (g *Gate) RedeemL402ForAccount(auth, accountID string, requiredSats int64) *Error {
	macB64, preimage, err := l402.ParseAuthorization(auth)
	if err != nil {
		return gateErr(apierrors.ErrCodeInvalidL402, "Authorization header must be 'L402 <macaroon>:<preimage>'")
	}

	caveats, err := g.minter.Verify(macB64)
	if err != nil {
		return gateErr(apierrors.ErrCodeInvalidL402, "Invalid macaroon")
	}
	if caveats.AccountID == "" || caveats.AccountID != accountID {
		return gateErr(apierrors.ErrCodeInvalidL402, "Macaroon is not bound to this account")
	}

	derived, err := l402.HashFromPreimage(preimage)
	if err != nil {
		return gateErr(apierrors.ErrCodeInvalidPayment, "Preimage must be 32 hex-encoded bytes")
	}
	if derived != caveats.PaymentHash {
		return gateErr(apierrors.ErrCodeInvalidL402, "Preimage does not match macaroon payment_hash")
	}

	if g.used.IsUsed(caveats.PaymentHash) {
		return gateErr(apierrors.ErrCodePaymentAlreadyUsed, "Payment hash already redeemed")
	}
	if requiredSats > caveats.AmountSats {
		return gateErr(apierrors.ErrCodeInsufficientPayment,
			"Escrow requires %d sats, but this macaroon only authorizes %d sats.",
			requiredSats, caveats.AmountSats)
	}
	if !g.used.MarkUsed(caveats.PaymentHash) {
		return gateErr(apierrors.ErrCodePaymentAlreadyUsed, "Payment hash already redeemed")
	}
	return nil
}
