// Package ledger implements the prepaid account ledger: token-identified
// accounts with a sats balance, transactional debits and credits with usage
// logging, and the idempotent top-up claim flow.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors mapped to API error codes at the HTTP boundary.
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidPayment = errors.New("unknown payment hash")
	ErrAlreadyClaimed = errors.New("invoice already claimed")
	ErrMissingToken   = errors.New("invoice is bound to an account, token required")
	ErrNotFound       = errors.New("account not found")
)

// InsufficientBalanceError carries both sides of a failed debit so the HTTP
// layer can embed them in the 402 challenge.
type InsufficientBalanceError struct {
	BalanceSats  int64
	RequiredSats int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d sats, need %d sats", e.BalanceSats, e.RequiredSats)
}

// Account is a prepaid balance identified by a hashed bearer token.
type Account struct {
	ID          string
	BalanceSats int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TopupInvoice is a pending Lightning invoice awaiting its preimage.
// AccountID is empty when the claim should mint a fresh account.
type TopupInvoice struct {
	PaymentHash string
	AccountID   string
	AmountSats  int64
	Status      string // pending | paid | expired
	CreatedAt   time.Time
}

// UsageLogEntry records one balance movement.
type UsageLogEntry struct {
	ID         int64
	AccountID  string
	Endpoint   string
	AmountSats int64
	CreatedAt  time.Time
}

// ClaimResult is returned by a successful top-up claim. Token echoes the
// caller's token, or carries a freshly minted one when the claim created an
// account.
type ClaimResult struct {
	AccountID   string
	Token       string
	BalanceSats int64
}

// Store is the account ledger contract. Postgres backs production; the
// memory implementation backs development and tests.
type Store interface {
	// CreateAccount mints a zero-balance account and returns the plaintext
	// token exactly once. Only the token's SHA-256 is stored.
	CreateAccount(ctx context.Context) (accountID, token string, err error)

	// AccountIDByToken resolves a bearer token, or returns ErrInvalidToken.
	AccountIDByToken(ctx context.Context, token string) (string, error)

	// DebitToken atomically debits the token's account and writes a usage-log
	// entry. Returns the new balance, ErrInvalidToken, or
	// *InsufficientBalanceError.
	DebitToken(ctx context.Context, token string, amountSats int64, endpoint string) (int64, error)

	// Credit adds sats to an account with no upper bound.
	Credit(ctx context.Context, accountID string, amountSats int64) (int64, error)

	// GetBalance returns the account's balance or ErrNotFound.
	GetBalance(ctx context.Context, accountID string) (int64, error)

	// CreateTopupInvoice registers a pending invoice. accountID may be empty.
	// Re-registering the same hash resets it to pending.
	CreateTopupInvoice(ctx context.Context, paymentHash, accountID string, amountSats int64) error

	// ClaimTopup settles a pending invoice in one transaction: resolve the
	// target account per the invoice/token matrix, credit the amount, mark
	// the invoice paid. token may be empty.
	ClaimTopup(ctx context.Context, paymentHash, token string) (*ClaimResult, error)
}
