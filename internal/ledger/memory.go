package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory ledger for development and tests. The server
// falls back to it with a warning when no database is reachable at startup.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account      // id -> account
	byToken  map[string]string        // token_hash -> id
	invoices map[string]*TopupInvoice // payment_hash -> invoice
	usage    []UsageLogEntry
	nextID   int64
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byToken:  make(map[string]string),
		invoices: make(map[string]*TopupInvoice),
	}
}

// CreateAccount mints a zero-balance account and returns the plaintext token.
func (s *MemoryStore) CreateAccount(ctx context.Context) (string, string, error) {
	token, err := NewToken()
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.createAccountLocked(token)
	return id, token, nil
}

func (s *MemoryStore) createAccountLocked(token string) string {
	id := uuid.NewString()
	now := time.Now()
	s.accounts[id] = &Account{ID: id, BalanceSats: 0, CreatedAt: now, UpdatedAt: now}
	s.byToken[HashToken(token)] = id
	return id
}

// AccountIDByToken resolves a bearer token to its account id.
func (s *MemoryStore) AccountIDByToken(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[HashToken(token)]
	if !ok {
		return "", ErrInvalidToken
	}
	return id, nil
}

// DebitToken debits the token's account and appends a usage-log entry.
func (s *MemoryStore) DebitToken(ctx context.Context, token string, amountSats int64, endpoint string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[HashToken(token)]
	if !ok {
		return 0, ErrInvalidToken
	}
	return s.debitLocked(id, amountSats, endpoint)
}

// DebitAccount debits an account by id; used by the marketplace escrow path.
func (s *MemoryStore) DebitAccount(ctx context.Context, accountID string, amountSats int64, endpoint string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(accountID, amountSats, endpoint)
}

func (s *MemoryStore) debitLocked(accountID string, amountSats int64, endpoint string) (int64, error) {
	acct, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	if acct.BalanceSats < amountSats {
		return 0, &InsufficientBalanceError{BalanceSats: acct.BalanceSats, RequiredSats: amountSats}
	}
	acct.BalanceSats -= amountSats
	acct.UpdatedAt = time.Now()
	s.appendUsageLocked(accountID, endpoint, amountSats)
	return acct.BalanceSats, nil
}

// Credit adds sats to an account.
func (s *MemoryStore) Credit(ctx context.Context, accountID string, amountSats int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(accountID, amountSats)
}

// CreditWithLog credits an account and records a usage-log entry, as the
// escrow-release transaction does.
func (s *MemoryStore) CreditWithLog(ctx context.Context, accountID string, amountSats int64, endpoint string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.creditLocked(accountID, amountSats)
	if err != nil {
		return 0, err
	}
	s.appendUsageLocked(accountID, endpoint, amountSats)
	return balance, nil
}

func (s *MemoryStore) creditLocked(accountID string, amountSats int64) (int64, error) {
	acct, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	acct.BalanceSats += amountSats
	acct.UpdatedAt = time.Now()
	return acct.BalanceSats, nil
}

// AppendUsage records a usage-log entry without moving funds; the
// marketplace uses it for Lightning-funded escrow locks.
func (s *MemoryStore) AppendUsage(ctx context.Context, accountID, endpoint string, amountSats int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return ErrNotFound
	}
	s.appendUsageLocked(accountID, endpoint, amountSats)
	return nil
}

func (s *MemoryStore) appendUsageLocked(accountID, endpoint string, amountSats int64) {
	s.nextID++
	s.usage = append(s.usage, UsageLogEntry{
		ID:         s.nextID,
		AccountID:  accountID,
		Endpoint:   endpoint,
		AmountSats: amountSats,
		CreatedAt:  time.Now(),
	})
}

// GetBalance returns the current balance for an account.
func (s *MemoryStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	return acct.BalanceSats, nil
}

// CreateTopupInvoice registers a pending invoice.
func (s *MemoryStore) CreateTopupInvoice(ctx context.Context, paymentHash, accountID string, amountSats int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invoices[paymentHash] = &TopupInvoice{
		PaymentHash: paymentHash,
		AccountID:   accountID,
		AmountSats:  amountSats,
		Status:      "pending",
		CreatedAt:   time.Now(),
	}
	return nil
}

// ClaimTopup settles a pending invoice per the invoice/token matrix.
func (s *MemoryStore) ClaimTopup(ctx context.Context, paymentHash, token string) (*ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[paymentHash]
	if !ok {
		return nil, ErrInvalidPayment
	}
	if inv.Status != "pending" {
		return nil, ErrAlreadyClaimed
	}

	var (
		targetAccount string
		issuedToken   = token
	)
	switch {
	case token != "":
		id, ok := s.byToken[HashToken(token)]
		if !ok {
			return nil, ErrInvalidToken
		}
		if inv.AccountID != "" && inv.AccountID != id {
			return nil, ErrInvalidPayment
		}
		targetAccount = id

	case inv.AccountID != "":
		return nil, ErrMissingToken

	default:
		var err error
		issuedToken, err = NewToken()
		if err != nil {
			return nil, err
		}
		targetAccount = s.createAccountLocked(issuedToken)
	}

	balance, err := s.creditLocked(targetAccount, inv.AmountSats)
	if err != nil {
		return nil, err
	}
	inv.Status = "paid"
	inv.AccountID = targetAccount

	return &ClaimResult{
		AccountID:   targetAccount,
		Token:       issuedToken,
		BalanceSats: balance,
	}, nil
}

// UsageEntries returns a copy of the usage log, newest last.
func (s *MemoryStore) UsageEntries() []UsageLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UsageLogEntry, len(s.usage))
	copy(out, s.usage)
	return out
}
