package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production ledger backed by a shared pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the store and bootstraps its schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id uuid PRIMARY KEY,
			token_hash text UNIQUE NOT NULL,
			balance_sats bigint NOT NULL DEFAULT 0 CHECK (balance_sats >= 0),
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS topup_invoices (
			payment_hash text PRIMARY KEY,
			account_id uuid REFERENCES accounts(id),
			amount_sats bigint NOT NULL CHECK (amount_sats > 0),
			status text NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'paid', 'expired')),
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS usage_log (
			id bigserial PRIMARY KEY,
			account_id uuid REFERENCES accounts(id) NOT NULL,
			endpoint text NOT NULL,
			amount_sats bigint NOT NULL CHECK (amount_sats >= 0),
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_log_account_id
			ON usage_log (account_id, created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateAccount mints a zero-balance account and returns the plaintext token.
func (s *PostgresStore) CreateAccount(ctx context.Context) (string, string, error) {
	token, err := NewToken()
	if err != nil {
		return "", "", fmt.Errorf("mint token: %w", err)
	}
	accountID := uuid.NewString()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (id, token_hash, balance_sats) VALUES ($1, $2, 0)`,
		accountID, HashToken(token))
	if err != nil {
		return "", "", fmt.Errorf("create account: %w", err)
	}
	return accountID, token, nil
}

// AccountIDByToken resolves a bearer token to its account id.
func (s *PostgresStore) AccountIDByToken(ctx context.Context, token string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM accounts WHERE token_hash = $1`,
		HashToken(token)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return id, nil
}

// DebitToken locks the account row, checks the balance, debits, and logs the
// usage entry in the same transaction.
func (s *PostgresStore) DebitToken(ctx context.Context, token string, amountSats int64, endpoint string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		accountID string
		balance   int64
	)
	err = tx.QueryRow(ctx,
		`SELECT id, balance_sats FROM accounts WHERE token_hash = $1 FOR UPDATE`,
		HashToken(token)).Scan(&accountID, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("lock account: %w", err)
	}

	if balance < amountSats {
		return 0, &InsufficientBalanceError{BalanceSats: balance, RequiredSats: amountSats}
	}

	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET balance_sats = balance_sats - $1, updated_at = now()
		 WHERE id = $2 RETURNING balance_sats`,
		amountSats, accountID).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("debit account: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO usage_log (account_id, endpoint, amount_sats) VALUES ($1, $2, $3)`,
		accountID, endpoint, amountSats); err != nil {
		return 0, fmt.Errorf("write usage log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit debit: %w", err)
	}
	return newBalance, nil
}

// Credit adds sats to an account.
func (s *PostgresStore) Credit(ctx context.Context, accountID string, amountSats int64) (int64, error) {
	var newBalance int64
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts SET balance_sats = balance_sats + $1, updated_at = now()
		 WHERE id = $2 RETURNING balance_sats`,
		amountSats, accountID).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("credit account: %w", err)
	}
	return newBalance, nil
}

// GetBalance returns the current balance for an account.
func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance_sats FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// CreateTopupInvoice registers a pending invoice; re-registering the same
// payment hash resets it to pending with the new binding.
func (s *PostgresStore) CreateTopupInvoice(ctx context.Context, paymentHash, accountID string, amountSats int64) error {
	var acct interface{}
	if accountID != "" {
		acct = accountID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO topup_invoices (payment_hash, account_id, amount_sats, status)
		 VALUES ($1, $2, $3, 'pending')
		 ON CONFLICT (payment_hash) DO UPDATE
		   SET account_id = excluded.account_id,
		       amount_sats = excluded.amount_sats,
		       status = 'pending',
		       created_at = now()`,
		paymentHash, acct, amountSats)
	if err != nil {
		return fmt.Errorf("create topup invoice: %w", err)
	}
	return nil
}

// ClaimTopup settles a pending invoice. The invoice row is locked first so a
// double claim serializes there and the loser sees status != pending.
func (s *PostgresStore) ClaimTopup(ctx context.Context, paymentHash, token string) (*ClaimResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		invoiceAccount *string
		amountSats     int64
		status         string
	)
	err = tx.QueryRow(ctx,
		`SELECT account_id, amount_sats, status FROM topup_invoices
		 WHERE payment_hash = $1 FOR UPDATE`,
		paymentHash).Scan(&invoiceAccount, &amountSats, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidPayment
		}
		return nil, fmt.Errorf("lock invoice: %w", err)
	}
	if status != "pending" {
		return nil, ErrAlreadyClaimed
	}

	var (
		targetAccount string
		issuedToken   = token
	)
	switch {
	case token != "":
		err = tx.QueryRow(ctx,
			`SELECT id FROM accounts WHERE token_hash = $1 FOR UPDATE`,
			HashToken(token)).Scan(&targetAccount)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrInvalidToken
			}
			return nil, fmt.Errorf("lock account: %w", err)
		}
		// A bound invoice may only be claimed by its own account.
		if invoiceAccount != nil && *invoiceAccount != targetAccount {
			return nil, ErrInvalidPayment
		}

	case invoiceAccount != nil:
		return nil, ErrMissingToken

	default:
		// Unbound invoice and no token: first Lightning payment mints the account.
		issuedToken, err = NewToken()
		if err != nil {
			return nil, fmt.Errorf("mint token: %w", err)
		}
		targetAccount = uuid.NewString()
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, token_hash, balance_sats) VALUES ($1, $2, 0)`,
			targetAccount, HashToken(issuedToken)); err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
	}

	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET balance_sats = balance_sats + $1, updated_at = now()
		 WHERE id = $2 RETURNING balance_sats`,
		amountSats, targetAccount).Scan(&newBalance)
	if err != nil {
		return nil, fmt.Errorf("credit account: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE topup_invoices SET status = 'paid', account_id = $1
		 WHERE payment_hash = $2`,
		targetAccount, paymentHash); err != nil {
		return nil, fmt.Errorf("mark invoice paid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	return &ClaimResult{
		AccountID:   targetAccount,
		Token:       issuedToken,
		BalanceSats: newBalance,
	}, nil
}
