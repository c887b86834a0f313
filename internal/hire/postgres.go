package hire

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alittlebitofmoney/server/internal/ledger"
)

// PostgresStore is the production marketplace store. It shares the pool (and
// the accounts/usage_log tables) with the ledger so escrow movements commit
// in the same transaction as the state transition.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the store and bootstraps its schema. The ledger
// schema must exist first because of the accounts foreign keys.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure hire schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS hire_tasks (
			id uuid PRIMARY KEY,
			buyer_account_id uuid NOT NULL REFERENCES accounts(id),
			title text NOT NULL,
			description text NOT NULL DEFAULT '',
			budget_sats bigint NOT NULL CHECK (budget_sats > 0),
			status text NOT NULL DEFAULT 'open'
				CHECK (status IN ('open','in_escrow','delivered','completed','cancelled')),
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS hire_quotes (
			id uuid PRIMARY KEY,
			task_id uuid NOT NULL REFERENCES hire_tasks(id),
			contractor_account_id uuid NOT NULL REFERENCES accounts(id),
			price_sats bigint NOT NULL CHECK (price_sats > 0),
			description text NOT NULL DEFAULT '',
			status text NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending','accepted','rejected')),
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS hire_messages (
			id bigserial PRIMARY KEY,
			task_id uuid NOT NULL REFERENCES hire_tasks(id),
			quote_id uuid NOT NULL REFERENCES hire_quotes(id),
			sender_account_id uuid NOT NULL REFERENCES accounts(id),
			body text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS hire_deliveries (
			id uuid PRIMARY KEY,
			task_id uuid NOT NULL REFERENCES hire_tasks(id),
			quote_id uuid NOT NULL REFERENCES hire_quotes(id),
			contractor_account_id uuid NOT NULL REFERENCES accounts(id),
			filename text NOT NULL DEFAULT '',
			content_base64 text NOT NULL DEFAULT '',
			notes text NOT NULL DEFAULT '',
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hire_tasks_status ON hire_tasks (status)`,
		`CREATE INDEX IF NOT EXISTS idx_hire_quotes_task ON hire_quotes (task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_hire_messages_quote ON hire_messages (quote_id, id)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// parseID validates a caller-supplied uuid; unparseable ids read as missing
// entities rather than SQL errors.
func parseID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", ErrNotFound
	}
	return parsed.String(), nil
}

// GetAccountInfo returns the account's id and balance.
func (s *PostgresStore) GetAccountInfo(ctx context.Context, accountID string) (*AccountInfo, error) {
	id, err := parseID(accountID)
	if err != nil {
		return nil, err
	}

	var info AccountInfo
	err = s.pool.QueryRow(ctx,
		`SELECT id, balance_sats FROM accounts WHERE id = $1`, id).
		Scan(&info.AccountID, &info.BalanceSats)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account info: %w", err)
	}
	return &info, nil
}

// CreateTask inserts a new open task. The posting fee is charged by the
// payment gate before this runs.
func (s *PostgresStore) CreateTask(ctx context.Context, buyerAccountID, title, description string, budgetSats int64) (*Task, error) {
	buyer, err := parseID(buyerAccountID)
	if err != nil {
		return nil, err
	}

	var t Task
	err = s.pool.QueryRow(ctx,
		`INSERT INTO hire_tasks (id, buyer_account_id, title, description, budget_sats)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, buyer_account_id, title, description, budget_sats, status, created_at, updated_at`,
		uuid.NewString(), buyer, title, description, budgetSats).
		Scan(&t.ID, &t.BuyerAccountID, &t.Title, &t.Description, &t.BudgetSats, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

// ListTasks returns tasks with their quote counts, newest first, optionally
// filtered by status.
func (s *PostgresStore) ListTasks(ctx context.Context, status string) ([]Task, error) {
	query := `
		SELECT t.id, t.buyer_account_id, t.title, t.description, t.budget_sats,
		       t.status, t.created_at, t.updated_at, COALESCE(q.cnt, 0) AS quote_count
		FROM hire_tasks t
		LEFT JOIN (
			SELECT task_id, count(*) AS cnt FROM hire_quotes GROUP BY task_id
		) q ON q.task_id = t.id`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE t.status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY t.created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.BuyerAccountID, &t.Title, &t.Description,
			&t.BudgetSats, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.QuoteCount); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// GetTaskDetail returns a task with its quotes (message counts included) and
// deliveries.
func (s *PostgresStore) GetTaskDetail(ctx context.Context, taskID string) (*TaskDetail, error) {
	id, err := parseID(taskID)
	if err != nil {
		return nil, err
	}

	var detail TaskDetail
	err = s.pool.QueryRow(ctx,
		`SELECT id, buyer_account_id, title, description, budget_sats, status, created_at, updated_at
		 FROM hire_tasks WHERE id = $1`, id).
		Scan(&detail.ID, &detail.BuyerAccountID, &detail.Title, &detail.Description,
			&detail.BudgetSats, &detail.Status, &detail.CreatedAt, &detail.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	quoteRows, err := s.pool.Query(ctx,
		`SELECT q.id, q.task_id, q.contractor_account_id, q.price_sats, q.description,
		        q.status, q.created_at, q.updated_at, COALESCE(m.cnt, 0) AS message_count
		 FROM hire_quotes q
		 LEFT JOIN (
			SELECT quote_id, count(*) AS cnt FROM hire_messages GROUP BY quote_id
		 ) m ON m.quote_id = q.id
		 WHERE q.task_id = $1
		 ORDER BY q.created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer quoteRows.Close()

	detail.Quotes = []Quote{}
	for quoteRows.Next() {
		var q Quote
		if err := quoteRows.Scan(&q.ID, &q.TaskID, &q.ContractorAccountID, &q.PriceSats,
			&q.Description, &q.Status, &q.CreatedAt, &q.UpdatedAt, &q.MessageCount); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		detail.Quotes = append(detail.Quotes, q)
	}
	if err := quoteRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	detail.QuoteCount = len(detail.Quotes)

	delRows, err := s.pool.Query(ctx,
		`SELECT id, task_id, quote_id, contractor_account_id, filename, notes, created_at
		 FROM hire_deliveries WHERE task_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer delRows.Close()

	detail.Deliveries = []Delivery{}
	for delRows.Next() {
		var d Delivery
		if err := delRows.Scan(&d.ID, &d.TaskID, &d.QuoteID, &d.ContractorAccountID,
			&d.Filename, &d.Notes, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		detail.Deliveries = append(detail.Deliveries, d)
	}
	if err := delRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	return &detail, nil
}

// CreateQuote inserts a pending quote. The task must be open and the
// contractor must not be the buyer.
func (s *PostgresStore) CreateQuote(ctx context.Context, taskID, contractorAccountID string, priceSats int64, description string) (*Quote, error) {
	tid, err := parseID(taskID)
	if err != nil {
		return nil, err
	}
	contractor, err := parseID(contractorAccountID)
	if err != nil {
		return nil, err
	}

	var (
		taskStatus string
		buyerID    string
	)
	err = s.pool.QueryRow(ctx,
		`SELECT status, buyer_account_id FROM hire_tasks WHERE id = $1`, tid).
		Scan(&taskStatus, &buyerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	if taskStatus != "open" {
		return nil, fmt.Errorf("%w: task is not open for quotes", ErrInvalidState)
	}
	if buyerID == contractor {
		return nil, fmt.Errorf("%w: cannot quote on your own task", ErrForbidden)
	}

	var q Quote
	err = s.pool.QueryRow(ctx,
		`INSERT INTO hire_quotes (id, task_id, contractor_account_id, price_sats, description)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, task_id, contractor_account_id, price_sats, description, status, created_at, updated_at`,
		uuid.NewString(), tid, contractor, priceSats, description).
		Scan(&q.ID, &q.TaskID, &q.ContractorAccountID, &q.PriceSats, &q.Description,
			&q.Status, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create quote: %w", err)
	}
	return &q, nil
}

// AcceptQuote is the atomic escrow lock. Lock order is task, then quote, then
// buyer account, matching every other money-moving transaction here.
func (s *PostgresStore) AcceptQuote(ctx context.Context, taskID, quoteID, callerAccountID string, skipDebit bool) (*AcceptResult, error) {
	tid, err := parseID(taskID)
	if err != nil {
		return nil, err
	}
	qid, err := parseID(quoteID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID(callerAccountID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin accept: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		taskStatus string
		buyerID    string
	)
	err = tx.QueryRow(ctx,
		`SELECT status, buyer_account_id FROM hire_tasks WHERE id = $1 FOR UPDATE`, tid).
		Scan(&taskStatus, &buyerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock task: %w", err)
	}
	if taskStatus != "open" {
		return nil, fmt.Errorf("%w: task is not open", ErrInvalidState)
	}
	if buyerID != caller {
		return nil, fmt.Errorf("%w: only the buyer can accept quotes", ErrForbidden)
	}

	var (
		quoteStatus string
		price       int64
	)
	err = tx.QueryRow(ctx,
		`SELECT status, price_sats FROM hire_quotes WHERE id = $1 AND task_id = $2 FOR UPDATE`,
		qid, tid).Scan(&quoteStatus, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock quote: %w", err)
	}
	if quoteStatus != "pending" {
		return nil, fmt.Errorf("%w: quote is not pending", ErrInvalidState)
	}

	if !skipDebit {
		var balance int64
		err = tx.QueryRow(ctx,
			`SELECT balance_sats FROM accounts WHERE id = $1 FOR UPDATE`, caller).
			Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("lock buyer account: %w", err)
		}
		if balance < price {
			return nil, &ledger.InsufficientBalanceError{BalanceSats: balance, RequiredSats: price}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET balance_sats = balance_sats - $1, updated_at = now() WHERE id = $2`,
			price, caller); err != nil {
			return nil, fmt.Errorf("debit buyer: %w", err)
		}
	}

	// Logged whether the escrow was funded by debit or by L402 payment.
	if _, err := tx.Exec(ctx,
		`INSERT INTO usage_log (account_id, endpoint, amount_sats) VALUES ($1, $2, $3)`,
		caller, "hire:escrow_lock:"+tid, price); err != nil {
		return nil, fmt.Errorf("write usage log: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE hire_quotes SET status = 'accepted', updated_at = now() WHERE id = $1`, qid); err != nil {
		return nil, fmt.Errorf("accept quote: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE hire_quotes SET status = 'rejected', updated_at = now()
		 WHERE task_id = $1 AND id != $2 AND status = 'pending'`, tid, qid); err != nil {
		return nil, fmt.Errorf("reject other quotes: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE hire_tasks SET status = 'in_escrow', updated_at = now() WHERE id = $1`, tid); err != nil {
		return nil, fmt.Errorf("escrow task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit accept: %w", err)
	}

	return &AcceptResult{TaskID: tid, QuoteID: qid, Status: "in_escrow", EscrowedSats: price}, nil
}

// UpdateQuote lets the contractor revise a pending quote.
func (s *PostgresStore) UpdateQuote(ctx context.Context, taskID, quoteID, callerAccountID string, priceSats *int64, description *string) (*Quote, error) {
	tid, err := parseID(taskID)
	if err != nil {
		return nil, err
	}
	qid, err := parseID(quoteID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID(callerAccountID)
	if err != nil {
		return nil, err
	}

	if priceSats == nil && description == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidArgument)
	}
	if priceSats != nil && *priceSats <= 0 {
		return nil, fmt.Errorf("%w: price_sats must be positive", ErrInvalidArgument)
	}

	var (
		contractorID string
		quoteStatus  string
	)
	err = s.pool.QueryRow(ctx,
		`SELECT contractor_account_id, status FROM hire_quotes WHERE id = $1 AND task_id = $2`,
		qid, tid).Scan(&contractorID, &quoteStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get quote: %w", err)
	}
	if contractorID != caller {
		return nil, fmt.Errorf("%w: only the contractor can update their quote", ErrForbidden)
	}
	if quoteStatus != "pending" {
		return nil, fmt.Errorf("%w: can only update pending quotes", ErrInvalidState)
	}

	sets := []string{}
	args := []interface{}{}
	idx := 1
	if priceSats != nil {
		sets = append(sets, fmt.Sprintf("price_sats = $%d", idx))
		args = append(args, *priceSats)
		idx++
	}
	if description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, *description)
		idx++
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, qid)

	query := fmt.Sprintf(
		`UPDATE hire_quotes SET %s WHERE id = $%d
		 RETURNING id, task_id, contractor_account_id, price_sats, description, status, created_at, updated_at`,
		strings.Join(sets, ", "), idx)

	var q Quote
	err = s.pool.QueryRow(ctx, query, args...).
		Scan(&q.ID, &q.TaskID, &q.ContractorAccountID, &q.PriceSats, &q.Description,
			&q.Status, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update quote: %w", err)
	}
	return &q, nil
}

// quoteParties resolves the buyer and contractor of a quote thread.
func (s *PostgresStore) quoteParties(ctx context.Context, tid, qid string) (buyerID, contractorID, quoteStatus string, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT buyer_account_id FROM hire_tasks WHERE id = $1`, tid).Scan(&buyerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", "", ErrNotFound
		}
		return "", "", "", fmt.Errorf("get task: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT contractor_account_id, status FROM hire_quotes WHERE id = $1 AND task_id = $2`,
		qid, tid).Scan(&contractorID, &quoteStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", "", ErrNotFound
		}
		return "", "", "", fmt.Errorf("get quote: %w", err)
	}
	return buyerID, contractorID, quoteStatus, nil
}

// SendQuoteMessage appends to a quote thread. Only the buyer and contractor
// may post, and not on a rejected quote.
func (s *PostgresStore) SendQuoteMessage(ctx context.Context, taskID, quoteID, senderAccountID, body string) (*Message, error) {
	tid, err := parseID(taskID)
	if err != nil {
		return nil, err
	}
	qid, err := parseID(quoteID)
	if err != nil {
		return nil, err
	}
	sender, err := parseID(senderAccountID)
	if err != nil {
		return nil, err
	}

	buyerID, contractorID, quoteStatus, err := s.quoteParties(ctx, tid, qid)
	if err != nil {
		return nil, err
	}
	if quoteStatus != "pending" && quoteStatus != "accepted" {
		return nil, fmt.Errorf("%w: cannot message on a rejected quote", ErrInvalidState)
	}
	if sender != buyerID && sender != contractorID {
		return nil, fmt.Errorf("%w: only the buyer or contractor can message this quote", ErrForbidden)
	}

	var m Message
	err = s.pool.QueryRow(ctx,
		`INSERT INTO hire_messages (task_id, quote_id, sender_account_id, body)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, task_id, quote_id, sender_account_id, body, created_at`,
		tid, qid, sender, body).
		Scan(&m.ID, &m.TaskID, &m.QuoteID, &m.SenderAccountID, &m.Body, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &m, nil
}

// GetQuoteMessages returns the thread after sinceID, ordered by id, for the
// buyer or contractor only.
func (s *PostgresStore) GetQuoteMessages(ctx context.Context, taskID, quoteID, callerAccountID string, sinceID int64) ([]Message, error) {
	tid, err := parseID(taskID)
	if err != nil {
		return nil, err
	}
	qid, err := parseID(quoteID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID(callerAccountID)
	if err != nil {
		return nil, err
	}

	buyerID, contractorID, _, err := s.quoteParties(ctx, tid, qid)
	if err != nil {
		return nil, err
	}
	if caller != buyerID && caller != contractorID {
		return nil, fmt.Errorf("%w: only the buyer or contractor can read this quote's messages", ErrForbidden)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, quote_id, sender_account_id, body, created_at
		 FROM hire_messages WHERE quote_id = $1 AND id > $2 ORDER BY id`,
		qid, sinceID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TaskID, &m.QuoteID, &m.SenderAccountID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// CreateDelivery records the contractor's work and moves the task to
// delivered.
func (s *PostgresStore) CreateDelivery(ctx context.Context, taskID, contractorAccountID, filename, contentBase64, notes string) (*Delivery, error) {
	tid, err := parseID(taskID)
	if err != nil {
		return nil, err
	}
	contractor, err := parseID(contractorAccountID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delivery: %w", err)
	}
	defer tx.Rollback(ctx)

	var taskStatus string
	err = tx.QueryRow(ctx,
		`SELECT status FROM hire_tasks WHERE id = $1 FOR UPDATE`, tid).Scan(&taskStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock task: %w", err)
	}
	if taskStatus != "in_escrow" {
		return nil, fmt.Errorf("%w: task is not in escrow", ErrInvalidState)
	}

	var quoteID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM hire_quotes
		 WHERE task_id = $1 AND contractor_account_id = $2 AND status = 'accepted'`,
		tid, contractor).Scan(&quoteID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no accepted quote for this contractor", ErrForbidden)
		}
		return nil, fmt.Errorf("find accepted quote: %w", err)
	}

	var d Delivery
	err = tx.QueryRow(ctx,
		`INSERT INTO hire_deliveries
			(id, task_id, quote_id, contractor_account_id, filename, content_base64, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, task_id, quote_id, contractor_account_id, filename, notes, created_at`,
		uuid.NewString(), tid, quoteID, contractor, filename, contentBase64, notes).
		Scan(&d.ID, &d.TaskID, &d.QuoteID, &d.ContractorAccountID, &d.Filename, &d.Notes, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE hire_tasks SET status = 'delivered', updated_at = now() WHERE id = $1`, tid); err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delivery: %w", err)
	}
	return &d, nil
}

// ConfirmDelivery is the atomic escrow release: credit the contractor, log
// the movement, complete the task.
func (s *PostgresStore) ConfirmDelivery(ctx context.Context, taskID, callerAccountID string) (*ConfirmResult, error) {
	tid, err := parseID(taskID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID(callerAccountID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		taskStatus string
		buyerID    string
	)
	err = tx.QueryRow(ctx,
		`SELECT status, buyer_account_id FROM hire_tasks WHERE id = $1 FOR UPDATE`, tid).
		Scan(&taskStatus, &buyerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock task: %w", err)
	}
	if taskStatus != "delivered" {
		return nil, fmt.Errorf("%w: task is not in delivered state", ErrInvalidState)
	}
	if buyerID != caller {
		return nil, fmt.Errorf("%w: only the buyer can confirm delivery", ErrForbidden)
	}

	var (
		contractorID string
		price        int64
	)
	err = tx.QueryRow(ctx,
		`SELECT contractor_account_id, price_sats FROM hire_quotes
		 WHERE task_id = $1 AND status = 'accepted'`, tid).
		Scan(&contractorID, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no accepted quote found", ErrInvalidState)
		}
		return nil, fmt.Errorf("find accepted quote: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance_sats = balance_sats + $1, updated_at = now() WHERE id = $2`,
		price, contractorID); err != nil {
		return nil, fmt.Errorf("credit contractor: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO usage_log (account_id, endpoint, amount_sats) VALUES ($1, $2, $3)`,
		contractorID, "hire:escrow_release:"+tid, price); err != nil {
		return nil, fmt.Errorf("write usage log: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE hire_tasks SET status = 'completed', updated_at = now() WHERE id = $1`, tid); err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit confirm: %w", err)
	}

	return &ConfirmResult{
		TaskID:              tid,
		Status:              "completed",
		ReleasedSats:        price,
		ContractorAccountID: contractorID,
	}, nil
}

// DebitAccount debits by account id with a usage-log entry; used by collect.
func (s *PostgresStore) DebitAccount(ctx context.Context, accountID string, amountSats int64, endpoint string) error {
	id, err := parseID(accountID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT balance_sats FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock account: %w", err)
	}
	if balance < amountSats {
		return &ledger.InsufficientBalanceError{BalanceSats: balance, RequiredSats: amountSats}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance_sats = balance_sats - $1, updated_at = now() WHERE id = $2`,
		amountSats, id); err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO usage_log (account_id, endpoint, amount_sats) VALUES ($1, $2, $3)`,
		id, endpoint, amountSats); err != nil {
		return fmt.Errorf("write usage log: %w", err)
	}

	return tx.Commit(ctx)
}

// CreditAccount credits by account id; used to refund a failed withdrawal.
func (s *PostgresStore) CreditAccount(ctx context.Context, accountID string, amountSats int64) error {
	id, err := parseID(accountID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE accounts SET balance_sats = balance_sats + $1, updated_at = now() WHERE id = $2`,
		amountSats, id)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	return nil
}
