// Package hire implements the task marketplace state machine: tasks, quotes,
// quote-scoped messaging, deliveries, and the atomic escrow lock/release
// transactions against the account ledger.
package hire

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors mapped to API error codes at the HTTP boundary.
// Insufficient-balance failures surface as *ledger.InsufficientBalanceError
// so the outer layer can synthesize an account-bound 402 challenge.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Task is a posted unit of work.
type Task struct {
	ID             string    `json:"id"`
	BuyerAccountID string    `json:"buyer_account_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	BudgetSats     int64     `json:"budget_sats"`
	Status         string    `json:"status"` // open | in_escrow | delivered | completed | cancelled
	QuoteCount     int       `json:"quote_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TaskDetail is a task with its quotes and deliveries.
type TaskDetail struct {
	Task
	Quotes     []Quote    `json:"quotes"`
	Deliveries []Delivery `json:"deliveries"`
}

// Quote is a contractor's offer on a task.
type Quote struct {
	ID                  string    `json:"id"`
	TaskID              string    `json:"task_id"`
	ContractorAccountID string    `json:"contractor_account_id"`
	PriceSats           int64     `json:"price_sats"`
	Description         string    `json:"description"`
	Status              string    `json:"status"` // pending | accepted | rejected
	MessageCount        int       `json:"message_count"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Message is one entry in a quote's buyer/contractor thread.
type Message struct {
	ID              int64     `json:"id"`
	TaskID          string    `json:"task_id"`
	QuoteID         string    `json:"quote_id"`
	SenderAccountID string    `json:"sender_account_id"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"created_at"`
}

// Delivery is the contractor's submitted work. Content is stored but not
// echoed in listings.
type Delivery struct {
	ID                  string    `json:"id"`
	TaskID              string    `json:"task_id"`
	QuoteID             string    `json:"quote_id"`
	ContractorAccountID string    `json:"contractor_account_id"`
	Filename            string    `json:"filename"`
	Notes               string    `json:"notes"`
	CreatedAt           time.Time `json:"created_at"`
}

// AcceptResult is returned by a successful escrow lock.
type AcceptResult struct {
	TaskID       string `json:"task_id"`
	QuoteID      string `json:"quote_id"`
	Status       string `json:"status"`
	EscrowedSats int64  `json:"escrowed_sats"`
}

// ConfirmResult is returned by a successful escrow release.
type ConfirmResult struct {
	TaskID              string `json:"task_id"`
	Status              string `json:"status"`
	ReleasedSats        int64  `json:"released_sats"`
	ContractorAccountID string `json:"contractor_account_id"`
}

// AccountInfo is the /me view of an account.
type AccountInfo struct {
	AccountID   string `json:"account_id"`
	BalanceSats int64  `json:"balance_sats"`
}

// Store is the marketplace contract. Every mutating call is a single
// transaction: it fully commits or surfaces one of the sentinel errors with
// no partial state observable.
type Store interface {
	GetAccountInfo(ctx context.Context, accountID string) (*AccountInfo, error)

	CreateTask(ctx context.Context, buyerAccountID, title, description string, budgetSats int64) (*Task, error)
	ListTasks(ctx context.Context, status string) ([]Task, error)
	GetTaskDetail(ctx context.Context, taskID string) (*TaskDetail, error)

	CreateQuote(ctx context.Context, taskID, contractorAccountID string, priceSats int64, description string) (*Quote, error)
	// AcceptQuote locks the escrow. skipDebit is the L402-funded path: the
	// Lightning payment is the escrow, so the ledger balance is not touched.
	AcceptQuote(ctx context.Context, taskID, quoteID, callerAccountID string, skipDebit bool) (*AcceptResult, error)
	UpdateQuote(ctx context.Context, taskID, quoteID, callerAccountID string, priceSats *int64, description *string) (*Quote, error)

	SendQuoteMessage(ctx context.Context, taskID, quoteID, senderAccountID, body string) (*Message, error)
	GetQuoteMessages(ctx context.Context, taskID, quoteID, callerAccountID string, sinceID int64) ([]Message, error)

	CreateDelivery(ctx context.Context, taskID, contractorAccountID, filename, contentBase64, notes string) (*Delivery, error)
	ConfirmDelivery(ctx context.Context, taskID, callerAccountID string) (*ConfirmResult, error)

	// DebitAccount and CreditAccount move funds by account id for the
	// collect (withdrawal) flow, usage-logged like any other movement.
	DebitAccount(ctx context.Context, accountID string, amountSats int64, endpoint string) error
	CreditAccount(ctx context.Context, accountID string, amountSats int64) error
}
