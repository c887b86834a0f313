package hire

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alittlebitofmoney/server/internal/ledger"
)

// MemoryStore is the in-memory marketplace used alongside ledger.MemoryStore
// when no database is configured. Money movements go through the shared
// ledger so balances and usage logs stay consistent with the rest of the
// server.
type MemoryStore struct {
	mu         sync.Mutex
	ledger     *ledger.MemoryStore
	tasks      map[string]*Task
	quotes     map[string]*Quote
	messages   []Message
	deliveries map[string]*deliveryRecord
	nextMsgID  int64
}

type deliveryRecord struct {
	Delivery
	ContentBase64 string
}

// NewMemoryStore creates a marketplace backed by the given in-memory ledger.
func NewMemoryStore(l *ledger.MemoryStore) *MemoryStore {
	return &MemoryStore{
		ledger:     l,
		tasks:      make(map[string]*Task),
		quotes:     make(map[string]*Quote),
		deliveries: make(map[string]*deliveryRecord),
	}
}

// GetAccountInfo returns the account's id and balance.
func (s *MemoryStore) GetAccountInfo(ctx context.Context, accountID string) (*AccountInfo, error) {
	balance, err := s.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return nil, ErrNotFound
	}
	return &AccountInfo{AccountID: accountID, BalanceSats: balance}, nil
}

// CreateTask inserts a new open task.
func (s *MemoryStore) CreateTask(ctx context.Context, buyerAccountID, title, description string, budgetSats int64) (*Task, error) {
	if _, err := s.ledger.GetBalance(ctx, buyerAccountID); err != nil {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	t := &Task{
		ID:             uuid.NewString(),
		BuyerAccountID: buyerAccountID,
		Title:          title,
		Description:    description,
		BudgetSats:     budgetSats,
		Status:         "open",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.tasks[t.ID] = t

	out := *t
	return &out, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (s *MemoryStore) ListTasks(ctx context.Context, status string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := []Task{}
	for _, t := range s.tasks {
		if status != "" && t.Status != status {
			continue
		}
		out := *t
		out.QuoteCount = s.quoteCountLocked(t.ID)
		tasks = append(tasks, out)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *MemoryStore) quoteCountLocked(taskID string) int {
	n := 0
	for _, q := range s.quotes {
		if q.TaskID == taskID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) messageCountLocked(quoteID string) int {
	n := 0
	for _, m := range s.messages {
		if m.QuoteID == quoteID {
			n++
		}
	}
	return n
}

// GetTaskDetail returns a task with its quotes and deliveries.
func (s *MemoryStore) GetTaskDetail(ctx context.Context, taskID string) (*TaskDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}

	detail := &TaskDetail{Task: *t, Quotes: []Quote{}, Deliveries: []Delivery{}}
	for _, q := range s.quotes {
		if q.TaskID != taskID {
			continue
		}
		out := *q
		out.MessageCount = s.messageCountLocked(q.ID)
		detail.Quotes = append(detail.Quotes, out)
	}
	sort.Slice(detail.Quotes, func(i, j int) bool {
		return detail.Quotes[i].CreatedAt.Before(detail.Quotes[j].CreatedAt)
	})
	detail.QuoteCount = len(detail.Quotes)

	for _, d := range s.deliveries {
		if d.TaskID == taskID {
			detail.Deliveries = append(detail.Deliveries, d.Delivery)
		}
	}
	sort.Slice(detail.Deliveries, func(i, j int) bool {
		return detail.Deliveries[i].CreatedAt.Before(detail.Deliveries[j].CreatedAt)
	})
	return detail, nil
}

// CreateQuote inserts a pending quote on an open task.
func (s *MemoryStore) CreateQuote(ctx context.Context, taskID, contractorAccountID string, priceSats int64, description string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != "open" {
		return nil, ErrInvalidState
	}
	if t.BuyerAccountID == contractorAccountID {
		return nil, ErrForbidden
	}

	now := time.Now()
	q := &Quote{
		ID:                  uuid.NewString(),
		TaskID:              taskID,
		ContractorAccountID: contractorAccountID,
		PriceSats:           priceSats,
		Description:         description,
		Status:              "pending",
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.quotes[q.ID] = q

	out := *q
	return &out, nil
}

// AcceptQuote locks the escrow: debit the buyer (unless the escrow is
// L402-funded), accept this quote, reject other pending quotes, and move the
// task to in_escrow.
func (s *MemoryStore) AcceptQuote(ctx context.Context, taskID, quoteID, callerAccountID string, skipDebit bool) (*AcceptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != "open" {
		return nil, ErrInvalidState
	}
	if t.BuyerAccountID != callerAccountID {
		return nil, ErrForbidden
	}

	q, ok := s.quotes[quoteID]
	if !ok || q.TaskID != taskID {
		return nil, ErrNotFound
	}
	if q.Status != "pending" {
		return nil, ErrInvalidState
	}

	// The ledger call is the only failable step, so doing it first keeps the
	// whole operation effectively atomic. The escrowed amount is logged either
	// way; skipDebit means the Lightning payment already funded it.
	if skipDebit {
		if err := s.ledger.AppendUsage(ctx, callerAccountID, "hire:escrow_lock:"+taskID, q.PriceSats); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.ledger.DebitAccount(ctx, callerAccountID, q.PriceSats, "hire:escrow_lock:"+taskID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	q.Status = "accepted"
	q.UpdatedAt = now
	for _, other := range s.quotes {
		if other.TaskID == taskID && other.ID != quoteID && other.Status == "pending" {
			other.Status = "rejected"
			other.UpdatedAt = now
		}
	}
	t.Status = "in_escrow"
	t.UpdatedAt = now

	return &AcceptResult{TaskID: taskID, QuoteID: quoteID, Status: "in_escrow", EscrowedSats: q.PriceSats}, nil
}

// UpdateQuote lets the contractor revise a pending quote.
func (s *MemoryStore) UpdateQuote(ctx context.Context, taskID, quoteID, callerAccountID string, priceSats *int64, description *string) (*Quote, error) {
	if priceSats == nil && description == nil {
		return nil, ErrInvalidArgument
	}
	if priceSats != nil && *priceSats <= 0 {
		return nil, ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[quoteID]
	if !ok || q.TaskID != taskID {
		return nil, ErrNotFound
	}
	if q.ContractorAccountID != callerAccountID {
		return nil, ErrForbidden
	}
	if q.Status != "pending" {
		return nil, ErrInvalidState
	}

	if priceSats != nil {
		q.PriceSats = *priceSats
	}
	if description != nil {
		q.Description = *description
	}
	q.UpdatedAt = time.Now()

	out := *q
	return &out, nil
}

func (s *MemoryStore) quotePartiesLocked(taskID, quoteID string) (buyerID, contractorID, quoteStatus string, err error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return "", "", "", ErrNotFound
	}
	q, ok := s.quotes[quoteID]
	if !ok || q.TaskID != taskID {
		return "", "", "", ErrNotFound
	}
	return t.BuyerAccountID, q.ContractorAccountID, q.Status, nil
}

// SendQuoteMessage appends to a quote thread.
func (s *MemoryStore) SendQuoteMessage(ctx context.Context, taskID, quoteID, senderAccountID, body string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buyerID, contractorID, quoteStatus, err := s.quotePartiesLocked(taskID, quoteID)
	if err != nil {
		return nil, err
	}
	if quoteStatus != "pending" && quoteStatus != "accepted" {
		return nil, ErrInvalidState
	}
	if senderAccountID != buyerID && senderAccountID != contractorID {
		return nil, ErrForbidden
	}

	s.nextMsgID++
	m := Message{
		ID:              s.nextMsgID,
		TaskID:          taskID,
		QuoteID:         quoteID,
		SenderAccountID: senderAccountID,
		Body:            body,
		CreatedAt:       time.Now(),
	}
	s.messages = append(s.messages, m)
	return &m, nil
}

// GetQuoteMessages returns the thread after sinceID for the buyer or
// contractor.
func (s *MemoryStore) GetQuoteMessages(ctx context.Context, taskID, quoteID, callerAccountID string, sinceID int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buyerID, contractorID, _, err := s.quotePartiesLocked(taskID, quoteID)
	if err != nil {
		return nil, err
	}
	if callerAccountID != buyerID && callerAccountID != contractorID {
		return nil, ErrForbidden
	}

	messages := []Message{}
	for _, m := range s.messages {
		if m.QuoteID == quoteID && m.ID > sinceID {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

// CreateDelivery records the contractor's work and moves the task to
// delivered.
func (s *MemoryStore) CreateDelivery(ctx context.Context, taskID, contractorAccountID, filename, contentBase64, notes string) (*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != "in_escrow" {
		return nil, ErrInvalidState
	}

	var accepted *Quote
	for _, q := range s.quotes {
		if q.TaskID == taskID && q.ContractorAccountID == contractorAccountID && q.Status == "accepted" {
			accepted = q
			break
		}
	}
	if accepted == nil {
		return nil, ErrForbidden
	}

	d := &deliveryRecord{
		Delivery: Delivery{
			ID:                  uuid.NewString(),
			TaskID:              taskID,
			QuoteID:             accepted.ID,
			ContractorAccountID: contractorAccountID,
			Filename:            filename,
			Notes:               notes,
			CreatedAt:           time.Now(),
		},
		ContentBase64: contentBase64,
	}
	s.deliveries[d.ID] = d

	t.Status = "delivered"
	t.UpdatedAt = time.Now()

	out := d.Delivery
	return &out, nil
}

// ConfirmDelivery releases the escrow to the contractor and completes the
// task.
func (s *MemoryStore) ConfirmDelivery(ctx context.Context, taskID, callerAccountID string) (*ConfirmResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != "delivered" {
		return nil, ErrInvalidState
	}
	if t.BuyerAccountID != callerAccountID {
		return nil, ErrForbidden
	}

	var accepted *Quote
	for _, q := range s.quotes {
		if q.TaskID == taskID && q.Status == "accepted" {
			accepted = q
			break
		}
	}
	if accepted == nil {
		return nil, ErrInvalidState
	}

	if _, err := s.ledger.CreditWithLog(ctx, accepted.ContractorAccountID, accepted.PriceSats, "hire:escrow_release:"+taskID); err != nil {
		return nil, err
	}

	t.Status = "completed"
	t.UpdatedAt = time.Now()

	return &ConfirmResult{
		TaskID:              taskID,
		Status:              "completed",
		ReleasedSats:        accepted.PriceSats,
		ContractorAccountID: accepted.ContractorAccountID,
	}, nil
}

// DebitAccount debits by account id with a usage-log entry.
func (s *MemoryStore) DebitAccount(ctx context.Context, accountID string, amountSats int64, endpoint string) error {
	_, err := s.ledger.DebitAccount(ctx, accountID, amountSats, endpoint)
	return err
}

// CreditAccount credits by account id.
func (s *MemoryStore) CreditAccount(ctx context.Context, accountID string, amountSats int64) error {
	_, err := s.ledger.Credit(ctx, accountID, amountSats)
	return err
}
