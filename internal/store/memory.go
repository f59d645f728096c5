package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/thriftpay/internal/domain"
)

// Operation names accepted by Memory.FailOn.
const (
	OpCredit   = "credit"
	OpSettle   = "settle"
	OpLatch    = "latch"
	OpNotify   = "notify"
	OpEnqueue  = "enqueue"
	OpAudit    = "audit"
	OpLockUser = "lock_user"
)

// Memory is an in-process ledger. Transactions are serialized on a single
// mutex and undone on error, giving the same all-or-nothing behaviour as the
// Postgres store.
type Memory struct {
	mu  sync.Mutex
	now func() time.Time

	users         map[int64]*domain.User
	accounts      map[int64]*domain.Account
	payments      map[string]*domain.PendingPayment
	notifications []domain.Notification
	events        []memEvent
	audits        []domain.Outcome
	idempotency   map[string]*domain.IdempotencyRecord

	nextID int64
	faults map[string]error
}

type memEvent struct {
	domain.OutboxEvent
	processed bool
}

func NewMemory() *Memory {
	return &Memory{
		now:         time.Now,
		users:       make(map[int64]*domain.User),
		accounts:    make(map[int64]*domain.Account),
		payments:    make(map[string]*domain.PendingPayment),
		idempotency: make(map[string]*domain.IdempotencyRecord),
		faults:      make(map[string]error),
	}
}

// FailOn makes every later call of op return err. A nil err clears the fault.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

func (m *Memory) fault(op string) error {
	return m.faults[op]
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateUser stores u and assigns its ID.
func (m *Memory) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.id()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

// CreateAccount stores a for an existing user and assigns its ID.
func (m *Memory) CreateAccount(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[a.UserID]; !ok {
		return ErrNotFound
	}
	if a.Balance < 0 {
		return fmt.Errorf("negative opening balance %d", a.Balance)
	}
	a.ID = m.id()
	now := m.now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *Memory) GetUser(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetAccount(_ context.Context, id int64) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetPayment(_ context.Context, reference string) (*domain.PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) CreatePayment(_ context.Context, p *domain.PendingPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.Reference]; ok {
		return ErrDuplicateReference
	}
	if _, ok := m.accounts[p.AccountID]; !ok {
		return ErrNotFound
	}
	p.ID = m.id()
	p.Status = domain.StatusPending
	p.CreatedAt = m.now()
	cp := *p
	m.payments[p.Reference] = &cp
	return nil
}

func (m *Memory) StalePayments(_ context.Context, olderThan time.Time, limit int) ([]domain.PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingPayment
	for _, p := range m.payments {
		if p.Status == domain.StatusPending && p.CreatedAt.Before(olderThan) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListNotifications(_ context.Context, userID int64, limit int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if m.notifications[i].UserID == userID {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

func (m *Memory) RecordAudit(_ context.Context, outcome domain.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpAudit); err != nil {
		return err
	}
	m.audits = append(m.audits, outcome)
	return nil
}

// Payments returns a snapshot of every payment ordered by ID.
func (m *Memory) Payments() []domain.PendingPayment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingPayment, 0, len(m.payments))
	for _, p := range m.payments {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Audits returns the recorded audit outcomes in insertion order.
func (m *Memory) Audits() []domain.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Outcome(nil), m.audits...)
}

// WithinTx holds the ledger lock for the whole of fn. Writes are undone in
// reverse order unless fn returns nil, including when fn panics.
func (m *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	defer tx.rollback()

	if err := fn(tx); err != nil {
		return err
	}
	tx.undo = nil
	return nil
}

type memTx struct {
	m    *Memory
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockPayment(_ context.Context, reference string) (*domain.PendingPayment, error) {
	p, ok := t.m.payments[reference]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) LockAccountOwner(_ context.Context, accountID int64) (*domain.User, *domain.Account, error) {
	if err := t.m.fault(OpLockUser); err != nil {
		return nil, nil, err
	}
	a, ok := t.m.accounts[accountID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	u, ok := t.m.users[a.UserID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	ucp, acp := *u, *a
	return &ucp, &acp, nil
}

func (t *memTx) CreditAccount(_ context.Context, accountID, amount int64) (int64, error) {
	if err := t.m.fault(OpCredit); err != nil {
		return 0, err
	}
	a, ok := t.m.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	if a.Balance+amount < 0 {
		return 0, fmt.Errorf("balance of account %d would go negative", accountID)
	}
	prev := *a
	a.Balance += amount
	a.UpdatedAt = t.m.now()
	t.undo = append(t.undo, func() { *a = prev })
	return a.Balance, nil
}

func (t *memTx) SettlePayment(_ context.Context, p *domain.PendingPayment) error {
	if err := t.m.fault(OpSettle); err != nil {
		return err
	}
	stored, ok := t.m.payments[p.Reference]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != domain.StatusPending {
		return ErrNotPending
	}
	prev := *stored
	stored.Status = p.Status
	stored.AmountReceived = p.AmountReceived
	stored.CreditedAmount = p.CreditedAmount
	stored.FeeDeducted = p.FeeDeducted
	stored.FailureReason = p.FailureReason
	stored.FailureDetail = p.FailureDetail
	stored.GatewayReference = p.GatewayReference
	stored.VerifiedAt = p.VerifiedAt
	t.undo = append(t.undo, func() { *stored = prev })
	return nil
}

func (t *memTx) MarkRegistrationPaid(_ context.Context, userID int64) error {
	if err := t.m.fault(OpLatch); err != nil {
		return err
	}
	u, ok := t.m.users[userID]
	if !ok {
		return ErrNotFound
	}
	prev := u.RegistrationPaid
	u.RegistrationPaid = true
	t.undo = append(t.undo, func() { u.RegistrationPaid = prev })
	return nil
}

func (t *memTx) AppendNotification(_ context.Context, userID int64, message string) error {
	if err := t.m.fault(OpNotify); err != nil {
		return err
	}
	n := len(t.m.notifications)
	t.m.notifications = append(t.m.notifications, domain.Notification{
		ID:        t.m.id(),
		UserID:    userID,
		Message:   message,
		CreatedAt: t.m.now(),
	})
	t.undo = append(t.undo, func() { t.m.notifications = t.m.notifications[:n] })
	return nil
}

func (t *memTx) EnqueueEvent(_ context.Context, eventType string, payload []byte) error {
	if err := t.m.fault(OpEnqueue); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return fmt.Errorf("outbox payload is not valid json")
	}
	n := len(t.m.events)
	t.m.events = append(t.m.events, memEvent{OutboxEvent: domain.OutboxEvent{
		ID:        t.m.id(),
		Type:      eventType,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: t.m.now(),
	}})
	t.undo = append(t.undo, func() { t.m.events = t.m.events[:n] })
	return nil
}

func (m *Memory) ReserveIdempotencyKey(_ context.Context, key, requestHash string) (*domain.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.idempotency[key]; ok {
		if rec.RequestHash != requestHash {
			return nil, ErrIdempotencyMismatch
		}
		if rec.Status != domain.IdempotencyCompleted {
			return nil, ErrConflict
		}
		cp := *rec
		return &cp, nil
	}
	m.idempotency[key] = &domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyInProgress,
	}
	return nil, nil
}

func (m *Memory) CompleteIdempotencyKey(_ context.Context, key string, status int, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[key]
	if !ok {
		return ErrNotFound
	}
	rec.Status = domain.IdempotencyCompleted
	rec.ResponseStatus = status
	rec.ResponseBody = append(json.RawMessage(nil), body...)
	return nil
}

func (m *Memory) ReleaseIdempotencyKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.idempotency[key]; ok && rec.Status == domain.IdempotencyInProgress {
		delete(m.idempotency, key)
	}
	return nil
}

func (m *Memory) PendingEvents(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutboxEvent
	for _, e := range m.events {
		if len(out) >= limit {
			break
		}
		if !e.processed {
			out = append(out, e.OutboxEvent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) MarkEventProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].processed = true
			return nil
		}
	}
	return ErrNotFound
}
