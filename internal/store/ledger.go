package store

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/thriftpay/internal/domain"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrConflict            = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("idempotency key mismatch")
	ErrNotPending          = errors.New("payment is not pending")
	ErrDuplicateReference  = errors.New("payment reference already exists")
)

// Ledger is the source of truth for users, accounts and payments.
type Ledger interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetPayment(ctx context.Context, reference string) (*domain.PendingPayment, error)
	CreatePayment(ctx context.Context, p *domain.PendingPayment) error
	ListNotifications(ctx context.Context, userID int64, limit int) ([]domain.Notification, error)
	RecordAudit(ctx context.Context, outcome domain.Outcome) error

	// WithinTx runs fn in one transaction. Every write made through the Tx
	// commits together when fn returns nil and is discarded otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of writes a reconciliation may perform. Lock methods hold
// their rows until the transaction ends; callers lock the payment first, then
// its account owner.
type Tx interface {
	LockPayment(ctx context.Context, reference string) (*domain.PendingPayment, error)
	LockAccountOwner(ctx context.Context, accountID int64) (*domain.User, *domain.Account, error)
	CreditAccount(ctx context.Context, accountID, amount int64) (int64, error)
	// SettlePayment writes the terminal status and outcome fields of p. It
	// returns ErrNotPending if the stored payment already left pending.
	SettlePayment(ctx context.Context, p *domain.PendingPayment) error
	MarkRegistrationPaid(ctx context.Context, userID int64) error
	AppendNotification(ctx context.Context, userID int64, message string) error
	EnqueueEvent(ctx context.Context, eventType string, payload []byte) error
}

// IdempotencyStore persists request keys so retried requests replay the
// original response.
type IdempotencyStore interface {
	// ReserveIdempotencyKey returns the completed record for a key seen
	// before, or nil after reserving a fresh key. A key in progress yields
	// ErrConflict; a key reused with a different body yields
	// ErrIdempotencyMismatch.
	ReserveIdempotencyKey(ctx context.Context, key, requestHash string) (*domain.IdempotencyRecord, error)
	CompleteIdempotencyKey(ctx context.Context, key string, status int, body []byte) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// OutboxStore exposes the events written by reconciliation transactions.
type OutboxStore interface {
	PendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkEventProcessed(ctx context.Context, id int64) error
}

// PaymentLister finds payments that never settled, for periodic re-verification.
type PaymentLister interface {
	StalePayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.PendingPayment, error)
}
