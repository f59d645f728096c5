package domain

import (
	"encoding/json"
	"time"
)

// Plan is the thrift package a user subscribed to at signup.
type Plan string

const (
	PlanA Plan = "A"
	PlanB Plan = "B"
	PlanC Plan = "C"
)

// Valid reports whether p is one of the known plans.
func (p Plan) Valid() bool {
	switch p {
	case PlanA, PlanB, PlanC:
		return true
	}
	return false
}

// Provider identifies the payment gateway that collected a payment.
type Provider string

const (
	ProviderPaystack Provider = "paystack"
	ProviderALATPay  Provider = "alatpay"
)

// PaymentStatus is the lifecycle state of a PendingPayment.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusSuccessful PaymentStatus = "successful"
	StatusFailed     PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

// User owns accounts. RegistrationPaid is a one-way latch.
type User struct {
	ID               int64     `json:"id"`
	FullName         string    `json:"full_name"`
	Phone            string    `json:"phone"`
	Plan             Plan      `json:"plan"`
	RegistrationPaid bool      `json:"registration_paid"`
	CreatedAt        time.Time `json:"created_at"`
}

// Account is a user's wallet. Balance is held in kobo and never negative.
type Account struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Number    string    `json:"account_number"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PendingPayment tracks a gateway transaction from initialization until it
// settles. Once Status is terminal the record, including the recorded
// outcome fields, never changes again.
type PendingPayment struct {
	ID               int64         `json:"id"`
	Reference        string        `json:"reference"`
	AccountID        int64         `json:"account_id"`
	Provider         Provider      `json:"provider"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           PaymentStatus `json:"status"`
	AmountReceived   int64         `json:"amount_received"`
	CreditedAmount   int64         `json:"credited_amount"`
	FeeDeducted      int64         `json:"fee_deducted"`
	FailureReason    FailureReason `json:"failure_reason,omitempty"`
	FailureDetail    string        `json:"failure_detail,omitempty"` // gateway's own wording
	GatewayReference string        `json:"gateway_reference,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	VerifiedAt       *time.Time    `json:"verified_at,omitempty"`
}

// Outcome rebuilds the reconciliation result recorded on a terminal payment.
func (p *PendingPayment) Outcome() Outcome {
	switch p.Status {
	case StatusSuccessful:
		return Outcome{
			Kind:           OutcomeSucceeded,
			Reference:      p.Reference,
			AmountReceived: p.AmountReceived,
			CreditAmount:   p.CreditedAmount,
			FeeDeducted:    p.FeeDeducted,
		}
	case StatusFailed:
		return Outcome{
			Kind:           OutcomeFailed,
			Reference:      p.Reference,
			AmountReceived: p.AmountReceived,
			Reason:         p.FailureReason,
		}
	default:
		return Outcome{Kind: OutcomeStillPending, Reference: p.Reference}
	}
}

// Notification is an append-only informational message for a user.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// OutboxEvent is a reconciliation event awaiting publication.
type OutboxEvent struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Event types written to the outbox.
const (
	EventPaymentSucceeded = "PaymentSucceeded"
	EventPaymentFailed    = "PaymentFailed"
)

// PaymentEvent is the outbox payload for a terminal payment transition.
type PaymentEvent struct {
	Reference    string        `json:"reference"`
	AccountID    int64         `json:"account_id"`
	UserID       int64         `json:"user_id"`
	Status       PaymentStatus `json:"status"`
	CreditAmount int64         `json:"credit_amount"`
	FeeDeducted  int64         `json:"fee_deducted"`
	Reason       FailureReason `json:"reason,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// IdempotencyRecord holds the state of a request key.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Status         string
	ResponseBody   json.RawMessage
	ResponseStatus int
}

// Idempotency key states.
const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)
