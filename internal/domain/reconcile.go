package domain

// GatewayResult is what a payment gateway reports for a reference. The set of
// implementations is closed: Succeeded, Failed and Pending.
type GatewayResult interface {
	gatewayResult()
}

// Succeeded means the gateway confirms funds were collected.
type Succeeded struct {
	AmountReceived   int64
	Currency         string
	GatewayReference string
}

// Failed means the gateway reports the payment did not and will not complete.
type Failed struct {
	Reason string
}

// Pending means the gateway has not settled the payment yet.
type Pending struct{}

func (Succeeded) gatewayResult() {}
func (Failed) gatewayResult()    {}
func (Pending) gatewayResult()   {}

// OutcomeKind classifies a reconciliation result.
type OutcomeKind string

const (
	OutcomeSucceeded    OutcomeKind = "succeeded"
	OutcomeFailed       OutcomeKind = "failed"
	OutcomeStillPending OutcomeKind = "pending"
)

// FailureReason records why a payment ended up failed.
type FailureReason string

const (
	ReasonGatewayDeclined             FailureReason = "gateway_declined"
	ReasonAmountMismatch              FailureReason = "amount_mismatch"
	ReasonInsufficientForRegistration FailureReason = "insufficient_for_registration"
	ReasonInitializationFailed        FailureReason = "initialization_failed"
)

// Outcome is the result of reconciling one payment reference.
type Outcome struct {
	Kind           OutcomeKind   `json:"outcome"`
	Reference      string        `json:"reference"`
	AmountReceived int64         `json:"amount_received"`
	CreditAmount   int64         `json:"credit_amount"`
	FeeDeducted    int64         `json:"fee_deducted"`
	Reason         FailureReason `json:"reason,omitempty"`
	// Replayed is set when the payment was already terminal and the
	// recorded outcome was returned without touching the ledger.
	Replayed bool `json:"replayed"`
}

// Same reports whether o and other describe the same reconciliation result,
// ignoring whether either was a replay.
func (o Outcome) Same(other Outcome) bool {
	o.Replayed, other.Replayed = false, false
	return o == other
}
