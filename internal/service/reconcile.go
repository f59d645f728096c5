package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/thriftpay/internal/domain"
	"github.com/punchamoorthee/thriftpay/internal/gateway"
	"github.com/punchamoorthee/thriftpay/internal/store"
)

var (
	ErrUnknownPayment              = errors.New("unknown payment reference")
	ErrGatewayUnavailable          = errors.New("payment gateway unavailable")
	ErrLedgerWrite                 = errors.New("ledger write failed")
	ErrAmountMismatch              = errors.New("amount received does not cover the payment")
	ErrInsufficientForRegistration = errors.New("amount received does not cover the registration fee")
	ErrPaymentDeclined             = errors.New("payment declined by gateway")

	// ErrFeeSchedule means the configured fee schedule has no fee for the
	// user's plan. Nothing is written; the payment stays pending until the
	// configuration is fixed.
	ErrFeeSchedule = errors.New("registration fee not configured")
)

var (
	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thrift_reconciliations_total",
		Help: "Reconciliation results, labeled by outcome and failure reason",
	}, []string{"outcome", "reason", "replayed"})

	auditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thrift_audit_write_failures_total",
		Help: "Post-commit audit inserts that failed and were skipped",
	})
)

// FeeSchedule yields the one-time registration fee for a plan, in kobo.
type FeeSchedule interface {
	RegistrationFee(plan domain.Plan) (int64, error)
}

// Reconciler settles payments against gateway results. It is the only code
// path that credits an account for a gateway payment.
type Reconciler struct {
	ledger   store.Ledger
	gateways gateway.Registry
	fees     FeeSchedule
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewReconciler(ledger store.Ledger, gateways gateway.Registry, fees FeeSchedule, logger *slog.Logger, gatewayTimeout time.Duration) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		gateways: gateways,
		fees:     fees,
		logger:   logger,
		timeout:  gatewayTimeout,
		now:      time.Now,
	}
}

// Verify asks the payment's gateway for its status and reconciles the answer.
// Terminal payments are replayed without calling the gateway. Gateway errors
// and timeouts surface as ErrGatewayUnavailable and leave the payment pending.
func (r *Reconciler) Verify(ctx context.Context, reference string) (domain.Outcome, error) {
	p, err := r.ledger.GetPayment(ctx, reference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Outcome{}, ErrUnknownPayment
		}
		return domain.Outcome{}, fmt.Errorf("load payment: %w", err)
	}
	if p.Status.Terminal() {
		out := p.Outcome()
		out.Replayed = true
		r.count(out)
		return out, nil
	}

	verifier, err := r.gateways.Lookup(p.Provider)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	vctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	result, err := verifier.Verify(vctx, reference)
	if err != nil {
		r.logger.Warn("gateway verification failed",
			"reference", reference, "provider", p.Provider, "error", err)
		return domain.Outcome{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return r.Reconcile(ctx, reference, result)
}

// Reconcile applies a gateway result to the payment identified by reference.
// Every write happens in one ledger transaction holding the payment row lock,
// so concurrent calls for one reference credit at most once; the losers see a
// terminal payment and replay its recorded outcome.
func (r *Reconciler) Reconcile(ctx context.Context, reference string, result domain.GatewayResult) (domain.Outcome, error) {
	if result == nil {
		return domain.Outcome{}, fmt.Errorf("%w: nil gateway result", ErrGatewayUnavailable)
	}

	var out domain.Outcome
	var event *domain.PaymentEvent

	err := r.ledger.WithinTx(ctx, func(tx store.Tx) error {
		out, event = domain.Outcome{}, nil

		p, err := tx.LockPayment(ctx, reference)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUnknownPayment
			}
			return ledgerErr("lock payment", err)
		}
		if p.Status.Terminal() {
			out = p.Outcome()
			out.Replayed = true
			return nil
		}

		switch res := result.(type) {
		case domain.Pending:
			out = domain.Outcome{Kind: domain.OutcomeStillPending, Reference: reference}
			return nil
		case domain.Failed:
			r.logger.Info("gateway declined payment", "reference", reference, "detail", res.Reason)
			p.FailureDetail = res.Reason
			out, event, err = r.fail(ctx, tx, p, 0, domain.ReasonGatewayDeclined, "")
			return err
		case domain.Succeeded:
			out, event, err = r.succeed(ctx, tx, p, res)
			return err
		default:
			return fmt.Errorf("%w: unexpected gateway result %T", ErrGatewayUnavailable, result)
		}
	})
	if err != nil {
		if errors.Is(err, ErrUnknownPayment) || errors.Is(err, ErrGatewayUnavailable) ||
			errors.Is(err, ErrLedgerWrite) || errors.Is(err, ErrFeeSchedule) {
			return domain.Outcome{}, err
		}
		return domain.Outcome{}, ledgerErr("commit", err)
	}

	r.count(out)
	if event != nil {
		r.logger.Info("payment reconciled",
			"reference", reference,
			"outcome", out.Kind,
			"reason", out.Reason,
			"credit", out.CreditAmount,
			"fee", out.FeeDeducted)
		r.audit(ctx, out)
	}
	return out, nil
}

func (r *Reconciler) succeed(ctx context.Context, tx store.Tx, p *domain.PendingPayment, res domain.Succeeded) (domain.Outcome, *domain.PaymentEvent, error) {
	received := res.AmountReceived
	if received < p.Amount || (res.Currency != "" && res.Currency != p.Currency) {
		return r.fail(ctx, tx, p, received, domain.ReasonAmountMismatch, res.GatewayReference)
	}

	user, _, err := tx.LockAccountOwner(ctx, p.AccountID)
	if err != nil {
		return domain.Outcome{}, nil, ledgerErr("lock account owner", err)
	}

	var fee int64
	if !user.RegistrationPaid {
		fee, err = r.fees.RegistrationFee(user.Plan)
		if err != nil {
			return domain.Outcome{}, nil, fmt.Errorf("%w: %v", ErrFeeSchedule, err)
		}
		if received < fee {
			return r.fail(ctx, tx, p, received, domain.ReasonInsufficientForRegistration, res.GatewayReference)
		}
	}
	credit := received - fee

	if credit > 0 {
		if _, err := tx.CreditAccount(ctx, p.AccountID, credit); err != nil {
			return domain.Outcome{}, nil, ledgerErr("credit account", err)
		}
	}

	now := r.now().UTC()
	p.Status = domain.StatusSuccessful
	p.AmountReceived = received
	p.CreditedAmount = credit
	p.FeeDeducted = fee
	p.GatewayReference = res.GatewayReference
	p.VerifiedAt = &now
	if err := tx.SettlePayment(ctx, p); err != nil {
		return domain.Outcome{}, nil, ledgerErr("settle payment", err)
	}

	if !user.RegistrationPaid {
		if err := tx.MarkRegistrationPaid(ctx, user.ID); err != nil {
			return domain.Outcome{}, nil, ledgerErr("registration latch", err)
		}
	}

	if err := tx.AppendNotification(ctx, user.ID, creditMessage(received, credit, fee)); err != nil {
		return domain.Outcome{}, nil, ledgerErr("notification", err)
	}

	event := &domain.PaymentEvent{
		Reference:    p.Reference,
		AccountID:    p.AccountID,
		UserID:       user.ID,
		Status:       p.Status,
		CreditAmount: credit,
		FeeDeducted:  fee,
		OccurredAt:   now,
	}
	if err := enqueue(ctx, tx, domain.EventPaymentSucceeded, event); err != nil {
		return domain.Outcome{}, nil, err
	}

	return p.Outcome(), event, nil
}

// fail moves p to failed with reason. It needs the account owner only for the
// event payload.
func (r *Reconciler) fail(ctx context.Context, tx store.Tx, p *domain.PendingPayment, received int64, reason domain.FailureReason, gatewayRef string) (domain.Outcome, *domain.PaymentEvent, error) {
	user, _, err := tx.LockAccountOwner(ctx, p.AccountID)
	if err != nil {
		return domain.Outcome{}, nil, ledgerErr("lock account owner", err)
	}

	now := r.now().UTC()
	p.Status = domain.StatusFailed
	p.AmountReceived = received
	p.FailureReason = reason
	p.GatewayReference = gatewayRef
	p.VerifiedAt = &now
	if err := tx.SettlePayment(ctx, p); err != nil {
		return domain.Outcome{}, nil, ledgerErr("settle payment", err)
	}

	event := &domain.PaymentEvent{
		Reference:  p.Reference,
		AccountID:  p.AccountID,
		UserID:     user.ID,
		Status:     p.Status,
		Reason:     reason,
		OccurredAt: now,
	}
	if err := enqueue(ctx, tx, domain.EventPaymentFailed, event); err != nil {
		return domain.Outcome{}, nil, err
	}
	return p.Outcome(), event, nil
}

// audit records the outcome after commit. It is the one write allowed to fail
// without failing the reconciliation.
func (r *Reconciler) audit(ctx context.Context, out domain.Outcome) {
	if err := r.ledger.RecordAudit(ctx, out); err != nil {
		auditFailures.Inc()
		r.logger.Error("audit write failed; reconciliation already committed",
			"reference", out.Reference, "error", err)
	}
}

func (r *Reconciler) count(out domain.Outcome) {
	reconcileTotal.WithLabelValues(string(out.Kind), string(out.Reason), fmt.Sprint(out.Replayed)).Inc()
}

// OutcomeErr converts a failed outcome into its business error. Other outcomes
// return nil.
func OutcomeErr(out domain.Outcome) error {
	if out.Kind != domain.OutcomeFailed {
		return nil
	}
	switch out.Reason {
	case domain.ReasonAmountMismatch:
		return ErrAmountMismatch
	case domain.ReasonInsufficientForRegistration:
		return ErrInsufficientForRegistration
	default:
		return ErrPaymentDeclined
	}
}

func enqueue(ctx context.Context, tx store.Tx, eventType string, event *domain.PaymentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return ledgerErr("marshal event", err)
	}
	if err := tx.EnqueueEvent(ctx, eventType, payload); err != nil {
		return ledgerErr("enqueue event", err)
	}
	return nil
}

func creditMessage(received, credit, fee int64) string {
	if fee > 0 {
		return fmt.Sprintf("Wallet credited with %s (%s registration fee deducted from %s)",
			domain.FormatNaira(credit), domain.FormatNaira(fee), domain.FormatNaira(received))
	}
	return fmt.Sprintf("Wallet credited with %s", domain.FormatNaira(credit))
}

func ledgerErr(step string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrLedgerWrite, step, err)
}
