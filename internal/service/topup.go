package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/thriftpay/internal/domain"
	"github.com/punchamoorthee/thriftpay/internal/gateway"
	"github.com/punchamoorthee/thriftpay/internal/models"
	"github.com/punchamoorthee/thriftpay/internal/store"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrBelowRegistrationFee = errors.New("first top-up must cover the registration fee")
	ErrEmailRequired        = errors.New("email is required for this provider")
	ErrInitializationFailed = errors.New("gateway refused to open the payment")
	ErrIdempotencyConflict  = errors.New("request in progress")
	ErrIdempotencyMismatch  = errors.New("key reuse with mismatched payload")
)

// TopUpLedger is the storage a top-up needs.
type TopUpLedger interface {
	store.Ledger
	store.IdempotencyStore
}

// TopUpService opens pending payments that the Reconciler later settles. It
// never credits an account itself.
type TopUpService struct {
	ledger   TopUpLedger
	gateways gateway.Registry
	fees     FeeSchedule
	logger   *slog.Logger
	timeout  time.Duration
}

func NewTopUpService(ledger TopUpLedger, gateways gateway.Registry, fees FeeSchedule, logger *slog.Logger, gatewayTimeout time.Duration) *TopUpService {
	return &TopUpService{
		ledger:   ledger,
		gateways: gateways,
		fees:     fees,
		logger:   logger,
		timeout:  gatewayTimeout,
	}
}

// NewReference returns a fresh payment reference of the form TOPUP-<16 hex>.
func NewReference() string {
	id := uuid.New()
	return "TOPUP-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:16])
}

// Initialize opens a top-up under idempotencyKey. A key seen before returns
// its stored record instead of a response; callers replay it verbatim.
func (s *TopUpService) Initialize(ctx context.Context, req models.TopUpRequest, idempotencyKey, reqHash string) (*models.TopUpResponse, *domain.IdempotencyRecord, error) {
	existing, err := s.ledger.ReserveIdempotencyKey(ctx, idempotencyKey, reqHash)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return nil, nil, ErrIdempotencyConflict
		case errors.Is(err, store.ErrIdempotencyMismatch):
			return nil, nil, ErrIdempotencyMismatch
		}
		return nil, nil, fmt.Errorf("idempotency reservation failed: %w", err)
	}
	if existing != nil {
		return nil, existing, nil
	}

	resp, err := s.open(ctx, req)
	if err != nil {
		if rerr := s.ledger.ReleaseIdempotencyKey(context.WithoutCancel(ctx), idempotencyKey); rerr != nil {
			s.logger.Error("release idempotency key", "key", idempotencyKey, "error", rerr)
		}
		return nil, nil, err
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ledger.CompleteIdempotencyKey(ctx, idempotencyKey, http.StatusCreated, body); err != nil {
		return nil, nil, fmt.Errorf("idempotency update failed: %w", err)
	}
	return resp, nil, nil
}

func (s *TopUpService) open(ctx context.Context, req models.TopUpRequest) (*models.TopUpResponse, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Provider == "" {
		req.Provider = domain.ProviderPaystack
	}
	if _, err := s.gateways.Lookup(req.Provider); err != nil {
		return nil, err
	}

	account, err := s.ledger.GetAccount(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	user, err := s.ledger.GetUser(ctx, account.UserID)
	if err != nil {
		return nil, fmt.Errorf("load account owner: %w", err)
	}

	var fee int64
	if !user.RegistrationPaid {
		fee, err = s.fees.RegistrationFee(user.Plan)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFeeSchedule, err)
		}
		if req.Amount < fee {
			return nil, fmt.Errorf("%w of %s", ErrBelowRegistrationFee, domain.FormatNaira(fee))
		}
	}

	initializer, hosted := s.gateways.Initializer(req.Provider)
	if hosted && req.Email == "" {
		return nil, ErrEmailRequired
	}

	p := &domain.PendingPayment{
		Reference: NewReference(),
		AccountID: account.ID,
		Provider:  req.Provider,
		Amount:    req.Amount,
		Currency:  domain.CurrencyNGN,
	}
	if err := s.ledger.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	resp := &models.TopUpResponse{
		Reference:       p.Reference,
		AccountID:       p.AccountID,
		Provider:        p.Provider,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          domain.StatusPending,
		RegistrationFee: fee,
	}
	if !hosted {
		return resp, nil
	}

	ictx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	checkout, err := initializer.Initialize(ictx, gateway.CheckoutRequest{
		Reference: p.Reference,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Email:     req.Email,
		Metadata:  map[string]any{"account_id": p.AccountID, "user_id": user.ID},
	})
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			s.abandon(ctx, p.Reference, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrInitializationFailed, err)
		}
		// The gateway may still have opened the transaction; leave the
		// payment pending so verification can settle it.
		s.logger.Warn("checkout initialization did not complete",
			"reference", p.Reference, "provider", p.Provider, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	resp.AuthorizationURL = checkout.AuthorizationURL
	resp.AccessCode = checkout.AccessCode
	return resp, nil
}

// abandon fails a payment the gateway refused to open.
func (s *TopUpService) abandon(ctx context.Context, reference, detail string) {
	err := s.ledger.WithinTx(ctx, func(tx store.Tx) error {
		p, err := tx.LockPayment(ctx, reference)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		p.Status = domain.StatusFailed
		p.FailureReason = domain.ReasonInitializationFailed
		p.FailureDetail = detail
		p.VerifiedAt = &now
		return tx.SettlePayment(ctx, p)
	})
	if err != nil && !errors.Is(err, store.ErrNotPending) {
		s.logger.Error("mark payment failed after initialization", "reference", reference, "error", err)
	}
}
