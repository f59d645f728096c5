package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/punchamoorthee/thriftpay/internal/config"
	"github.com/punchamoorthee/thriftpay/internal/domain"
	"github.com/punchamoorthee/thriftpay/internal/gateway"
	"github.com/punchamoorthee/thriftpay/internal/logging"
	"github.com/punchamoorthee/thriftpay/internal/models"
	"github.com/punchamoorthee/thriftpay/internal/store"
)

var referencePattern = regexp.MustCompile(`^TOPUP-[0-9A-F]{16}$`)

func newTopUpFixture(t *testing.T, registered bool, handler http.HandlerFunc) (*TopUpService, *store.Memory, *domain.Account) {
	t.Helper()
	ctx := context.Background()

	m := store.NewMemory()
	u := &domain.User{FullName: "Bisi Ade", Plan: domain.PlanB, RegistrationPaid: registered}
	if err := m.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	a := &domain.Account{UserID: u.ID, Number: "0000000002"}
	if err := m.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	registry := gateway.NewRegistry(
		gateway.NewPaystack(config.PaystackConfig{SecretKey: "sk_test", BaseURL: srv.URL}, srv.Client(), time.Second),
		gateway.NewALATPay(config.ALATPayConfig{BaseURL: srv.URL}, srv.Client(), time.Second),
	)
	svc := NewTopUpService(m, registry, config.DefaultFeeSchedule(), logging.Discard(), 100*time.Millisecond)
	return svc, m, a
}

func checkoutOK(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	ref, _ := body["reference"].(string)
	w.Write([]byte(`{"status":true,"data":{"authorization_url":"https://checkout.paystack.com/x","access_code":"x","reference":"` + ref + `"}}`))
}

func TestNewReference(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ref := NewReference()
		if !referencePattern.MatchString(ref) {
			t.Fatalf("bad reference %q", ref)
		}
		if seen[ref] {
			t.Fatalf("duplicate reference %q", ref)
		}
		seen[ref] = true
	}
}

func TestTopUpOpensPendingPayment(t *testing.T) {
	svc, m, a := newTopUpFixture(t, false, checkoutOK)

	resp, existing, err := svc.Initialize(context.Background(),
		models.TopUpRequest{AccountID: a.ID, Amount: 500000, Email: "bisi@example.com"}, "key-1", "hash-1")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if existing != nil {
		t.Fatal("fresh key must not replay")
	}
	if !referencePattern.MatchString(resp.Reference) || resp.AuthorizationURL == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.RegistrationFee != config.DefaultRegistrationFee || resp.Provider != domain.ProviderPaystack {
		t.Fatalf("unexpected response %+v", resp)
	}

	p, err := m.GetPayment(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if p.Status != domain.StatusPending || p.Amount != 500000 {
		t.Fatalf("unexpected payment %+v", p)
	}
	if acct, _ := m.GetAccount(context.Background(), a.ID); acct.Balance != 0 {
		t.Fatal("opening a top-up must not credit")
	}

	_, replay, err := svc.Initialize(context.Background(),
		models.TopUpRequest{AccountID: a.ID, Amount: 500000, Email: "bisi@example.com"}, "key-1", "hash-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay == nil || replay.ResponseStatus != http.StatusCreated {
		t.Fatalf("expected stored response, got %+v", replay)
	}
	var stored models.TopUpResponse
	if err := json.Unmarshal(replay.ResponseBody, &stored); err != nil || stored.Reference != resp.Reference {
		t.Fatalf("replayed body %s does not match %s", replay.ResponseBody, resp.Reference)
	}

	if _, _, err := svc.Initialize(context.Background(), models.TopUpRequest{AccountID: a.ID, Amount: 1}, "key-1", "hash-2"); !errors.Is(err, ErrIdempotencyMismatch) {
		t.Fatalf("expected ErrIdempotencyMismatch, got %v", err)
	}
}

func TestTopUpValidation(t *testing.T) {
	cases := []struct {
		name       string
		registered bool
		req        func(accountID int64) models.TopUpRequest
		want       error
	}{
		{
			name: "zero amount",
			req:  func(id int64) models.TopUpRequest { return models.TopUpRequest{AccountID: id, Email: "a@b.c"} },
			want: ErrInvalidAmount,
		},
		{
			name: "below registration fee",
			req: func(id int64) models.TopUpRequest {
				return models.TopUpRequest{AccountID: id, Amount: 100000, Email: "a@b.c"}
			},
			want: ErrBelowRegistrationFee,
		},
		{
			name: "unknown account",
			req: func(id int64) models.TopUpRequest {
				return models.TopUpRequest{AccountID: id + 100, Amount: 500000, Email: "a@b.c"}
			},
			want: ErrAccountNotFound,
		},
		{
			name:       "missing email",
			registered: true,
			req:        func(id int64) models.TopUpRequest { return models.TopUpRequest{AccountID: id, Amount: 100} },
			want:       ErrEmailRequired,
		},
		{
			name:       "unsupported provider",
			registered: true,
			req: func(id int64) models.TopUpRequest {
				return models.TopUpRequest{AccountID: id, Amount: 100, Provider: "flutterwave"}
			},
			want: gateway.ErrUnsupportedProvider,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, a := newTopUpFixture(t, tc.registered, checkoutOK)
			_, _, err := svc.Initialize(context.Background(), tc.req(a.ID), "key", "hash")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}

			// The key is released, so a corrected request may reuse it.
			_, _, err = svc.Initialize(context.Background(),
				models.TopUpRequest{AccountID: a.ID, Amount: 500000, Email: "a@b.c"}, "key", "hash-fixed")
			if errors.Is(err, ErrIdempotencyMismatch) {
				t.Fatal("failed request kept its idempotency key")
			}
		})
	}
}

func TestTopUpRegisteredUserBelowFee(t *testing.T) {
	svc, _, a := newTopUpFixture(t, true, checkoutOK)
	resp, _, err := svc.Initialize(context.Background(),
		models.TopUpRequest{AccountID: a.ID, Amount: 10000, Email: "a@b.c"}, "key", "hash")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if resp.RegistrationFee != 0 {
		t.Fatalf("registered users owe no fee, got %d", resp.RegistrationFee)
	}
}

func TestTopUpClientSideCheckout(t *testing.T) {
	svc, m, a := newTopUpFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("alatpay top-ups must not call the gateway, got %s", r.URL.Path)
	})
	resp, _, err := svc.Initialize(context.Background(),
		models.TopUpRequest{AccountID: a.ID, Amount: 10000, Provider: domain.ProviderALATPay}, "key", "hash")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if resp.AuthorizationURL != "" {
		t.Fatalf("unexpected checkout url %q", resp.AuthorizationURL)
	}
	if p, err := m.GetPayment(context.Background(), resp.Reference); err != nil || p.Provider != domain.ProviderALATPay {
		t.Fatalf("payment not recorded: %+v %v", p, err)
	}
}

func TestTopUpGatewayRejectionFailsPayment(t *testing.T) {
	svc, m, a := newTopUpFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":false,"message":"Invalid email"}`))
	})
	_, _, err := svc.Initialize(context.Background(),
		models.TopUpRequest{AccountID: a.ID, Amount: 10000, Email: "bad"}, "key", "hash")
	if !errors.Is(err, ErrInitializationFailed) {
		t.Fatalf("expected ErrInitializationFailed, got %v", err)
	}

	p := onlyPayment(t, m, a.ID)
	if p.Status != domain.StatusFailed || p.FailureReason != domain.ReasonInitializationFailed {
		t.Fatalf("expected failed payment, got %+v", p)
	}
	if !strings.Contains(p.FailureDetail, "Invalid email") {
		t.Fatalf("gateway message not recorded, got %q", p.FailureDetail)
	}
}

func TestTopUpGatewayTimeoutLeavesPending(t *testing.T) {
	svc, m, a := newTopUpFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	_, _, err := svc.Initialize(context.Background(),
		models.TopUpRequest{AccountID: a.ID, Amount: 10000, Email: "a@b.c"}, "key", "hash")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if p := onlyPayment(t, m, a.ID); p.Status != domain.StatusPending {
		t.Fatalf("expected pending payment, got %s", p.Status)
	}
}

// onlyPayment returns the single top-up opened for accountID.
func onlyPayment(t *testing.T, m *store.Memory, accountID int64) *domain.PendingPayment {
	t.Helper()
	payments := m.Payments()
	var found []*domain.PendingPayment
	for i := range payments {
		if payments[i].AccountID == accountID && strings.HasPrefix(payments[i].Reference, "TOPUP-") {
			found = append(found, &payments[i])
		}
	}
	if len(found) != 1 {
		t.Fatalf("expected one payment, got %d", len(found))
	}
	return found[0]
}
