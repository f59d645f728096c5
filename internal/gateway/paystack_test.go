package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/punchamoorthee/thriftpay/internal/config"
	"github.com/punchamoorthee/thriftpay/internal/domain"
)

func newPaystackServer(t *testing.T, code int, body string) (*Paystack, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	p := NewPaystack(config.PaystackConfig{SecretKey: "sk_test", BaseURL: srv.URL + "/"}, srv.Client(), time.Second)
	return p, srv
}

func TestPaystackVerify(t *testing.T) {
	cases := []struct {
		name    string
		code    int
		body    string
		want    domain.GatewayResult
		wantErr error
	}{
		{
			name: "success",
			code: http.StatusOK,
			body: `{"status":true,"message":"Verification successful","data":{"id":42,"status":"success","reference":"TOPUP-1","amount":500000,"currency":"ngn"}}`,
			want: domain.Succeeded{AmountReceived: 500000, Currency: "NGN", GatewayReference: "42"},
		},
		{
			name: "failed",
			code: http.StatusOK,
			body: `{"status":true,"data":{"id":1,"status":"failed","reference":"TOPUP-1","amount":500000,"gateway_response":"Declined"}}`,
			want: domain.Failed{Reason: "Declined"},
		},
		{
			name: "abandoned is pending",
			code: http.StatusOK,
			body: `{"status":true,"data":{"id":1,"status":"abandoned","reference":"TOPUP-1","amount":500000}}`,
			want: domain.Pending{},
		},
		{
			name: "unknown reference is pending",
			code: http.StatusBadRequest,
			body: `{"status":false,"message":"Transaction reference not found"}`,
			want: domain.Pending{},
		},
		{
			name:    "unknown status",
			code:    http.StatusOK,
			body:    `{"status":true,"data":{"status":"mystery","reference":"TOPUP-1","amount":1}}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "success without amount",
			code:    http.StatusOK,
			body:    `{"status":true,"data":{"status":"success","reference":"TOPUP-1"}}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "reference mismatch",
			code:    http.StatusOK,
			body:    `{"status":true,"data":{"status":"success","reference":"OTHER","amount":1}}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "not json",
			code:    http.StatusOK,
			body:    `<html>gateway error</html>`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "status false with 200",
			code:    http.StatusOK,
			body:    `{"status":false,"message":"Invalid key"}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "server error",
			code:    http.StatusBadGateway,
			body:    `{}`,
			wantErr: ErrUnavailable,
		},
		{
			name:    "bad credentials",
			code:    http.StatusUnauthorized,
			body:    `{"status":false}`,
			wantErr: ErrUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newPaystackServer(t, tc.code, tc.body)
			got, err := p.Verify(context.Background(), "TOPUP-1")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got result %v err %v", tc.wantErr, got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %#v, got %#v", tc.want, got)
			}
		})
	}
}

func TestPaystackVerifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := NewPaystack(config.PaystackConfig{SecretKey: "sk_test", BaseURL: srv.URL}, nil, 50*time.Millisecond)
	_, err := p.Verify(context.Background(), "TOPUP-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on timeout, got %v", err)
	}
}

func TestPaystackInitialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body paystackInitRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Amount != 500000 || body.Reference != "TOPUP-1" || body.CallbackURL != "https://app.test/cb" {
			t.Errorf("unexpected init body %+v", body)
		}
		w.Write([]byte(`{"status":true,"data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"TOPUP-1"}}`))
	}))
	defer srv.Close()

	p := NewPaystack(config.PaystackConfig{SecretKey: "sk_test", BaseURL: srv.URL, CallbackURL: "https://app.test/cb"}, srv.Client(), time.Second)
	checkout, err := p.Initialize(context.Background(), CheckoutRequest{Reference: "TOPUP-1", Amount: 500000, Currency: "NGN", Email: "a@b.c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checkout.AuthorizationURL != "https://checkout.paystack.com/abc" {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
}

func TestPaystackInitializeRejected(t *testing.T) {
	p, _ := newPaystackServer(t, http.StatusBadRequest, `{"status":false,"message":"Duplicate Transaction Reference"}`)
	_, err := p.Initialize(context.Background(), CheckoutRequest{Reference: "TOPUP-1", Amount: 1})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestPaystackVerifySignature(t *testing.T) {
	p := NewPaystack(config.PaystackConfig{SecretKey: "sk_test"}, nil, time.Second)
	body := []byte(`{"event":"charge.success","data":{"reference":"TOPUP-1"}}`)

	mac := hmac.New(sha512.New, []byte("sk_test"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if !p.VerifySignature(body, sig) {
		t.Fatal("expected valid signature")
	}
	if p.VerifySignature(body, "deadbeef") {
		t.Fatal("expected invalid signature")
	}
	if p.VerifySignature(append(body, ' '), sig) {
		t.Fatal("expected tampered body to fail")
	}
}

func TestRegistry(t *testing.T) {
	p := NewPaystack(config.PaystackConfig{}, nil, time.Second)
	a := NewALATPay(config.ALATPayConfig{}, nil, time.Second)
	r := NewRegistry(p, a)

	if v, err := r.Lookup(domain.ProviderALATPay); err != nil || v.Provider() != domain.ProviderALATPay {
		t.Fatalf("lookup alatpay: %v %v", v, err)
	}
	if _, err := r.Lookup("stripe"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected unsupported provider, got %v", err)
	}
	if _, ok := r.Initializer(domain.ProviderPaystack); !ok {
		t.Fatal("paystack should support initialization")
	}
	if _, ok := r.Initializer(domain.ProviderALATPay); ok {
		t.Fatal("alatpay checkout is client-side")
	}
}
