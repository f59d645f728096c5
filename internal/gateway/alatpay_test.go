package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/punchamoorthee/thriftpay/internal/config"
	"github.com/punchamoorthee/thriftpay/internal/domain"
)

func TestALATPayVerify(t *testing.T) {
	cases := []struct {
		name    string
		code    int
		body    string
		want    domain.GatewayResult
		wantErr error
	}{
		{
			name: "completed with bool status",
			code: http.StatusOK,
			body: `{"status":true,"data":{"status":"completed","amount":5000,"orderId":"TOPUP-1","transactionId":"tx-9"}}`,
			want: domain.Succeeded{AmountReceived: 500000, Currency: "NGN", GatewayReference: "tx-9"},
		},
		{
			name: "successful with string status and kobo fraction",
			code: http.StatusOK,
			body: `{"status":"success","data":{"status":"Successful","amount":"2500.50","currency":"ngn","transactionId":"tx-1"}}`,
			want: domain.Succeeded{AmountReceived: 250050, Currency: "NGN", GatewayReference: "tx-1"},
		},
		{
			name: "failed",
			code: http.StatusOK,
			body: `{"status":true,"data":{"status":"Failed","statusMessage":"Insufficient funds","amount":5000}}`,
			want: domain.Failed{Reason: "Insufficient funds"},
		},
		{
			name: "pending",
			code: http.StatusOK,
			body: `{"status":true,"data":{"status":"pending","amount":5000}}`,
			want: domain.Pending{},
		},
		{
			name: "not found",
			code: http.StatusNotFound,
			body: ``,
			want: domain.Pending{},
		},
		{
			name:    "sub-kobo amount",
			code:    http.StatusOK,
			body:    `{"status":true,"data":{"status":"completed","amount":10.001}}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "amount beyond int64 kobo",
			code:    http.StatusOK,
			body:    `{"status":true,"data":{"status":"completed","amount":"184467440737095516.17"}}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "order mismatch",
			code:    http.StatusOK,
			body:    `{"status":true,"data":{"status":"completed","amount":10,"orderId":"TOPUP-2"}}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "status false",
			code:    http.StatusOK,
			body:    `{"status":false,"message":"Transaction not found"}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "unknown status",
			code:    http.StatusOK,
			body:    `{"status":true,"data":{"status":"weird","amount":10}}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "gateway down",
			code:    http.StatusServiceUnavailable,
			body:    ``,
			wantErr: ErrUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Ocp-Apim-Subscription-Key") != "sub-key" {
					t.Errorf("missing subscription key")
				}
				if r.URL.Path != "/alatpaytransaction/api/v1/transactions/TOPUP-1" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tc.code)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			a := NewALATPay(config.ALATPayConfig{BaseURL: srv.URL, SubscriptionKey: "sub-key"}, srv.Client(), time.Second)
			got, err := a.Verify(context.Background(), "TOPUP-1")
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

func TestALATPayUnreachable(t *testing.T) {
	a := NewALATPay(config.ALATPayConfig{BaseURL: "http://127.0.0.1:1"}, nil, 100*time.Millisecond)
	if _, err := a.Verify(context.Background(), "TOPUP-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
