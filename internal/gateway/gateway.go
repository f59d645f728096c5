// Package gateway adapts payment-gateway verification APIs to
// domain.GatewayResult. Anything a gateway says that cannot be mapped with
// certainty is reported as an error, never as a success.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/thriftpay/internal/domain"
)

var (
	// ErrUnavailable covers transport errors, timeouts and gateway-side
	// failures. Nothing was learned about the payment; retrying is safe.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrMalformedResponse means the gateway answered with a body that does
	// not match its documented shape.
	ErrMalformedResponse = errors.New("malformed gateway response")
	// ErrRejected means the gateway explicitly refused an initialization.
	ErrRejected = errors.New("gateway rejected request")
	// ErrUnsupportedProvider is returned by Registry lookups.
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
)

var verifyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "thrift_gateway_verify_duration_seconds",
	Help:    "Latency of gateway verification calls",
	Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"provider", "result"})

// Verifier asks a gateway what happened to a payment reference.
type Verifier interface {
	Provider() domain.Provider
	Verify(ctx context.Context, reference string) (domain.GatewayResult, error)
}

// CheckoutRequest is what a gateway needs to start collecting a payment.
type CheckoutRequest struct {
	Reference string
	Amount    int64 // kobo
	Currency  string
	Email     string
	Metadata  map[string]any
}

// Checkout is where the payer completes the payment.
type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
	Reference        string `json:"reference"`
}

// Initializer is implemented by gateways that hand out hosted checkout pages.
type Initializer interface {
	Initialize(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

// Registry resolves the verifier for a payment's provider.
type Registry map[domain.Provider]Verifier

// NewRegistry indexes verifiers by their provider.
func NewRegistry(verifiers ...Verifier) Registry {
	r := make(Registry, len(verifiers))
	for _, v := range verifiers {
		r[v.Provider()] = v
	}
	return r
}

func (r Registry) Lookup(p domain.Provider) (Verifier, error) {
	v, ok := r[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, p)
	}
	return v, nil
}

// Initializer returns the provider's initializer when it has one.
func (r Registry) Initializer(p domain.Provider) (Initializer, bool) {
	v, ok := r[p]
	if !ok {
		return nil, false
	}
	init, ok := v.(Initializer)
	return init, ok
}

func observe(provider domain.Provider, start time.Time, res domain.GatewayResult, err error) {
	label := "error"
	switch res.(type) {
	case domain.Succeeded:
		label = "succeeded"
	case domain.Failed:
		label = "failed"
	case domain.Pending:
		label = "pending"
	}
	if err != nil {
		label = "error"
	}
	verifyDuration.WithLabelValues(string(provider), label).Observe(time.Since(start).Seconds())
}

// serverSide reports whether an HTTP status means the gateway itself could not
// answer, as opposed to answering about the payment.
func serverSide(code int) bool {
	return code >= http.StatusInternalServerError ||
		code == http.StatusTooManyRequests ||
		code == http.StatusUnauthorized ||
		code == http.StatusForbidden
}

func unavailable(provider domain.Provider, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, provider, err)
}

func malformed(provider domain.Provider, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedResponse, provider, fmt.Sprintf(format, args...))
}
