// Package api exposes payment verification, top-ups and wallet reads over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/thriftpay/internal/domain"
	"github.com/punchamoorthee/thriftpay/internal/models"
	"github.com/punchamoorthee/thriftpay/internal/store"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thrift_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "thrift_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "endpoint"})
)

// PaymentVerifier reconciles a payment reference against its gateway.
type PaymentVerifier interface {
	Verify(ctx context.Context, reference string) (domain.Outcome, error)
}

// TopUpOpener opens new top-ups under an idempotency key.
type TopUpOpener interface {
	Initialize(ctx context.Context, req models.TopUpRequest, idempotencyKey, reqHash string) (*models.TopUpResponse, *domain.IdempotencyRecord, error)
}

// SignatureVerifier authenticates gateway webhook bodies.
type SignatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// HealthProber reports whether a dependency is reachable.
type HealthProber interface {
	Probe(ctx context.Context) error
}

type Handler struct {
	ledger   store.Ledger
	payments PaymentVerifier
	topups   TopUpOpener
	paystack SignatureVerifier
	logger   *slog.Logger
}

func NewHandler(logger *slog.Logger, ledger store.Ledger, payments PaymentVerifier, topups TopUpOpener, paystack SignatureVerifier) *Handler {
	return &Handler{
		ledger:   ledger,
		payments: payments,
		topups:   topups,
		paystack: paystack,
		logger:   logger,
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, models.ErrorResponse{Error: msg}, method, endpoint)
}

// replay writes a stored idempotent response verbatim.
func (h *Handler) replay(w http.ResponseWriter, rec *domain.IdempotencyRecord, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(rec.ResponseStatus)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(rec.ResponseStatus)
	w.Write(rec.ResponseBody)
}
