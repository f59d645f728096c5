package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/punchamoorthee/thriftpay/internal/domain"
	"github.com/punchamoorthee/thriftpay/internal/gateway"
	"github.com/punchamoorthee/thriftpay/internal/models"
	"github.com/punchamoorthee/thriftpay/internal/service"
	"github.com/punchamoorthee/thriftpay/internal/store"
)

const (
	maxBodyBytes             = 1 << 20
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
)

// VerifyPayment reconciles a reference with its gateway. Succeeded outcomes,
// fresh or replayed, answer 200; pending answers 202; business failures 400.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/payments/{reference}/verify"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	reference := mux.Vars(r)["reference"]
	out, err := h.payments.Verify(r.Context(), reference)
	if err != nil {
		code, msg := h.verifyError(err, reference)
		h.respondError(w, code, msg, "POST", endpoint)
		return
	}
	h.respondJSON(w, outcomeStatus(out), models.VerifyResponse{Outcome: out, Message: outcomeMessage(out)}, "POST", endpoint)
}

// CreateTopUp opens a pending payment. The Idempotency-Key header is required;
// a retried key with the same body replays the first response.
func (h *Handler) CreateTopUp(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/topups"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		h.respondError(w, http.StatusBadRequest, "Missing Idempotency-Key header", "POST", endpoint)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Unreadable request body", "POST", endpoint)
		return
	}
	hash := sha256.Sum256(body)
	reqHash := hex.EncodeToString(hash[:])

	var req models.TopUpRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if req.Amount <= 0 {
		h.respondError(w, http.StatusUnprocessableEntity, "Positive amount required", "POST", endpoint)
		return
	}

	resp, existing, err := h.topups.Initialize(r.Context(), req, idemKey, reqHash)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIdempotencyConflict):
			h.respondError(w, http.StatusConflict, "Request processing in progress", "POST", endpoint)
		case errors.Is(err, service.ErrIdempotencyMismatch):
			h.respondError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload", "POST", endpoint)
		case errors.Is(err, service.ErrAccountNotFound):
			h.respondError(w, http.StatusNotFound, "Account not found", "POST", endpoint)
		case errors.Is(err, service.ErrInvalidAmount),
			errors.Is(err, service.ErrBelowRegistrationFee),
			errors.Is(err, service.ErrEmailRequired),
			errors.Is(err, gateway.ErrUnsupportedProvider):
			h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", endpoint)
		case errors.Is(err, service.ErrInitializationFailed):
			h.logger.Warn("top-up initialization rejected", "account_id", req.AccountID, "error", err)
			h.respondError(w, http.StatusBadGateway, "Payment gateway refused the payment", "POST", endpoint)
		case errors.Is(err, service.ErrGatewayUnavailable):
			h.respondError(w, http.StatusBadGateway, "Payment gateway unavailable, try again later", "POST", endpoint)
		default:
			h.logger.Error("create top-up failed", "account_id", req.AccountID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", endpoint)
		}
		return
	}

	if existing != nil {
		h.replay(w, existing, "POST", endpoint)
		return
	}

	w.Header().Set("Location", "/payments/"+resp.Reference)
	h.respondJSON(w, http.StatusCreated, resp, "POST", endpoint)
}

// Webhook accepts gateway callbacks. The callback only names the reference;
// its status is ignored and the gateway is asked directly.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/webhooks/{provider}"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	provider := domain.Provider(mux.Vars(r)["provider"])
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Unreadable request body", "POST", endpoint)
		return
	}

	switch provider {
	case domain.ProviderPaystack:
		if h.paystack == nil || !h.paystack.VerifySignature(body, r.Header.Get(gateway.PaystackSignatureHeader)) {
			h.logger.Warn("rejected webhook with bad signature", "provider", provider)
			h.respondError(w, http.StatusUnauthorized, "Invalid signature", "POST", endpoint)
			return
		}
	case domain.ProviderALATPay:
	default:
		h.respondError(w, http.StatusNotFound, "Unknown provider", "POST", endpoint)
		return
	}

	var hook models.WebhookRequest
	if err := json.Unmarshal(body, &hook); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	reference := hook.PaymentReference()
	if reference == "" {
		h.respondError(w, http.StatusBadRequest, "Missing payment reference", "POST", endpoint)
		return
	}

	out, err := h.payments.Verify(r.Context(), reference)
	switch {
	case errors.Is(err, service.ErrUnknownPayment):
		// Acknowledge so the gateway stops retrying a reference we never issued.
		h.logger.Warn("webhook for unknown reference", "provider", provider, "reference", reference)
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"}, "POST", endpoint)
	case err != nil:
		code, msg := h.verifyError(err, reference)
		h.respondError(w, code, msg, "POST", endpoint)
	default:
		h.respondJSON(w, http.StatusOK, models.VerifyResponse{Outcome: out, Message: outcomeMessage(out)}, "POST", endpoint)
	}
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/payments/{reference}"
	p, err := h.ledger.GetPayment(r.Context(), mux.Vars(r)["reference"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "Payment not found", "GET", endpoint)
			return
		}
		h.logger.Error("get payment failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, p, "GET", endpoint)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}"
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid account id", "GET", endpoint)
		return
	}

	acc, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "Account not found", "GET", endpoint)
			return
		}
		h.logger.Error("get account failed", "account_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, acc, "GET", endpoint)
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/users/{id}/notifications"
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid user id", "GET", endpoint)
		return
	}
	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer", "GET", endpoint)
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	if _, err := h.ledger.GetUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "User not found", "GET", endpoint)
			return
		}
		h.logger.Error("get user failed", "user_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", endpoint)
		return
	}

	notes, err := h.ledger.ListNotifications(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("list notifications failed", "user_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", endpoint)
		return
	}
	if notes == nil {
		notes = []domain.Notification{}
	}
	h.respondJSON(w, http.StatusOK, notes, "GET", endpoint)
}

// HealthCheck reports degraded when the ledger cannot be reached.
func HealthCheck(h *Handler, prober HealthProber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		payload := map[string]string{"status": "ok"}
		if prober != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := prober.Probe(ctx); err != nil {
				h.logger.Error("health probe failed", "error", err)
				status = http.StatusServiceUnavailable
				payload["status"] = "degraded"
			}
		}
		h.respondJSON(w, status, payload, "GET", "/health")
	}
}

func (h *Handler) verifyError(err error, reference string) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnknownPayment):
		return http.StatusNotFound, "Payment not found"
	case errors.Is(err, service.ErrGatewayUnavailable):
		return http.StatusBadGateway, "Payment gateway unavailable, try again later"
	default:
		h.logger.Error("payment verification failed", "reference", reference, "error", err)
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func outcomeStatus(out domain.Outcome) int {
	switch out.Kind {
	case domain.OutcomeSucceeded:
		return http.StatusOK
	case domain.OutcomeStillPending:
		return http.StatusAccepted
	default:
		return http.StatusBadRequest
	}
}

func outcomeMessage(out domain.Outcome) string {
	switch out.Kind {
	case domain.OutcomeSucceeded:
		if out.FeeDeducted > 0 {
			return fmt.Sprintf("Payment verified. %s registration fee deducted, %s credited to wallet",
				domain.FormatNaira(out.FeeDeducted), domain.FormatNaira(out.CreditAmount))
		}
		return fmt.Sprintf("Payment verified. %s credited to wallet", domain.FormatNaira(out.CreditAmount))
	case domain.OutcomeStillPending:
		return "Payment is still being processed"
	}
	switch out.Reason {
	case domain.ReasonAmountMismatch:
		return "Amount received does not match the payment"
	case domain.ReasonInsufficientForRegistration:
		return "Amount received does not cover the registration fee"
	case domain.ReasonInitializationFailed:
		return "Payment could not be started"
	default:
		return "Payment was declined"
	}
}
