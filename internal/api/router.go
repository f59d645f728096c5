package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/thriftpay/internal/ratelimit"
)

const healthTimeout = 2 * time.Second

// RouterDependencies collects what the router wires together. Health and
// Limiter are optional.
type RouterDependencies struct {
	Handler *Handler
	Health  HealthProber
	Limiter *ratelimit.Limiter
}

func NewRouter(logger *slog.Logger, deps RouterDependencies) http.Handler {
	h := deps.Handler
	limited := func(fn http.HandlerFunc) http.Handler {
		if deps.Limiter == nil {
			return fn
		}
		return deps.Limiter.Middleware(fn)
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", HealthCheck(h, deps.Health)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.Handle("/topups", limited(h.CreateTopUp)).Methods("POST")
	r.Handle("/payments/{reference}/verify", limited(h.VerifyPayment)).Methods("POST")
	r.HandleFunc("/webhooks/{provider}", h.Webhook).Methods("POST")

	r.HandleFunc("/payments/{reference}", h.GetPayment).Methods("GET")
	r.HandleFunc("/accounts/{id:[0-9]+}", h.GetAccount).Methods("GET")
	r.HandleFunc("/users/{id:[0-9]+}/notifications", h.ListNotifications).Methods("GET")

	return loggingMiddleware(logger, r)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
