// Package models holds the request and response bodies of the HTTP API.
package models

import "github.com/punchamoorthee/thriftpay/internal/domain"

// TopUpRequest is the payload of POST /topups. Amount is in kobo.
type TopUpRequest struct {
	AccountID int64           `json:"account_id"`
	Amount    int64           `json:"amount"`
	Provider  domain.Provider `json:"provider"`
	Email     string          `json:"email"`
}

// TopUpResponse describes a freshly opened payment. AuthorizationURL is empty
// for providers whose checkout runs client-side.
type TopUpResponse struct {
	Reference        string               `json:"reference"`
	AccountID        int64                `json:"account_id"`
	Provider         domain.Provider      `json:"provider"`
	Amount           int64                `json:"amount"`
	Currency         string               `json:"currency"`
	Status           domain.PaymentStatus `json:"status"`
	RegistrationFee  int64                `json:"registration_fee"`
	AuthorizationURL string               `json:"authorization_url,omitempty"`
	AccessCode       string               `json:"access_code,omitempty"`
}

// VerifyResponse wraps a reconciliation outcome with a message for display.
type VerifyResponse struct {
	domain.Outcome
	Message string `json:"message"`
}

// WebhookRequest is the subset of a gateway callback the API reads. Paystack
// nests the reference under data; ALATPay sends it at the top level.
type WebhookRequest struct {
	Event     string `json:"event"`
	Reference string `json:"reference"`
	OrderID   string `json:"orderId"`
	Data      struct {
		Reference string `json:"reference"`
		OrderID   string `json:"orderId"`
	} `json:"data"`
}

// PaymentReference picks the first reference the callback carries.
func (w WebhookRequest) PaymentReference() string {
	for _, ref := range []string{w.Data.Reference, w.Reference, w.Data.OrderID, w.OrderID} {
		if ref != "" {
			return ref
		}
	}
	return ""
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
