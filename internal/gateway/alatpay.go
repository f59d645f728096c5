package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/punchamoorthee/thriftpay/internal/config"
	"github.com/punchamoorthee/thriftpay/internal/domain"
	"github.com/shopspring/decimal"
)

// ALATPay verifies bank-transfer and card payments collected through the
// ALATPay checkout widget. Amounts arrive in naira and are converted to kobo.
type ALATPay struct {
	baseURL         string
	subscriptionKey string
	client          *http.Client
}

type alatpayEnvelope struct {
	Status  alatpayStatus   `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type alatpayTransaction struct {
	Status        string           `json:"status"`
	Amount        *decimal.Decimal `json:"amount"`
	Currency      string           `json:"currency"`
	OrderID       string           `json:"orderId"`
	TransactionID string           `json:"transactionId"`
	Message       string           `json:"statusMessage"`
}

// alatpayStatus accepts the envelope status as either a boolean or the
// string "success"; both shapes are returned by different ALATPay endpoints.
type alatpayStatus bool

func (s *alatpayStatus) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	switch {
	case bytes.Equal(trimmed, []byte("true")):
		*s = true
	case bytes.Equal(trimmed, []byte("false")), bytes.Equal(trimmed, []byte("null")):
		*s = false
	default:
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return fmt.Errorf("status is neither bool nor string: %s", trimmed)
		}
		*s = alatpayStatus(strings.EqualFold(str, "success") || strings.EqualFold(str, "true"))
	}
	return nil
}

func NewALATPay(cfg config.ALATPayConfig, httpClient *http.Client, timeout time.Duration) *ALATPay {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &ALATPay{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		subscriptionKey: cfg.SubscriptionKey,
		client:          httpClient,
	}
}

func (a *ALATPay) Provider() domain.Provider { return domain.ProviderALATPay }

// Verify maps the ALATPay transaction lookup for an order reference onto a
// GatewayResult.
func (a *ALATPay) Verify(ctx context.Context, reference string) (res domain.GatewayResult, err error) {
	start := time.Now()
	defer func() { observe(domain.ProviderALATPay, start, res, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.baseURL+"/alatpaytransaction/api/v1/transactions/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, fmt.Errorf("build alatpay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", a.subscriptionKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, unavailable(domain.ProviderALATPay, err)
	}
	defer resp.Body.Close()

	if serverSide(resp.StatusCode) {
		return nil, unavailable(domain.ProviderALATPay, fmt.Errorf("http status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.Pending{}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, unavailable(domain.ProviderALATPay, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, malformed(domain.ProviderALATPay, "unexpected http status %d", resp.StatusCode)
	}

	var env alatpayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed(domain.ProviderALATPay, "decode body: %v", err)
	}
	if !env.Status || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, malformed(domain.ProviderALATPay, "verification failed: %s", env.Message)
	}

	var tx alatpayTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, malformed(domain.ProviderALATPay, "decode transaction: %v", err)
	}
	if tx.OrderID != "" && tx.OrderID != reference {
		return nil, malformed(domain.ProviderALATPay, "reference mismatch: asked %q, got %q", reference, tx.OrderID)
	}

	switch strings.ToLower(tx.Status) {
	case "completed", "successful", "success":
		if tx.Amount == nil || !tx.Amount.IsPositive() {
			return nil, malformed(domain.ProviderALATPay, "successful transaction without amount")
		}
		kobo, err := domain.KoboFromNaira(*tx.Amount)
		if err != nil {
			return nil, malformed(domain.ProviderALATPay, "amount: %v", err)
		}
		currency := strings.ToUpper(tx.Currency)
		if currency == "" {
			currency = domain.CurrencyNGN
		}
		return domain.Succeeded{
			AmountReceived:   kobo,
			Currency:         currency,
			GatewayReference: tx.TransactionID,
		}, nil
	case "failed", "cancelled", "canceled", "declined", "reversed", "expired":
		reason := tx.Message
		if reason == "" {
			reason = tx.Status
		}
		return domain.Failed{Reason: reason}, nil
	case "pending", "processing", "initiated", "ongoing":
		return domain.Pending{}, nil
	default:
		return nil, malformed(domain.ProviderALATPay, "unknown transaction status %q", tx.Status)
	}
}
