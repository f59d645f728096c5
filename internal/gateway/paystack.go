package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/thriftpay/internal/config"
	"github.com/punchamoorthee/thriftpay/internal/domain"
)

// PaystackSignatureHeader carries the HMAC-SHA512 of a webhook body.
const PaystackSignatureHeader = "X-Paystack-Signature"

// Paystack talks to the Paystack transaction API. Amounts are in kobo on the
// wire, matching the ledger.
type Paystack struct {
	secretKey   string
	baseURL     string
	callbackURL string
	client      *http.Client
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          *int64 `json:"amount"`
	Currency        string `json:"currency"`
	GatewayResponse string `json:"gateway_response"`
}

type paystackInitRequest struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Reference   string         `json:"reference"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewPaystack builds a client. A nil httpClient gets one with timeout.
func NewPaystack(cfg config.PaystackConfig, httpClient *http.Client, timeout time.Duration) *Paystack {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Paystack{
		secretKey:   cfg.SecretKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		callbackURL: cfg.CallbackURL,
		client:      httpClient,
	}
}

func (p *Paystack) Provider() domain.Provider { return domain.ProviderPaystack }

// Verify maps GET /transaction/verify/{reference} onto a GatewayResult.
func (p *Paystack) Verify(ctx context.Context, reference string) (res domain.GatewayResult, err error) {
	start := time.Now()
	defer func() { observe(domain.ProviderPaystack, start, res, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, fmt.Errorf("build paystack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)

	code, env, err := p.do(req)
	if err != nil {
		return nil, err
	}

	if code != http.StatusOK {
		// Paystack answers 400/404 with status=false for references it has
		// never seen, which happens before the payer opens the checkout.
		if (code == http.StatusBadRequest || code == http.StatusNotFound) && !env.Status {
			return domain.Pending{}, nil
		}
		return nil, malformed(domain.ProviderPaystack, "unexpected http status %d", code)
	}
	if !env.Status || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, malformed(domain.ProviderPaystack, "verification failed: %s", env.Message)
	}

	var tx paystackTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, malformed(domain.ProviderPaystack, "decode transaction: %v", err)
	}
	if tx.Reference != reference {
		return nil, malformed(domain.ProviderPaystack, "reference mismatch: asked %q, got %q", reference, tx.Reference)
	}

	switch strings.ToLower(tx.Status) {
	case "success":
		if tx.Amount == nil || *tx.Amount <= 0 {
			return nil, malformed(domain.ProviderPaystack, "successful transaction without amount")
		}
		return domain.Succeeded{
			AmountReceived:   *tx.Amount,
			Currency:         strings.ToUpper(tx.Currency),
			GatewayReference: strconv.FormatInt(tx.ID, 10),
		}, nil
	case "failed", "reversed":
		reason := tx.GatewayResponse
		if reason == "" {
			reason = tx.Status
		}
		return domain.Failed{Reason: reason}, nil
	case "abandoned", "ongoing", "pending", "processing", "queued":
		return domain.Pending{}, nil
	default:
		return nil, malformed(domain.ProviderPaystack, "unknown transaction status %q", tx.Status)
	}
}

// Initialize opens a hosted checkout via POST /transaction/initialize.
func (p *Paystack) Initialize(ctx context.Context, in CheckoutRequest) (*Checkout, error) {
	body, err := json.Marshal(paystackInitRequest{
		Email:       in.Email,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Reference:   in.Reference,
		CallbackURL: p.callbackURL,
		Metadata:    in.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal paystack request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build paystack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	code, env, err := p.do(req)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK || !env.Status {
		return nil, fmt.Errorf("%w: paystack: %s", ErrRejected, env.Message)
	}

	var checkout Checkout
	if err := json.Unmarshal(env.Data, &checkout); err != nil || checkout.AuthorizationURL == "" {
		return nil, malformed(domain.ProviderPaystack, "initialize response without authorization_url")
	}
	if checkout.Reference == "" {
		checkout.Reference = in.Reference
	}
	return &checkout, nil
}

// VerifySignature checks a webhook body against its X-Paystack-Signature.
func (p *Paystack) VerifySignature(body []byte, signature string) bool {
	if p.secretKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func (p *Paystack) do(req *http.Request) (int, paystackEnvelope, error) {
	var env paystackEnvelope

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, env, unavailable(domain.ProviderPaystack, err)
	}
	defer resp.Body.Close()

	if serverSide(resp.StatusCode) {
		return 0, env, unavailable(domain.ProviderPaystack, fmt.Errorf("http status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, env, unavailable(domain.ProviderPaystack, err)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, env, malformed(domain.ProviderPaystack, "decode body: %v", err)
	}
	return resp.StatusCode, env, nil
}
