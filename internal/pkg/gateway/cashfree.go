package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ProviderCashfree          = "cashfree"
	cashfreeAPIVersion        = "2023-08-01"
	cashfreeSandboxBaseURL    = "https://sandbox.cashfree.com/pg"
	cashfreeProductionBaseURL = "https://api.cashfree.com/pg"
)

// CashfreeClient implements Gateway against the Cashfree PG API. Webhooks are
// signed with the client secret.
type CashfreeClient struct {
	ClientID     string
	ClientSecret string
	Environment  string
	APIBaseURL   string
	APIVersion   string

	HTTPClient *http.Client
	now        func() time.Time
}

// CashfreeBaseURL resolves the API base for an environment name. prod,
// production and live select production; everything else is sandbox.
func CashfreeBaseURL(environment string) string {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "prod", "production", "live":
		return cashfreeProductionBaseURL
	default:
		return cashfreeSandboxBaseURL
	}
}

func NewCashfreeClient(clientID, clientSecret, environment, baseURL string) *CashfreeClient {
	if baseURL == "" {
		baseURL = CashfreeBaseURL(environment)
	}
	return &CashfreeClient{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Environment:  environment,
		APIBaseURL:   strings.TrimRight(baseURL, "/"),
		APIVersion:   cashfreeAPIVersion,
		HTTPClient:   &http.Client{Timeout: createTimeout},
		now:          time.Now,
	}
}

func (c *CashfreeClient) Name() string { return ProviderCashfree }

func (c *CashfreeClient) header() http.Header {
	h := http.Header{}
	h.Set("x-api-version", c.APIVersion)
	h.Set("x-client-id", c.ClientID)
	h.Set("x-client-secret", c.ClientSecret)
	return h
}

// flexString accepts JSON strings and numbers (cf_payment_id is either).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(string(b))
	return nil
}

type cashfreeOrder struct {
	OrderID          string  `json:"order_id"`
	OrderAmount      float64 `json:"order_amount"`
	OrderCurrency    string  `json:"order_currency"`
	OrderStatus      string  `json:"order_status"`
	OrderNote        string  `json:"order_note"`
	PaymentSessionID string  `json:"payment_session_id"`
}

type cashfreePayment struct {
	CFPaymentID           flexString `json:"cf_payment_id"`
	OrderID               string     `json:"order_id"`
	PaymentStatus         string     `json:"payment_status"`
	PaymentAmount         float64    `json:"payment_amount"`
	PaymentCurrency       string     `json:"payment_currency"`
	PaymentGroup          string     `json:"payment_group"`
	PaymentCompletionTime string     `json:"payment_completion_time"`
}

// toMinor converts a decimal rupee amount to paise.
func toMinor(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromMinor(v int64) float64 {
	return float64(v) / 100
}

// newCashfreeOrderID returns REG_<unix>_<random>; Cashfree requires the
// merchant to pick the id.
func (c *CashfreeClient) newOrderID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("REG_%d_%s", c.now().Unix(), hex.EncodeToString(b)), nil
}

func (c *CashfreeClient) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreatedOrder, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, fmt.Errorf("%w: CASHFREE_CLIENT_ID/CASHFREE_CLIENT_SECRET missing", ErrNotConfigured)
	}
	orderID, err := c.newOrderID()
	if err != nil {
		return nil, fmt.Errorf("generate cashfree order id: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	customerID := in.Customer.ID
	if customerID == "" {
		customerID = in.StagingID
	}
	payload := map[string]any{
		"order_id":       orderID,
		"order_amount":   fromMinor(in.Amount),
		"order_currency": in.Currency,
		"order_note":     in.Receipt,
		"customer_details": map[string]string{
			"customer_id":    customerID,
			"customer_name":  in.Customer.Name,
			"customer_email": in.Customer.Email,
			"customer_phone": in.Customer.Phone,
		},
		"order_tags": map[string]string{
			"staging_id": in.StagingID,
			"purpose":    in.Purpose,
		},
	}

	var out cashfreeOrder
	if err := doJSON(ctx, c.HTTPClient, ProviderCashfree, http.MethodPost, c.APIBaseURL+"/orders", c.header(), payload, &out); err != nil {
		return nil, err
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}

	return &CreatedOrder{
		OrderID:  out.OrderID,
		Amount:   toMinor(out.OrderAmount),
		Currency: out.OrderCurrency,
		ClientParams: map[string]string{
			"order_id":           out.OrderID,
			"payment_session_id": out.PaymentSessionID,
			"environment":        c.mode(),
		},
	}, nil
}

func (c *CashfreeClient) mode() string {
	if c.APIBaseURL == cashfreeProductionBaseURL {
		return "production"
	}
	return "sandbox"
}

func (c *CashfreeClient) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var out cashfreeOrder
	u := c.APIBaseURL + "/orders/" + url.PathEscape(orderID)
	if err := doJSON(ctx, c.HTTPClient, ProviderCashfree, http.MethodGet, u, c.header(), nil, &out); err != nil {
		return nil, err
	}
	return &Order{
		OrderID:  out.OrderID,
		Status:   out.OrderStatus,
		Amount:   toMinor(out.OrderAmount),
		Currency: out.OrderCurrency,
		Receipt:  out.OrderNote,
	}, nil
}

func (c *CashfreeClient) FetchPayments(ctx context.Context, orderID string) ([]PaymentAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var out []cashfreePayment
	u := c.APIBaseURL + "/orders/" + url.PathEscape(orderID) + "/payments"
	if err := doJSON(ctx, c.HTTPClient, ProviderCashfree, http.MethodGet, u, c.header(), nil, &out); err != nil {
		return nil, err
	}

	attempts := make([]PaymentAttempt, 0, len(out))
	for _, p := range out {
		a := PaymentAttempt{
			PaymentID: string(p.CFPaymentID),
			Status:    CashfreeStatus(p.PaymentStatus),
			Amount:    toMinor(p.PaymentAmount),
			Currency:  p.PaymentCurrency,
			Method:    p.PaymentGroup,
		}
		if t, err := time.Parse(time.RFC3339, p.PaymentCompletionTime); err == nil && a.Status == StatusSuccess {
			t = t.UTC()
			a.PaidAt = &t
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// CashfreeStatus maps a Cashfree payment status onto PaymentStatus.
func CashfreeStatus(s string) PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS":
		return StatusSuccess
	case "FAILED", "USER_DROPPED", "VOID", "CANCELLED", "FLAGGED":
		return StatusFailed
	default:
		// PENDING, NOT_ATTEMPTED
		return StatusPending
	}
}

// VerifySignature is not available: the Cashfree checkout returns no
// signature, FetchPayments is the only evidence.
func (c *CashfreeClient) VerifySignature(orderID, paymentID, signature string) (bool, error) {
	return false, ErrSignatureUnsupported
}

func (c *CashfreeClient) ParseWebhook(body []byte, header http.Header) (*WebhookEvent, error) {
	var raw struct {
		Type string `json:"type"`
		Data struct {
			Order struct {
				OrderID string `json:"order_id"`
			} `json:"order"`
			Payment cashfreePayment `json:"payment"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode cashfree webhook: %w", err)
	}

	signature := strings.TrimSpace(header.Get("x-webhook-signature"))
	ev := &WebhookEvent{
		EventType:        raw.Type,
		OrderID:          raw.Data.Order.OrderID,
		PaymentID:        string(raw.Data.Payment.CFPaymentID),
		SignaturePresent: signature != "" && c.ClientSecret != "",
	}
	if ev.SignaturePresent {
		ev.SignatureValid = verifyBase64TimestampSignature(body, header.Get("x-webhook-timestamp"), signature, c.ClientSecret)
	}
	if raw.Data.Payment.PaymentStatus != "" {
		ev.StatusHint = CashfreeStatus(raw.Data.Payment.PaymentStatus)
	}

	switch {
	case header.Get("x-idempotency-key") != "":
		ev.EventID = header.Get("x-idempotency-key")
	case ev.PaymentID != "":
		ev.EventID = raw.Type + ":" + ev.PaymentID
	default:
		ev.EventID = bodyDigest(body)
	}
	return ev, nil
}
