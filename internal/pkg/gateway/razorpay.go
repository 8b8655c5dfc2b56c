package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ProviderRazorpay       = "razorpay"
	defaultRazorpayBaseURL = "https://api.razorpay.com/v1"
)

// RazorpayClient implements Gateway against the Razorpay Orders API.
type RazorpayClient struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	APIBaseURL    string

	HTTPClient *http.Client
}

func NewRazorpayClient(keyID, keySecret, webhookSecret, baseURL string) *RazorpayClient {
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	return &RazorpayClient{
		KeyID:         keyID,
		KeySecret:     keySecret,
		WebhookSecret: webhookSecret,
		APIBaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient:    &http.Client{Timeout: createTimeout},
	}
}

func (c *RazorpayClient) Name() string { return ProviderRazorpay }

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayPayment struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Method    string `json:"method"`
	CreatedAt int64  `json:"created_at"`
}

func (c *RazorpayClient) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.KeyID+":"+c.KeySecret)))
	return h
}

func (c *RazorpayClient) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreatedOrder, error) {
	if c.KeyID == "" || c.KeySecret == "" {
		return nil, fmt.Errorf("%w: RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET missing", ErrNotConfigured)
	}
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	payload := map[string]any{
		"amount":   in.Amount,
		"currency": in.Currency,
		"receipt":  in.Receipt,
		"notes": map[string]string{
			"staging_id": in.StagingID,
			"purpose":    in.Purpose,
			"email":      in.Customer.Email,
		},
	}
	var out razorpayOrder
	if err := doJSON(ctx, c.HTTPClient, ProviderRazorpay, http.MethodPost, c.APIBaseURL+"/orders", c.header(), payload, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: razorpay returned an order without id", ErrIndeterminate)
	}

	return &CreatedOrder{
		OrderID:  out.ID,
		Amount:   out.Amount,
		Currency: out.Currency,
		ClientParams: map[string]string{
			"key_id":   c.KeyID,
			"order_id": out.ID,
			"amount":   fmt.Sprintf("%d", out.Amount),
			"currency": out.Currency,
		},
	}, nil
}

func (c *RazorpayClient) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var out razorpayOrder
	u := c.APIBaseURL + "/orders/" + url.PathEscape(orderID)
	if err := doJSON(ctx, c.HTTPClient, ProviderRazorpay, http.MethodGet, u, c.header(), nil, &out); err != nil {
		return nil, err
	}
	return &Order{OrderID: out.ID, Status: out.Status, Amount: out.Amount, Currency: out.Currency, Receipt: out.Receipt}, nil
}

func (c *RazorpayClient) FetchPayments(ctx context.Context, orderID string) ([]PaymentAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var out struct {
		Items []razorpayPayment `json:"items"`
	}
	u := c.APIBaseURL + "/orders/" + url.PathEscape(orderID) + "/payments"
	if err := doJSON(ctx, c.HTTPClient, ProviderRazorpay, http.MethodGet, u, c.header(), nil, &out); err != nil {
		return nil, err
	}

	attempts := make([]PaymentAttempt, 0, len(out.Items))
	for _, p := range out.Items {
		a := PaymentAttempt{
			PaymentID: p.ID,
			Status:    RazorpayStatus(p.Status),
			Amount:    p.Amount,
			Currency:  p.Currency,
			Method:    p.Method,
		}
		if a.Status == StatusSuccess && p.CreatedAt > 0 {
			paid := time.Unix(p.CreatedAt, 0).UTC()
			a.PaidAt = &paid
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// RazorpayStatus maps a Razorpay payment status onto PaymentStatus.
func RazorpayStatus(s string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "captured":
		return StatusSuccess
	case "failed", "refunded":
		return StatusFailed
	default:
		// created, authorized
		return StatusPending
	}
}

func (c *RazorpayClient) VerifySignature(orderID, paymentID, signature string) (bool, error) {
	return VerifyPaymentSignature(orderID, paymentID, signature, c.KeySecret), nil
}

func (c *RazorpayClient) ParseWebhook(body []byte, header http.Header) (*WebhookEvent, error) {
	var raw struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity razorpayPayment `json:"entity"`
			} `json:"payment"`
			Order struct {
				Entity razorpayOrder `json:"entity"`
			} `json:"order"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode razorpay webhook: %w", err)
	}

	signature := strings.TrimSpace(header.Get("X-Razorpay-Signature"))
	ev := &WebhookEvent{
		EventID:          strings.TrimSpace(header.Get("X-Razorpay-Event-Id")),
		EventType:        raw.Event,
		OrderID:          raw.Payload.Payment.Entity.OrderID,
		PaymentID:        raw.Payload.Payment.Entity.ID,
		SignaturePresent: signature != "" && c.WebhookSecret != "",
	}
	if ev.SignaturePresent {
		ev.SignatureValid = verifyHexBodySignature(body, signature, c.WebhookSecret)
	}
	if ev.OrderID == "" {
		ev.OrderID = raw.Payload.Order.Entity.ID
	}
	if raw.Payload.Payment.Entity.Status != "" {
		ev.StatusHint = RazorpayStatus(raw.Payload.Payment.Entity.Status)
	}
	if ev.EventID == "" {
		ev.EventID = bodyDigest(body)
	}
	return ev, nil
}
