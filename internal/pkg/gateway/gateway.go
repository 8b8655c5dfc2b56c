// Package gateway talks to the payment providers. Adapters translate every
// provider response into the types below; raw provider errors never leave the
// package.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"
)

type PaymentStatus string

const (
	StatusSuccess PaymentStatus = "SUCCESS"
	StatusFailed  PaymentStatus = "FAILED"
	StatusPending PaymentStatus = "PENDING"
)

var (
	// ErrIndeterminate means the provider could not be asked (network, timeout,
	// 5xx, rate limit). Callers must not change state on it and may retry.
	ErrIndeterminate = errors.New("payment gateway unavailable")
	// ErrOrderNotFound is returned when the provider does not know the order.
	ErrOrderNotFound = errors.New("payment order not found")
	// ErrRequestRejected is a non-retryable 4xx answer to a well-formed call.
	ErrRequestRejected = errors.New("payment gateway rejected the request")
	// ErrSignatureUnsupported is returned by providers without checkout signatures.
	ErrSignatureUnsupported = errors.New("checkout signature not supported by gateway")
	ErrNotConfigured        = errors.New("payment gateway is not configured")
)

// PaymentAttempt is one payment made against an order. Amount is in minor
// currency units (paise).
type PaymentAttempt struct {
	PaymentID string        `json:"payment_id"`
	Status    PaymentStatus `json:"status"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Method    string        `json:"method,omitempty"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`
}

type Order struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type CreateOrderInput struct {
	StagingID string
	Receipt   string
	Purpose   string
	Amount    int64
	Currency  string
	Customer  Customer
}

// CreatedOrder is returned to the client so it can open the provider checkout.
type CreatedOrder struct {
	OrderID      string            `json:"order_id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ClientParams map[string]string `json:"client_params"`
}

// WebhookEvent is the provider-neutral content of a webhook delivery. Only
// OrderID is acted upon; StatusHint is informational.
//
// SignaturePresent is false when the delivery carried no signature or no
// webhook secret is configured to check one against. SignatureValid is only
// meaningful when SignaturePresent is true.
type WebhookEvent struct {
	EventID          string        `json:"event_id"`
	EventType        string        `json:"event_type"`
	OrderID          string        `json:"order_id"`
	PaymentID        string        `json:"payment_id,omitempty"`
	StatusHint       PaymentStatus `json:"status_hint,omitempty"`
	SignaturePresent bool          `json:"signature_present"`
	SignatureValid   bool          `json:"signature_valid"`
}

// Forged reports a signature that was checked and did not match. Unsigned
// deliveries are not forged: the order is still confirmed through
// FetchPayments before anything is written.
func (e *WebhookEvent) Forged() bool {
	return e.SignaturePresent && !e.SignatureValid
}

type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreatedOrder, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
	// FetchPayments is the single source of truth for payment status.
	FetchPayments(ctx context.Context, orderID string) ([]PaymentAttempt, error)
	VerifySignature(orderID, paymentID, signature string) (bool, error)
	ParseWebhook(body []byte, header http.Header) (*WebhookEvent, error)
}

// SuccessfulAttempt returns the first SUCCESS attempt.
func SuccessfulAttempt(attempts []PaymentAttempt) (*PaymentAttempt, bool) {
	for i := range attempts {
		if attempts[i].Status == StatusSuccess {
			a := attempts[i]
			return &a, true
		}
	}
	return nil, false
}

// HasPending reports whether any attempt may still turn into a success.
func HasPending(attempts []PaymentAttempt) bool {
	for _, a := range attempts {
		if a.Status == StatusPending {
			return true
		}
	}
	return false
}
