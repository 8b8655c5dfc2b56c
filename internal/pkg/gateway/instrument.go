package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuelReschke/PropServe/internal/pkg/metrics"
)

type instrumented struct {
	Gateway
}

// Instrument records call durations of g in Prometheus.
func Instrument(g Gateway) Gateway {
	return &instrumented{Gateway: g}
}

func (i *instrumented) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreatedOrder, error) {
	start := time.Now()
	out, err := i.Gateway.CreateOrder(ctx, in)
	metrics.ObserveGateway(i.Name(), "create_order", time.Since(start), err)
	return out, err
}

func (i *instrumented) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	start := time.Now()
	out, err := i.Gateway.FetchOrder(ctx, orderID)
	metrics.ObserveGateway(i.Name(), "fetch_order", time.Since(start), err)
	return out, err
}

func (i *instrumented) FetchPayments(ctx context.Context, orderID string) ([]PaymentAttempt, error) {
	start := time.Now()
	out, err := i.Gateway.FetchPayments(ctx, orderID)
	metrics.ObserveGateway(i.Name(), "fetch_payments", time.Since(start), err)
	return out, err
}

func (i *instrumented) ParseWebhook(body []byte, header http.Header) (*WebhookEvent, error) {
	ev, err := i.Gateway.ParseWebhook(body, header)
	result := "parsed"
	switch {
	case err != nil:
		result = "malformed"
	case ev.Forged():
		result = "bad_signature"
	case !ev.SignaturePresent:
		result = "unsigned"
	}
	metrics.IncWebhook(i.Name(), result)
	return ev, err
}
