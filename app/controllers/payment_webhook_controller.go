package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PropServe/app/models"
	"github.com/ManuelReschke/PropServe/app/repository"
	"github.com/ManuelReschke/PropServe/internal/pkg/gateway"
	"github.com/ManuelReschke/PropServe/internal/pkg/metrics"
	"github.com/ManuelReschke/PropServe/internal/pkg/registration"
)

// OrderConfirmer reconciles a gateway order out of band.
type OrderConfirmer interface {
	ConfirmOrder(ctx context.Context, orderID string) (*registration.Result, error)
}

// PaymentWebhookController receives asynchronous gateway notifications.
// Deliveries are acknowledged with 200 once recorded; only a failure to
// record answers 500 so the provider redelivers.
type PaymentWebhookController struct {
	confirmer OrderConfirmer
	gw        gateway.Gateway
	events    repository.PaymentWebhookEventRepository
}

func NewPaymentWebhookController(confirmer OrderConfirmer, gw gateway.Gateway, events repository.PaymentWebhookEventRepository) *PaymentWebhookController {
	return &PaymentWebhookController{confirmer: confirmer, gw: gw, events: events}
}

// HandlePaymentWebhook processes one gateway webhook delivery
func (pc *PaymentWebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	provider := pc.gw.Name()
	body := append([]byte(nil), c.Body()...)
	header := c.GetReqHeaders()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	ev, err := pc.gw.ParseWebhook(body, toHTTPHeader(header))
	if err != nil {
		log.Warnf("[Webhook] Unparseable %s delivery: %v", provider, err)
		metrics.IncWebhook(provider, "unparseable")
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	}

	payload := datatypes.JSON(body)
	if !json.Valid(body) {
		payload = datatypes.JSON("null")
	}
	record := &models.PaymentWebhookEvent{
		Provider:         provider,
		ProviderEventID:  ev.EventID,
		EventType:        ev.EventType,
		GatewayOrderID:   ev.OrderID,
		Payload:          payload,
		SignaturePresent: ev.SignaturePresent,
		SignatureValid:   ev.SignatureValid,
	}
	created, stored, err := pc.events.CreateIfNotExists(ctx, record)
	if err != nil {
		log.Errorf("[Webhook] Failed to record %s event %s: %v", provider, ev.EventID, err)
		metrics.IncWebhook(provider, "store_error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false})
	}
	if !created && !stored.NeedsProcessing() {
		metrics.IncWebhook(provider, "duplicate")
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	// unsigned deliveries fall through: ConfirmOrder asks the gateway itself
	if ev.Forged() {
		log.Warnf("[Webhook] Invalid %s signature for event %s", provider, ev.EventID)
		pc.markProcessed(ctx, stored.ID, "ignored", fmt.Errorf("invalid signature"))
		metrics.IncWebhook(provider, "invalid_signature")
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	}
	if ev.OrderID == "" {
		pc.markProcessed(ctx, stored.ID, "ignored", nil)
		metrics.IncWebhook(provider, "no_order")
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	}

	res, cerr := pc.confirmer.ConfirmOrder(ctx, ev.OrderID)
	var processingErr error
	switch res.Outcome {
	case registration.OutcomeIndeterminate, registration.OutcomeFailed:
		processingErr = cerr
		if processingErr == nil {
			processingErr = fmt.Errorf("outcome %s", res.Outcome)
		}
	}
	pc.markProcessed(ctx, stored.ID, string(res.Outcome), processingErr)
	metrics.IncWebhook(provider, string(res.Outcome))

	log.Infof("[Webhook] %s event %s (%s) for order %s: %s", provider, ev.EventID, ev.EventType, ev.OrderID, res.Outcome)
	return c.JSON(fiber.Map{"ok": true, "outcome": res.Outcome})
}

func (pc *PaymentWebhookController) markProcessed(ctx context.Context, id uint, outcome string, processingErr error) {
	if err := pc.events.MarkProcessed(ctx, id, outcome, processingErr); err != nil {
		log.Errorf("[Webhook] Failed to mark event %d processed: %v", id, err)
	}
}

func toHTTPHeader(in map[string][]string) http.Header {
	out := make(http.Header, len(in))
	for k, v := range in {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}
