package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropServe/app/controllers"
	"github.com/ManuelReschke/PropServe/internal/pkg/constants"
	"github.com/ManuelReschke/PropServe/internal/pkg/middleware"
	"github.com/ManuelReschke/PropServe/internal/pkg/ratelimit"
)

// Deps carries the controllers and collaborators the routes are built from.
type Deps struct {
	Registration *controllers.RegistrationController
	Webhook      *controllers.PaymentWebhookController
	Ops          *controllers.OpsController
	Tokens       middleware.TokenValidator
	RateLimit    ratelimit.Config
	OpsUsers     map[string]string
}

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := ratelimit.New(h.deps.RateLimit, controllers.ClientIP)
	api := app.Group(constants.APIRoute, func(c *fiber.Ctx) error {
		// gateways retry webhooks on 429, which would delay confirmations
		if strings.HasSuffix(c.Path(), constants.WebhookPath) {
			return c.Next()
		}
		return limit(c)
	})
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "PropServe registration API",
		})
	})

	v1 := api.Group("/v1")

	rc := h.deps.Registration
	v1.Post("/registrations/agent", rc.HandleStageAgent)
	v1.Post("/registrations/service-provider", rc.HandleStageServiceProvider)
	v1.Get("/registrations/:stagingId", rc.HandleRegistrationStatus)

	v1.Post("/payments/orders", rc.HandleCreateOrder)
	v1.Post("/payments/verify", rc.HandleVerify)
	v1.Post(constants.WebhookPath, h.deps.Webhook.HandlePaymentWebhook)

	v1.Get("/accounts/:kind/:publicId/subscription", middleware.RequireAccountToken(h.deps.Tokens), rc.HandleSubscription)
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
