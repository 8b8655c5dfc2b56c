package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropServe/internal/pkg/registration"
)

// outcomeStatus maps a reconciliation result to its HTTP status.
func outcomeStatus(res *registration.Result, err error) int {
	switch res.Outcome {
	case registration.OutcomeMaterialized:
		if errors.Is(err, registration.ErrSessionIssuance) {
			return fiber.StatusInternalServerError
		}
		return fiber.StatusCreated
	case registration.OutcomeAlreadyExists:
		return fiber.StatusOK
	case registration.OutcomeRejected:
		return fiber.StatusPaymentRequired
	case registration.OutcomeExpired:
		return fiber.StatusGone
	case registration.OutcomeInvalid:
		return fiber.StatusUnprocessableEntity
	case registration.OutcomeIndeterminate:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// errorStatus maps errors returned outside of reconciliation.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, registration.ErrValidation):
		return fiber.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, registration.ErrAlreadyRegistered):
		return fiber.StatusConflict, "already_registered"
	case errors.Is(err, registration.ErrNotFoundOrExpired):
		return fiber.StatusGone, "not_found_or_expired"
	case errors.Is(err, registration.ErrGatewayIndeterminate):
		return fiber.StatusServiceUnavailable, "gateway_unavailable"
	default:
		return fiber.StatusInternalServerError, "internal_server_error"
	}
}

// respondError writes the JSON error envelope. Internal errors are not echoed.
func respondError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		message = "Internal error, please try again later"
	}
	if status == fiber.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, "5")
	}
	return c.Status(status).JSON(fiber.Map{"success": false, "error": code, "message": message})
}

// ClientIP returns the originating client address. Forwarding headers are
// only honoured through the app's trusted proxy settings (see
// router.ApplyProxyConfig). IPv4-mapped IPv6 addresses are unwrapped.
func ClientIP(c *fiber.Ctx) string {
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
