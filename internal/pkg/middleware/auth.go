package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropServe/internal/pkg/security"
)

const accountContextKey = "ACCOUNT_CONTEXT"

// AccountContext is the authenticated account of an API request.
type AccountContext struct {
	AccountID  uint
	PublicID   string
	Kind       string
	Email      string
	IsLoggedIn bool
}

// TokenValidator validates session bearer tokens.
type TokenValidator interface {
	Validate(token string) (*security.SessionClaims, error)
}

// RequireAccountToken authenticates requests carrying a session token issued
// at registration and returns JSON 401 when it is missing or invalid.
func RequireAccountToken(tokens TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "unauthorized", "message": "Missing bearer token"})
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			message := "Invalid bearer token"
			if errors.Is(err, security.ErrTokenExpired) {
				message = "Bearer token has expired"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "unauthorized", "message": message})
		}

		c.Locals(accountContextKey, AccountContext{
			AccountID:  claims.AccountID,
			PublicID:   claims.PublicID,
			Kind:       claims.Kind,
			Email:      claims.Email,
			IsLoggedIn: true,
		})
		return c.Next()
	}
}

// GetAccountContext returns the account set by RequireAccountToken, or an
// anonymous context.
func GetAccountContext(c *fiber.Ctx) AccountContext {
	if ac, ok := c.Locals(accountContextKey).(AccountContext); ok {
		return ac
	}
	return AccountContext{}
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
