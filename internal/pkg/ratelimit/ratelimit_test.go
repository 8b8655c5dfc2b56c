package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PropServe/internal/pkg/env"
)

func TestLoadConfig(t *testing.T) {
	env.Env = map[string]string{"RATE_LIMIT_MAX": "5", "RATE_LIMIT_WINDOW": "30s", "RATE_LIMIT_BACKEND": "memory"}
	t.Cleanup(func() { env.Env = nil })

	cfg := LoadConfig()
	assert.Equal(t, 5, cfg.Max)
	assert.Equal(t, 30*time.Second, cfg.Window)
	assert.Equal(t, "memory", cfg.Backend)
}

func TestNew_MemoryBackendLimitsPerKey(t *testing.T) {
	app := fiber.New()
	app.Use(New(Config{Max: 2, Window: time.Minute, Backend: "memory"}, func(c *fiber.Ctx) string {
		return c.Get("X-Client")
	}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	hit := func(client string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Client", client)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, hit("a"))
	assert.Equal(t, fiber.StatusOK, hit("a"))
	assert.Equal(t, fiber.StatusTooManyRequests, hit("a"))
	assert.Equal(t, fiber.StatusOK, hit("b"))
}
