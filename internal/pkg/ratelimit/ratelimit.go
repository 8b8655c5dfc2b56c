// Package ratelimit builds the limiter shared by every API instance.
package ratelimit

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PropServe/internal/pkg/cache"
	"github.com/ManuelReschke/PropServe/internal/pkg/env"
)

const (
	DefaultMax    = 60
	DefaultWindow = time.Minute
	// limiter counters live apart from staging data (DB 0)
	storageDatabase = 2
)

type Config struct {
	Max     int
	Window  time.Duration
	Backend string // redis | memory
}

func LoadConfig() Config {
	return Config{
		Max:     int(env.GetEnvInt("RATE_LIMIT_MAX", DefaultMax)),
		Window:  env.GetEnvDuration("RATE_LIMIT_WINDOW", DefaultWindow),
		Backend: env.GetEnv("RATE_LIMIT_BACKEND", "redis"),
	}
}

// NewStorage returns Redis storage on the cache server's address.
func NewStorage() fiber.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient := cache.GetClient(); cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: storageDatabase,
		Reset:    false,
	})
}

// New returns the limiter middleware. keyFn identifies the client.
func New(cfg Config, keyFn func(*fiber.Ctx) string) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	lc := limiter.Config{
		Max:          cfg.Max,
		Expiration:   cfg.Window,
		KeyGenerator: keyFn,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "rate_limited",
				"message": "Too many requests, please slow down",
			})
		},
	}
	if cfg.Backend == "redis" {
		lc.Storage = NewStorage()
	} else {
		log.Infof("[RateLimit] Using in-memory limiter storage")
	}
	return limiter.New(lc)
}
