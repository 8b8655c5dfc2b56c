package registration

import (
	"strings"
	"time"

	"github.com/ManuelReschke/PropServe/internal/pkg/env"
	"github.com/ManuelReschke/PropServe/internal/pkg/staging"
)

const (
	DefaultFee           = 150000 // 1500 INR in paise
	DefaultCurrency      = "INR"
	DefaultStagingTTL    = 24 * time.Hour
	DefaultSweepInterval = 30 * time.Minute
)

type Config struct {
	FeeAgent           int64
	FeeServiceProvider int64
	Currency           string
	StagingTTL         time.Duration
	SweepInterval      time.Duration
}

func LoadConfig() Config {
	return Config{
		FeeAgent:           env.GetEnvInt("REGISTRATION_FEE_AGENT", DefaultFee),
		FeeServiceProvider: env.GetEnvInt("REGISTRATION_FEE_SERVICE_PROVIDER", DefaultFee),
		Currency:           strings.ToUpper(env.GetEnv("REGISTRATION_CURRENCY", DefaultCurrency)),
		StagingTTL:         env.GetEnvDuration("STAGING_TTL", DefaultStagingTTL),
		SweepInterval:      env.GetEnvDuration("STAGING_SWEEP_INTERVAL", DefaultSweepInterval),
	}
}

// Fee returns the registration fee for kind in minor units.
func (c Config) Fee(kind staging.Kind) int64 {
	if kind == staging.KindServiceProvider {
		return c.FeeServiceProvider
	}
	return c.FeeAgent
}

func (c Config) withDefaults() Config {
	if c.FeeAgent <= 0 {
		c.FeeAgent = DefaultFee
	}
	if c.FeeServiceProvider <= 0 {
		c.FeeServiceProvider = DefaultFee
	}
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	if c.StagingTTL <= 0 {
		c.StagingTTL = DefaultStagingTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}
