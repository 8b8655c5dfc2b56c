package gateway

import (
	"fmt"
	"strings"

	"github.com/ManuelReschke/PropServe/internal/pkg/env"
)

type Config struct {
	Provider string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayBaseURL       string

	CashfreeClientID     string
	CashfreeClientSecret string
	CashfreeEnv          string
	CashfreeBaseURL      string
}

// LoadConfig reads the gateway settings. Keys of the selected provider are
// required.
func LoadConfig() (Config, error) {
	cfg := Config{
		Provider:              strings.ToLower(strings.TrimSpace(env.GetEnv("PAYMENT_GATEWAY", ProviderRazorpay))),
		RazorpayKeyID:         strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_ID", "")),
		RazorpayKeySecret:     strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_SECRET", "")),
		RazorpayWebhookSecret: strings.TrimSpace(env.GetEnv("RAZORPAY_WEBHOOK_SECRET", "")),
		RazorpayBaseURL:       strings.TrimSpace(env.GetEnv("RAZORPAY_API_BASE_URL", defaultRazorpayBaseURL)),
		CashfreeClientID:      strings.TrimSpace(env.GetEnv("CASHFREE_CLIENT_ID", "")),
		CashfreeClientSecret:  strings.TrimSpace(env.GetEnv("CASHFREE_CLIENT_SECRET", "")),
		CashfreeEnv:           strings.TrimSpace(env.GetEnv("CASHFREE_ENV", "sandbox")),
		CashfreeBaseURL:       strings.TrimSpace(env.GetEnv("CASHFREE_API_BASE_URL", "")),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Provider {
	case ProviderRazorpay:
		if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
			return fmt.Errorf("%w: RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET are required", ErrNotConfigured)
		}
	case ProviderCashfree:
		if c.CashfreeClientID == "" || c.CashfreeClientSecret == "" {
			return fmt.Errorf("%w: CASHFREE_CLIENT_ID/CASHFREE_CLIENT_SECRET are required", ErrNotConfigured)
		}
	default:
		return fmt.Errorf("%w: unknown PAYMENT_GATEWAY %q", ErrNotConfigured, c.Provider)
	}
	return nil
}

// New builds the configured adapter, wrapped with metrics.
func New(cfg Config) (Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderCashfree:
		return Instrument(NewCashfreeClient(cfg.CashfreeClientID, cfg.CashfreeClientSecret, cfg.CashfreeEnv, cfg.CashfreeBaseURL)), nil
	default:
		return Instrument(NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret, cfg.RazorpayBaseURL)), nil
	}
}

func NewFromEnv() (Gateway, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}
