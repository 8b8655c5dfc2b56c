package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	prev := Env
	Env = values
	t.Cleanup(func() { Env = prev })
}

func TestGetEnv_PrefersLoadedMap(t *testing.T) {
	withEnv(t, map[string]string{"PAYMENT_GATEWAY": "cashfree"})
	t.Setenv("PAYMENT_GATEWAY", "razorpay")

	assert.Equal(t, "cashfree", GetEnv("PAYMENT_GATEWAY", "none"))
	assert.Equal(t, "fallback", GetEnv("UNSET_KEY_FOR_TEST", "fallback"))
}

func TestTypedHelpers(t *testing.T) {
	withEnv(t, map[string]string{
		"FEE":       "150000",
		"BAD_FEE":   "abc",
		"ENABLED":   "Yes",
		"DISABLED":  "nope",
		"TTL":       "24h",
		"TTL_SECS":  "90",
		"TTL_WRONG": "-5m",
	})

	assert.Equal(t, int64(150000), GetEnvInt("FEE", 1))
	assert.Equal(t, int64(1), GetEnvInt("BAD_FEE", 1))
	assert.True(t, GetEnvBool("ENABLED", false))
	assert.False(t, GetEnvBool("DISABLED", true))
	assert.True(t, GetEnvBool("MISSING", true))
	assert.Equal(t, 24*time.Hour, GetEnvDuration("TTL", time.Minute))
	assert.Equal(t, 90*time.Second, GetEnvDuration("TTL_SECS", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("TTL_WRONG", time.Minute))
}
