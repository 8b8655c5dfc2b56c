package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCashfreeTestServer(t *testing.T, handler http.HandlerFunc) *CashfreeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCashfreeClient("cf_id", "cf_secret", "sandbox", srv.URL)
}

func TestCashfreeBaseURL(t *testing.T) {
	assert.Equal(t, cashfreeProductionBaseURL, CashfreeBaseURL("LIVE"))
	assert.Equal(t, cashfreeProductionBaseURL, CashfreeBaseURL("prod"))
	assert.Equal(t, cashfreeSandboxBaseURL, CashfreeBaseURL(""))
	assert.Equal(t, cashfreeSandboxBaseURL, CashfreeBaseURL("test"))
}

func TestCashfree_CreateOrder(t *testing.T) {
	client := newCashfreeTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, cashfreeAPIVersion, r.Header.Get("x-api-version"))
		assert.Equal(t, "cf_id", r.Header.Get("x-client-id"))
		assert.Equal(t, "cf_secret", r.Header.Get("x-client-secret"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Regexp(t, `^REG_\d+_[0-9a-f]{8}$`, body["order_id"])
		assert.EqualValues(t, 1500, body["order_amount"])

		resp := map[string]any{
			"order_id":           body["order_id"],
			"order_amount":       1500.00,
			"order_currency":     "INR",
			"order_status":       "ACTIVE",
			"payment_session_id": "session_xyz",
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	out, err := client.CreateOrder(context.Background(), CreateOrderInput{
		StagingID: "abc", Receipt: "provider_abc", Amount: 150000, Currency: "INR",
		Customer: Customer{Name: "Ravi", Email: "ravi@example.com", Phone: "9876543210"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150000), out.Amount)
	assert.Equal(t, "session_xyz", out.ClientParams["payment_session_id"])
	assert.Equal(t, "sandbox", out.ClientParams["environment"])
}

func TestCashfree_FetchPayments(t *testing.T) {
	client := newCashfreeTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/REG_1/payments", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"cf_payment_id":5114910001,"order_id":"REG_1","payment_status":"USER_DROPPED","payment_amount":1500,"payment_currency":"INR"},
			{"cf_payment_id":"5114910002","order_id":"REG_1","payment_status":"SUCCESS","payment_amount":1500.00,"payment_currency":"INR","payment_group":"upi","payment_completion_time":"2024-03-01T10:00:00+05:30"}
		]`))
	})

	attempts, err := client.FetchPayments(context.Background(), "REG_1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "5114910001", attempts[0].PaymentID)
	assert.Equal(t, StatusFailed, attempts[0].Status)

	success, ok := SuccessfulAttempt(attempts)
	require.True(t, ok)
	assert.Equal(t, "5114910002", success.PaymentID)
	assert.Equal(t, int64(150000), success.Amount)
	require.NotNil(t, success.PaidAt)
	assert.Equal(t, 4, success.PaidAt.Hour())
}

func TestCashfree_EmptyPaymentsIsNoEvidence(t *testing.T) {
	client := newCashfreeTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	attempts, err := client.FetchPayments(context.Background(), "REG_1")
	require.NoError(t, err)
	_, ok := SuccessfulAttempt(attempts)
	assert.False(t, ok)
	assert.False(t, HasPending(attempts))
}

func TestCashfree_VerifySignatureUnsupported(t *testing.T) {
	client := NewCashfreeClient("id", "secret", "", "")
	ok, err := client.VerifySignature("REG_1", "1", "sig")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSignatureUnsupported)
}

func TestCashfree_ParseWebhook(t *testing.T) {
	client := NewCashfreeClient("id", "cf_secret", "", "")
	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"REG_1"},"payment":{"cf_payment_id":99,"payment_status":"SUCCESS","payment_amount":1500}}}`)
	ts := "1700000000"

	mac := hmac.New(sha256.New, []byte("cf_secret"))
	mac.Write([]byte(ts))
	mac.Write(body)

	header := http.Header{}
	header.Set("x-webhook-timestamp", ts)
	header.Set("x-webhook-signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	ev, err := client.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.True(t, ev.SignatureValid)
	assert.Equal(t, "REG_1", ev.OrderID)
	assert.Equal(t, "99", ev.PaymentID)
	assert.Equal(t, "PAYMENT_SUCCESS_WEBHOOK:99", ev.EventID)
	assert.Equal(t, StatusSuccess, ev.StatusHint)

	header.Set("x-webhook-timestamp", "1700000001")
	ev, err = client.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.False(t, ev.SignatureValid)
	assert.True(t, ev.Forged())

	ev, err = client.ParseWebhook(body, http.Header{})
	require.NoError(t, err)
	assert.False(t, ev.SignaturePresent)
	assert.False(t, ev.Forged())
	assert.Equal(t, "REG_1", ev.OrderID)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Provider: ProviderRazorpay, RazorpayKeyID: "k", RazorpayKeySecret: "s"}.Validate())
	assert.ErrorIs(t, Config{Provider: ProviderRazorpay}.Validate(), ErrNotConfigured)
	assert.ErrorIs(t, Config{Provider: ProviderCashfree, CashfreeClientID: "id"}.Validate(), ErrNotConfigured)
	assert.ErrorIs(t, Config{Provider: "stripe"}.Validate(), ErrNotConfigured)

	g, err := New(Config{Provider: ProviderCashfree, CashfreeClientID: "id", CashfreeClientSecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, ProviderCashfree, g.Name())
}
