package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func newRazorpayTestServer(t *testing.T, handler http.HandlerFunc) *RazorpayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRazorpayClient("rzp_test_key", "rzp_secret", "whsec", srv.URL)
}

func TestRazorpay_CreateOrder(t *testing.T) {
	client := newRazorpayTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "rzp_secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 150000, body["amount"])
		assert.Equal(t, "agent_abc", body["receipt"])

		_, _ = w.Write([]byte(`{"id":"order_ABC","amount":150000,"currency":"INR","receipt":"agent_abc","status":"created"}`))
	})

	out, err := client.CreateOrder(context.Background(), CreateOrderInput{
		StagingID: "abc", Receipt: "agent_abc", Amount: 150000, Currency: "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_ABC", out.OrderID)
	assert.Equal(t, "rzp_test_key", out.ClientParams["key_id"])
	assert.Equal(t, "150000", out.ClientParams["amount"])
}

func TestRazorpay_FetchPayments(t *testing.T) {
	client := newRazorpayTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/order_ABC/payments", r.URL.Path)
		_, _ = w.Write([]byte(`{"entity":"collection","count":3,"items":[
			{"id":"pay_1","order_id":"order_ABC","amount":150000,"currency":"INR","status":"failed","method":"upi","created_at":1700000000},
			{"id":"pay_2","order_id":"order_ABC","amount":150000,"currency":"INR","status":"authorized","method":"card","created_at":1700000100},
			{"id":"pay_3","order_id":"order_ABC","amount":150000,"currency":"INR","status":"captured","method":"card","created_at":1700000200}
		]}`))
	})

	attempts, err := client.FetchPayments(context.Background(), "order_ABC")
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, StatusFailed, attempts[0].Status)
	assert.Equal(t, StatusPending, attempts[1].Status)
	assert.Nil(t, attempts[1].PaidAt)

	success, ok := SuccessfulAttempt(attempts)
	require.True(t, ok)
	assert.Equal(t, "pay_3", success.PaymentID)
	require.NotNil(t, success.PaidAt)
	assert.Equal(t, time.Unix(1700000200, 0).UTC(), *success.PaidAt)
}

func TestRazorpay_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrOrderNotFound},
		{"server error", http.StatusBadGateway, ErrIndeterminate},
		{"rate limited", http.StatusTooManyRequests, ErrIndeterminate},
		{"bad request", http.StatusBadRequest, ErrRequestRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newRazorpayTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"secret detail"}}`))
			})
			_, err := client.FetchPayments(context.Background(), "order_X")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.NotContains(t, err.Error(), "secret detail")
		})
	}
}

func TestRazorpay_TransportFailureIsIndeterminate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := NewRazorpayClient("k", "s", "", srv.URL)
	srv.Close()

	_, err := client.FetchPayments(context.Background(), "order_X")
	assert.True(t, IsIndeterminate(err))
}

func TestRazorpay_TimeoutIsIndeterminate(t *testing.T) {
	client := newRazorpayTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	client.HTTPClient.Timeout = 50 * time.Millisecond

	_, err := client.FetchPayments(context.Background(), "order_X")
	assert.True(t, IsIndeterminate(err))
}

func TestRazorpay_VerifySignature(t *testing.T) {
	client := NewRazorpayClient("k", "rzp_secret", "", "")

	ok, err := client.VerifySignature("order_1", "pay_1", sign("order_1|pay_1", "rzp_secret"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = client.VerifySignature("order_1", "pay_2", sign("order_1|pay_1", "rzp_secret"))
	assert.False(t, ok)
	ok, _ = client.VerifySignature("order_1", "pay_1", "not-hex")
	assert.False(t, ok)
}

func TestRazorpay_ParseWebhook(t *testing.T) {
	client := NewRazorpayClient("k", "s", "whsec", "")
	body := []byte(`{"entity":"event","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","order_id":"order_9","status":"captured","amount":150000,"currency":"INR"}}}}`)

	header := http.Header{}
	header.Set("X-Razorpay-Signature", sign(string(body), "whsec"))
	header.Set("X-Razorpay-Event-Id", "evt_1")

	ev, err := client.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.True(t, ev.SignaturePresent)
	assert.True(t, ev.SignatureValid)
	assert.False(t, ev.Forged())
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, "order_9", ev.OrderID)
	assert.Equal(t, StatusSuccess, ev.StatusHint)

	header.Set("X-Razorpay-Signature", sign(string(body), "other"))
	header.Del("X-Razorpay-Event-Id")
	ev, err = client.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.False(t, ev.SignatureValid)
	assert.True(t, ev.Forged())
	assert.Len(t, ev.EventID, 32, "event id falls back to a body digest")

	_, err = client.ParseWebhook([]byte("not json"), header)
	assert.Error(t, err)
}

func TestRazorpay_ParseWebhook_Unsigned(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","order_id":"order_9","status":"captured"}}}}`)

	t.Run("no signature header", func(t *testing.T) {
		ev, err := NewRazorpayClient("k", "s", "whsec", "").ParseWebhook(body, http.Header{})
		require.NoError(t, err)
		assert.False(t, ev.SignaturePresent)
		assert.False(t, ev.Forged())
		assert.Equal(t, "order_9", ev.OrderID)
	})

	t.Run("no webhook secret configured", func(t *testing.T) {
		header := http.Header{}
		header.Set("X-Razorpay-Signature", sign(string(body), "whsec"))
		ev, err := NewRazorpayClient("k", "s", "", "").ParseWebhook(body, header)
		require.NoError(t, err)
		assert.False(t, ev.SignaturePresent)
		assert.False(t, ev.Forged())
	})
}

func TestRazorpayStatus(t *testing.T) {
	tests := []struct {
		in   string
		want PaymentStatus
	}{
		{"captured", StatusSuccess},
		{"CAPTURED", StatusSuccess},
		{"authorized", StatusPending},
		{"created", StatusPending},
		{"failed", StatusFailed},
		{"refunded", StatusFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RazorpayStatus(tt.in), tt.in)
	}
}
