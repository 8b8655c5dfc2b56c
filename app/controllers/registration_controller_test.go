package controllers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PropServe/internal/pkg/gateway"
)

func TestStageAgent_Created(t *testing.T) {
	e := newTestEnv(t, nil)

	status, body, _ := e.do(t, multipartRequest(t, "/api/v1/registrations/agent", agentFields("Asha@Example.com"),
		formFile{field: "voterIdFile", name: "voter.png", data: pngBytes}))

	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["stagingId"], 24)
	assert.Equal(t, "agent", body["kind"])
	assert.Equal(t, "razorpay", body["gateway"])
	assert.EqualValues(t, 150000, body["amount"])
	assert.Equal(t, 1, e.store.Len())
}

func TestStageServiceProvider_SelectedServicesAsJSON(t *testing.T) {
	e := newTestEnv(t, nil)
	fields := agentFields("ravi@example.com")
	fields["serviceCategory"] = "repairs"
	fields["selectedServices"] = `["plumbing","electrical"]`

	status, body, _ := e.do(t, multipartRequest(t, "/api/v1/registrations/service-provider", fields,
		formFile{field: "aadhar", name: "aadhar.png", data: pngBytes},
		formFile{field: "voter", name: "voter.png", data: pngBytes},
	))
	require.Equal(t, fiber.StatusCreated, status, body)

	reg, err := e.store.Load(context.Background(), body["stagingId"].(string))
	require.NoError(t, err)
	assert.Equal(t, []string{"plumbing", "electrical"}, reg.Profile.SelectedServices)
	assert.Len(t, reg.Artifacts, 2)
	assert.Empty(t, reg.Profile.Password)
}

func TestStage_ValidationErrors(t *testing.T) {
	e := newTestEnv(t, nil)

	t.Run("missing voter document", func(t *testing.T) {
		status, body, _ := e.do(t, multipartRequest(t, "/api/v1/registrations/agent", agentFields("a@example.com")))
		assert.Equal(t, fiber.StatusUnprocessableEntity, status)
		assert.Equal(t, "validation_error", body["error"])
	})

	t.Run("bad email", func(t *testing.T) {
		status, _, _ := e.do(t, multipartRequest(t, "/api/v1/registrations/agent", agentFields("not-an-email"),
			formFile{field: "voterIdFile", name: "voter.png", data: pngBytes}))
		assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	})

	t.Run("malformed selected services", func(t *testing.T) {
		fields := agentFields("b@example.com")
		fields["selectedServices"] = `["plumbing"`
		status, _, _ := e.do(t, multipartRequest(t, "/api/v1/registrations/service-provider", fields,
			formFile{field: "aadhar", name: "aadhar.png", data: pngBytes},
			formFile{field: "voter", name: "voter.png", data: pngBytes},
		))
		assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	})

	t.Run("not multipart", func(t *testing.T) {
		status, body, _ := e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/registrations/agent", map[string]string{"email": "c@example.com"}))
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, "invalid_form", body["error"])
	})

	assert.Equal(t, 0, e.store.Len())
}

func TestStage_Captcha(t *testing.T) {
	e := newTestEnv(t, fakeCaptcha{})

	status, body, _ := e.do(t, multipartRequest(t, "/api/v1/registrations/agent", agentFields("cap@example.com"),
		formFile{field: "voterIdFile", name: "voter.png", data: pngBytes}))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "captcha_failed", body["error"])

	fields := agentFields("cap@example.com")
	fields["h-captcha-response"] = "token"
	status, _, _ = e.do(t, multipartRequest(t, "/api/v1/registrations/agent", fields,
		formFile{field: "voterIdFile", name: "voter.png", data: pngBytes}))
	assert.Equal(t, fiber.StatusCreated, status)
}

func TestCreateOrder_Responses(t *testing.T) {
	e := newTestEnv(t, nil)
	stagingID := e.stageAgent(t, "order@example.com")

	status, body, _ := e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/orders", map[string]string{"tempId": stagingID}))
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, "order_1", body["orderId"])
	assert.Equal(t, "INR", body["currency"])

	status, body, _ = e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/orders", map[string]string{"stagingId": "0123456789abcdef01234567"}))
	assert.Equal(t, fiber.StatusGone, status)
	assert.Equal(t, "not_found_or_expired", body["error"])

	status, _, _ = e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/orders", map[string]string{}))
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
}

func TestVerify_MaterializesOnceAndReissuesToken(t *testing.T) {
	e := newTestEnv(t, nil)
	stagingID := e.stageAgent(t, "flow@example.com")
	orderID := e.createOrder(t, stagingID)
	e.gw.pay(orderID, "pay_1")

	verify := map[string]string{
		"tempId":              stagingID,
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": "pay_1",
		"razorpay_signature":  checkoutSignature(orderID, "pay_1"),
	}
	status, body, _ := e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/verify", verify))
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, "materialized", body["outcome"])
	assert.Equal(t, "agent", body["kind"])
	publicID := body["accountId"].(string)
	assert.Regexp(t, `^AGT-\d{6}$`, publicID)
	token := body["token"].(string)
	require.NotEmpty(t, token)

	status, body, _ = e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/verify", verify))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "already_exists", body["outcome"])
	assert.Equal(t, publicID, body["accountId"])
	assert.NotEmpty(t, body["token"])

	n, err := e.repos.Account.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 0, e.store.Len())

	// status endpoint follows the staging id into the account
	status, body, _ = e.do(t, jsonRequest(t, http.MethodGet, "/api/v1/registrations/"+stagingID, nil))
	require.Equal(t, fiber.StatusOK, status)
	st := body["status"].(map[string]any)
	assert.Equal(t, "registered", st["state"])
	assert.Equal(t, publicID, st["public_id"])

	// subscription requires the account's own token
	req := jsonRequest(t, http.MethodGet, "/api/v1/accounts/agents/"+publicID+"/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	status, body, _ = e.do(t, req)
	require.Equal(t, fiber.StatusOK, status, body)
	sub := body["subscription"].(map[string]any)
	assert.Equal(t, true, sub["active"])
	assert.Equal(t, orderID, sub["gateway_order_id"])

	req = jsonRequest(t, http.MethodGet, "/api/v1/accounts/agents/AGT-999999/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	status, _, _ = e.do(t, req)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _, _ = e.do(t, jsonRequest(t, http.MethodGet, "/api/v1/accounts/agents/"+publicID+"/subscription", nil))
	assert.Equal(t, fiber.StatusUnauthorized, status)

	req = jsonRequest(t, http.MethodGet, "/api/v1/accounts/service-providers/"+publicID+"/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	status, _, _ = e.do(t, req)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestVerify_OutcomeStatuses(t *testing.T) {
	e := newTestEnv(t, nil)

	t.Run("unpaid order is rejected", func(t *testing.T) {
		stagingID := e.stageAgent(t, "unpaid@example.com")
		orderID := e.createOrder(t, stagingID)
		status, body, _ := e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/verify", map[string]string{"stagingId": stagingID, "orderId": orderID}))
		assert.Equal(t, fiber.StatusPaymentRequired, status)
		assert.Equal(t, "rejected", body["outcome"])
		assert.Equal(t, false, body["success"])
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		stagingID := e.stageAgent(t, "forged@example.com")
		orderID := e.createOrder(t, stagingID)
		e.gw.pay(orderID, "pay_f")
		status, _, _ := e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/verify", map[string]string{
			"stagingId": stagingID, "orderId": orderID, "paymentId": "pay_f", "signature": "deadbeef",
		}))
		assert.Equal(t, fiber.StatusPaymentRequired, status)
	})

	t.Run("gateway outage is retryable", func(t *testing.T) {
		stagingID := e.stageAgent(t, "outage@example.com")
		orderID := e.createOrder(t, stagingID)
		e.gw.fail(orderID, errors.Join(gateway.ErrIndeterminate, errors.New("timeout")))
		status, body, header := e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/verify", map[string]string{"stagingId": stagingID, "orderId": orderID}))
		assert.Equal(t, fiber.StatusServiceUnavailable, status)
		assert.Equal(t, "indeterminate", body["outcome"])
		assert.Equal(t, true, body["retryable"])
		assert.Equal(t, "5", header.Get("Retry-After"))
		_, err := e.store.Load(context.Background(), stagingID)
		assert.NoError(t, err, "staging record must survive an indeterminate verify")
	})

	t.Run("unknown registration is expired", func(t *testing.T) {
		status, body, _ := e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/verify", map[string]string{
			"stagingId": "0123456789abcdef01234567", "orderId": "order_404",
		}))
		assert.Equal(t, fiber.StatusGone, status)
		assert.Equal(t, "expired", body["outcome"])
	})

	t.Run("missing ids are invalid", func(t *testing.T) {
		status, body, _ := e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/verify", map[string]string{"orderId": "order_1"}))
		assert.Equal(t, fiber.StatusUnprocessableEntity, status)
		assert.Equal(t, "invalid", body["outcome"])
	})
}

func TestRegistrationStatus_Pending(t *testing.T) {
	e := newTestEnv(t, nil)
	stagingID := e.stageAgent(t, "pending@example.com")
	e.createOrder(t, stagingID)

	status, body, _ := e.do(t, jsonRequest(t, http.MethodGet, "/api/v1/registrations/"+stagingID, nil))
	require.Equal(t, fiber.StatusOK, status)
	st := body["status"].(map[string]any)
	assert.Equal(t, "pending", st["state"])
	assert.EqualValues(t, 1, st["orders"])
	assert.NotEmpty(t, st["expires_at"])

	status, _, _ = e.do(t, jsonRequest(t, http.MethodGet, "/api/v1/registrations/0123456789abcdef01234567", nil))
	assert.Equal(t, fiber.StatusGone, status)
}

func TestClientIP_IgnoresForwardingHeadersByDefault(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(ClientIP(c)) })

	req := jsonRequest(t, http.MethodGet, "/", nil)
	req.Header.Set("CF-Connecting-IP", "203.0.113.7")
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	req.Header.Set("X-Real-IP", "192.0.2.4")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "0.0.0.0", string(buf[:n]))
}
