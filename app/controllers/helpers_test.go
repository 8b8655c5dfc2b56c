package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PropServe/app/models"
	"github.com/ManuelReschke/PropServe/app/repository"
	"github.com/ManuelReschke/PropServe/internal/pkg/gateway"
	"github.com/ManuelReschke/PropServe/internal/pkg/middleware"
	"github.com/ManuelReschke/PropServe/internal/pkg/registration"
	"github.com/ManuelReschke/PropServe/internal/pkg/security"
	"github.com/ManuelReschke/PropServe/internal/pkg/staging"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 1, 2, 3}

const checkoutSecret = "rzp_test_secret"

// fakeGateway issues sequential order ids, answers payments from a table
// and returns a preset webhook event.
type fakeGateway struct {
	mu       sync.Mutex
	orders   int
	payments map[string][]gateway.PaymentAttempt
	errs     map[string]error
	event    *gateway.WebhookEvent
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string][]gateway.PaymentAttempt{}, errs: map[string]error{}}
}

func (g *fakeGateway) Name() string { return "razorpay" }

func (g *fakeGateway) CreateOrder(ctx context.Context, in gateway.CreateOrderInput) (*gateway.CreatedOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders++
	id := fmt.Sprintf("order_%d", g.orders)
	return &gateway.CreatedOrder{OrderID: id, Amount: in.Amount, Currency: in.Currency, ClientParams: map[string]string{"key": "rzp_test"}}, nil
}

func (g *fakeGateway) FetchOrder(ctx context.Context, orderID string) (*gateway.Order, error) {
	return &gateway.Order{OrderID: orderID}, nil
}

func (g *fakeGateway) FetchPayments(ctx context.Context, orderID string) ([]gateway.PaymentAttempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.errs[orderID]; err != nil {
		return nil, err
	}
	return g.payments[orderID], nil
}

func (g *fakeGateway) VerifySignature(orderID, paymentID, signature string) (bool, error) {
	return gateway.VerifyPaymentSignature(orderID, paymentID, signature, checkoutSecret), nil
}

func (g *fakeGateway) ParseWebhook(body []byte, header http.Header) (*gateway.WebhookEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.event == nil {
		return nil, errors.New("unparseable")
	}
	ev := *g.event
	return &ev, nil
}

func (g *fakeGateway) pay(orderID, paymentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	paid := time.Now().UTC()
	g.payments[orderID] = []gateway.PaymentAttempt{{
		PaymentID: paymentID, Status: gateway.StatusSuccess, Amount: registration.DefaultFee, Currency: "INR", PaidAt: &paid,
	}}
	delete(g.errs, orderID)
}

func (g *fakeGateway) fail(orderID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[orderID] = err
}

func (g *fakeGateway) setEvent(ev *gateway.WebhookEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.event = ev
}

type fakeCaptcha struct{ err error }

func (f fakeCaptcha) Verify(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("missing token")
	}
	return f.err
}

type testEnv struct {
	app    *fiber.App
	gw     *fakeGateway
	repos  *repository.Repositories
	tokens *security.TokenService
	store  *staging.MemoryStore
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Account{}, &models.AccountDocument{}, &models.PaymentWebhookEvent{}))
	return db
}

func newTestEnv(t *testing.T, captcha CaptchaVerifier) *testEnv {
	t.Helper()
	tokens, err := security.NewTokenService("controller-test-secret", "propserve", time.Hour)
	require.NoError(t, err)

	e := &testEnv{
		gw:     newFakeGateway(),
		repos:  repository.NewRepositories(newTestDB(t)),
		tokens: tokens,
		store:  staging.NewMemoryStore(),
	}
	svc := registration.NewService(registration.Config{}, registration.Deps{
		Staging:  staging.NewService(e.store, staging.NewDocuments(t.TempDir())),
		Gateway:  e.gw,
		Accounts: e.repos.Account,
		Locker:   registration.NewMemoryLocker(),
		Tokens:   tokens,
	})

	rc := NewRegistrationController(svc, captcha)
	wc := NewPaymentWebhookController(svc, e.gw, e.repos.WebhookEvent)

	e.app = fiber.New()
	v1 := e.app.Group("/api/v1")
	v1.Post("/registrations/agent", rc.HandleStageAgent)
	v1.Post("/registrations/service-provider", rc.HandleStageServiceProvider)
	v1.Post("/payments/orders", rc.HandleCreateOrder)
	v1.Post("/payments/verify", rc.HandleVerify)
	v1.Post("/payments/webhook", wc.HandlePaymentWebhook)
	v1.Get("/registrations/:stagingId", rc.HandleRegistrationStatus)
	v1.Get("/accounts/:kind/:publicId/subscription", middleware.RequireAccountToken(tokens), rc.HandleSubscription)
	return e
}

type formFile struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := w.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, map[string]any, http.Header) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp.StatusCode, body, resp.Header
}

func agentFields(email string) map[string]string {
	return map[string]string{
		"name":       "Asha Agent",
		"email":      email,
		"phone":      "9876543210",
		"password":   "secret-pass",
		"profession": "broker",
	}
}

// stageAgent posts an agent form and returns the staging id.
func (e *testEnv) stageAgent(t *testing.T, email string) string {
	t.Helper()
	status, body, _ := e.do(t, multipartRequest(t, "/api/v1/registrations/agent", agentFields(email),
		formFile{field: "voterIdFile", name: "voter.png", data: pngBytes}))
	require.Equal(t, fiber.StatusCreated, status, body)
	return body["stagingId"].(string)
}

func (e *testEnv) createOrder(t *testing.T, stagingID string) string {
	t.Helper()
	status, body, _ := e.do(t, jsonRequest(t, http.MethodPost, "/api/v1/payments/orders", map[string]string{"stagingId": stagingID}))
	require.Equal(t, fiber.StatusCreated, status, body)
	return body["orderId"].(string)
}

func checkoutSignature(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(checkoutSecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
