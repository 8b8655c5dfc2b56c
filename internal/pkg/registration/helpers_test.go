package registration

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropServe/app/models"
	"github.com/ManuelReschke/PropServe/internal/pkg/gateway"
	"github.com/ManuelReschke/PropServe/internal/pkg/staging"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 1, 2, 3}

const testSecret = "rzp_secret"

// memAccounts is an Accounts store with unique email, staging id and public id.
type memAccounts struct {
	mu         sync.Mutex
	rows       map[uint]models.Account
	nextID     uint
	failCreate error
	creates    int
}

func newMemAccounts() *memAccounts {
	return &memAccounts{rows: make(map[uint]models.Account)}
}

func (m *memAccounts) Create(ctx context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.failCreate != nil {
		return m.failCreate
	}
	for _, e := range m.rows {
		if e.Email == a.Email || e.StagingID == a.StagingID || e.PublicID == a.PublicID {
			return gorm.ErrDuplicatedKey
		}
	}
	m.nextID++
	a.ID = m.nextID
	m.rows[a.ID] = *a
	return nil
}

func (m *memAccounts) find(match func(models.Account) bool) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.rows {
		if match(e) {
			cp := e
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memAccounts) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	return m.find(func(a models.Account) bool { return a.ID == id })
}

func (m *memAccounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	email = models.NormalizeEmail(email)
	return m.find(func(a models.Account) bool { return email != "" && a.Email == email })
}

func (m *memAccounts) GetByStagingID(ctx context.Context, id string) (*models.Account, error) {
	return m.find(func(a models.Account) bool { return id != "" && a.StagingID == id })
}

func (m *memAccounts) GetByGatewayOrderID(ctx context.Context, orderID string) (*models.Account, error) {
	return m.find(func(a models.Account) bool { return orderID != "" && a.Subscription.GatewayOrderID == orderID })
}

func (m *memAccounts) GetByPublicID(ctx context.Context, publicID string) (*models.Account, error) {
	return m.find(func(a models.Account) bool { return strings.EqualFold(a.PublicID, publicID) })
}

func (m *memAccounts) PublicIDExists(ctx context.Context, publicID string) (bool, error) {
	_, err := m.GetByPublicID(ctx, publicID)
	return err == nil, nil
}

func (m *memAccounts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memAccounts) setFailCreate(err error) {
	m.mu.Lock()
	m.failCreate = err
	m.mu.Unlock()
}

// stubGateway hands out ORD_<n> ids and answers FetchPayments from a table.
type stubGateway struct {
	mu       sync.Mutex
	orders   int
	payments map[string][]gateway.PaymentAttempt
	errs     map[string]error
	fetches  int
}

func newStubGateway() *stubGateway {
	return &stubGateway{payments: map[string][]gateway.PaymentAttempt{}, errs: map[string]error{}}
}

func (g *stubGateway) Name() string { return "razorpay" }

func (g *stubGateway) CreateOrder(ctx context.Context, in gateway.CreateOrderInput) (*gateway.CreatedOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders++
	id := fmt.Sprintf("ORD_%d", g.orders)
	return &gateway.CreatedOrder{OrderID: id, Amount: in.Amount, Currency: in.Currency, ClientParams: map[string]string{"order_id": id}}, nil
}

func (g *stubGateway) FetchOrder(ctx context.Context, orderID string) (*gateway.Order, error) {
	return &gateway.Order{OrderID: orderID}, nil
}

func (g *stubGateway) FetchPayments(ctx context.Context, orderID string) ([]gateway.PaymentAttempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if err := g.errs[orderID]; err != nil {
		return nil, err
	}
	return append([]gateway.PaymentAttempt(nil), g.payments[orderID]...), nil
}

func (g *stubGateway) VerifySignature(orderID, paymentID, signature string) (bool, error) {
	return gateway.VerifyPaymentSignature(orderID, paymentID, signature, testSecret), nil
}

func (g *stubGateway) ParseWebhook(body []byte, header http.Header) (*gateway.WebhookEvent, error) {
	return nil, errors.New("not used")
}

func (g *stubGateway) pay(orderID string, attempts ...gateway.PaymentAttempt) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[orderID] = attempts
	delete(g.errs, orderID)
}

func (g *stubGateway) fail(orderID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[orderID] = err
}

func success(paymentID string) gateway.PaymentAttempt {
	paid := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return gateway.PaymentAttempt{PaymentID: paymentID, Status: gateway.StatusSuccess, Amount: DefaultFee, Currency: "INR", PaidAt: &paid}
}

// mockGateway is a testify mock for call expectations.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string { return "razorpay" }

func (m *mockGateway) CreateOrder(ctx context.Context, in gateway.CreateOrderInput) (*gateway.CreatedOrder, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*gateway.CreatedOrder)
	return out, args.Error(1)
}

func (m *mockGateway) FetchOrder(ctx context.Context, orderID string) (*gateway.Order, error) {
	args := m.Called(ctx, orderID)
	out, _ := args.Get(0).(*gateway.Order)
	return out, args.Error(1)
}

func (m *mockGateway) FetchPayments(ctx context.Context, orderID string) ([]gateway.PaymentAttempt, error) {
	args := m.Called(ctx, orderID)
	out, _ := args.Get(0).([]gateway.PaymentAttempt)
	return out, args.Error(1)
}

func (m *mockGateway) VerifySignature(orderID, paymentID, signature string) (bool, error) {
	args := m.Called(orderID, paymentID, signature)
	return args.Bool(0), args.Error(1)
}

func (m *mockGateway) ParseWebhook(body []byte, header http.Header) (*gateway.WebhookEvent, error) {
	args := m.Called(body, header)
	out, _ := args.Get(0).(*gateway.WebhookEvent)
	return out, args.Error(1)
}

type fakeTokens struct {
	mu     sync.Mutex
	err    error
	issued int
}

func (f *fakeTokens) Issue(accountID uint, publicID, kind, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.issued++
	return fmt.Sprintf("token-%d-%d", accountID, f.issued), nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls []uint
}

func (f *fakeNotifier) AccountMaterialized(ctx context.Context, accountID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, accountID)
	return f.err
}

// noLocker grants every lock, leaving only the unique index.
type noLocker struct{}

func (noLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return func() {}, nil
}

type harness struct {
	svc      *Service
	store    *staging.MemoryStore
	docs     *staging.Documents
	accounts *memAccounts
	gw       gateway.Gateway
	stub     *stubGateway
	tokens   *fakeTokens
	notifier *fakeNotifier
	root     string
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, newStubGateway(), nil)
}

func newHarnessWith(t *testing.T, gw gateway.Gateway, locker Locker) *harness {
	t.Helper()
	h := &harness{
		store:    staging.NewMemoryStore(),
		root:     t.TempDir(),
		accounts: newMemAccounts(),
		gw:       gw,
		tokens:   &fakeTokens{},
		notifier: &fakeNotifier{},
	}
	h.stub, _ = gw.(*stubGateway)
	h.docs = staging.NewDocuments(h.root)
	h.svc = NewService(Config{}, Deps{
		Staging:  staging.NewService(h.store, h.docs),
		Gateway:  gw,
		Accounts: h.accounts,
		Locker:   locker,
		Tokens:   h.tokens,
		Notifier: h.notifier,
	})
	return h
}

func agentProfile(email string) staging.Profile {
	return staging.Profile{Name: "Asha Agent", Email: email, Phone: "9876543210", Password: "secret-pass", Profession: "broker"}
}

func (h *harness) stageAgent(t *testing.T, email string) *staging.PendingRegistration {
	t.Helper()
	reg, err := h.svc.Submit(context.Background(), staging.KindAgent, agentProfile(email),
		[]staging.Upload{{Type: staging.DocVoterID, Filename: "voter.png", Reader: bytes.NewReader(pngBytes)}})
	require.NoError(t, err)
	return reg
}

// stageAgedAgent writes a record created at createdAt directly to the store.
func (h *harness) stageAgedAgent(t *testing.T, email string, createdAt time.Time) *staging.PendingRegistration {
	t.Helper()
	id, err := staging.NewStagingID()
	require.NoError(t, err)
	ref, err := h.docs.Save(id, staging.DocVoterID, "voter.png", bytes.NewReader(pngBytes))
	require.NoError(t, err)
	hash, err := models.HashPassword("secret-pass")
	require.NoError(t, err)

	profile := agentProfile(email)
	profile.Password = ""
	profile.PasswordHash = hash
	reg := &staging.PendingRegistration{
		StagingID: id,
		Kind:      staging.KindAgent,
		Email:     email,
		Profile:   profile,
		Artifacts: []staging.ArtifactRef{ref},
		CreatedAt: createdAt,
	}
	require.NoError(t, h.store.Create(context.Background(), reg))
	return reg
}

func (h *harness) order(t *testing.T, stagingID string) string {
	t.Helper()
	out, err := h.svc.CreateOrder(context.Background(), stagingID)
	require.NoError(t, err)
	return out.OrderID
}

func (h *harness) documentCount(t *testing.T) int {
	t.Helper()
	n := 0
	_ = filepath.WalkDir(filepath.Join(h.root, "documents"), func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func hmacHex(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
