package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropServe/app/models"
	"github.com/ManuelReschke/PropServe/internal/pkg/gateway"
	"github.com/ManuelReschke/PropServe/internal/pkg/metrics"
	"github.com/ManuelReschke/PropServe/internal/pkg/staging"
)

// Deps are the collaborators of Service.
type Deps struct {
	Staging  *staging.Service
	Gateway  gateway.Gateway
	Accounts Accounts
	Locker   Locker
	Tokens   TokenIssuer
	Notifier Notifier
}

// Service is the registration pipeline as used by the HTTP layer and the
// background sweeper.
type Service struct {
	cfg        Config
	staging    *staging.Service
	store      staging.Store
	gateway    gateway.Gateway
	accounts   Accounts
	reconciler *Reconciler
	sweeper    *Sweeper
	now        func() time.Time
}

func NewService(cfg Config, deps Deps) *Service {
	cfg = cfg.withDefaults()
	locker := deps.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}
	store := deps.Staging.Store()
	docs := deps.Staging.Documents()
	reconciler := NewReconciler(store, docs, deps.Gateway, deps.Accounts, locker, deps.Tokens, deps.Notifier)

	return &Service{
		cfg:        cfg,
		staging:    deps.Staging,
		store:      store,
		gateway:    deps.Gateway,
		accounts:   deps.Accounts,
		reconciler: reconciler,
		sweeper:    NewSweeper(store, docs, deps.Gateway, deps.Accounts, locker, reconciler, cfg.StagingTTL),
		now:        time.Now,
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) GatewayName() string {
	return s.gateway.Name()
}

// Submit stages a registration. Emails that already own an account are
// refused before any document is written.
func (s *Service) Submit(ctx context.Context, kind staging.Kind, profile staging.Profile, uploads []staging.Upload) (*staging.PendingRegistration, error) {
	if err := s.ensureUnregistered(ctx, profile.Email); err != nil {
		return nil, err
	}
	reg, err := s.staging.Stage(ctx, kind, profile, uploads)
	if err != nil {
		return nil, err
	}
	metrics.IncStaged(string(kind))
	return reg, nil
}

// OrderResult is what the client needs to open the gateway checkout.
type OrderResult struct {
	OrderID      string            `json:"order_id"`
	Gateway      string            `json:"gateway"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ClientParams map[string]string `json:"client_params"`
}

// CreateOrder opens a gateway order for a staging record and stores the
// order binding before returning it.
func (s *Service) CreateOrder(ctx context.Context, stagingID string) (*OrderResult, error) {
	stagingID = strings.TrimSpace(stagingID)
	if stagingID == "" {
		return nil, fmt.Errorf("%w: stagingId is required", ErrValidation)
	}
	pending, err := s.store.Load(ctx, stagingID)
	if errors.Is(err, staging.ErrNotFound) {
		return nil, ErrNotFoundOrExpired
	}
	if err != nil {
		return nil, fmt.Errorf("load staging record: %w", err)
	}
	if err := s.ensureUnregistered(ctx, pending.Email); err != nil {
		return nil, err
	}

	amount := s.cfg.Fee(pending.Kind)
	created, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderInput{
		StagingID: stagingID,
		Receipt:   Receipt(pending.Kind, stagingID),
		Purpose:   string(pending.Kind) + "_registration",
		Amount:    amount,
		Currency:  s.cfg.Currency,
		Customer: gateway.Customer{
			ID:    stagingID,
			Name:  pending.Profile.Name,
			Email: pending.Email,
			Phone: pending.Profile.Phone,
		},
	})
	if err != nil {
		if gateway.IsIndeterminate(err) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayIndeterminate, err)
		}
		return nil, fmt.Errorf("create payment order: %w", err)
	}

	binding := staging.OrderBinding{
		OrderID:   created.OrderID,
		StagingID: stagingID,
		Gateway:   s.gateway.Name(),
		Amount:    amount,
		Currency:  s.cfg.Currency,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.BindOrder(ctx, binding); err != nil {
		return nil, fmt.Errorf("bind order %s: %w", created.OrderID, err)
	}
	log.Infof("[Registration] Order %s created for %s (%d %s)", created.OrderID, stagingID, amount, s.cfg.Currency)

	return &OrderResult{
		OrderID:      created.OrderID,
		Gateway:      s.gateway.Name(),
		Amount:       amount,
		Currency:     s.cfg.Currency,
		ClientParams: created.ClientParams,
	}, nil
}

// Verify is the synchronous confirmation channel.
func (s *Service) Verify(ctx context.Context, c Confirmation) (*Result, error) {
	c.Channel = ChannelVerify
	return s.reconciler.Confirm(ctx, c)
}

// ConfirmOrder is the webhook confirmation channel.
func (s *Service) ConfirmOrder(ctx context.Context, orderID string) (*Result, error) {
	return s.reconciler.ConfirmOrder(ctx, orderID, ChannelWebhook)
}

// Sweep runs one expiry pass.
func (s *Service) Sweep(ctx context.Context) error {
	return s.sweeper.Sweep(ctx)
}

// Account returns the account of the given kind and public id.
func (s *Service) Account(ctx context.Context, kind staging.Kind, publicID string) (*models.Account, error) {
	acc, err := s.accounts.GetByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFoundOrExpired
		}
		return nil, err
	}
	if acc.Kind != string(kind) {
		return nil, ErrNotFoundOrExpired
	}
	return acc, nil
}

// Status describes where a registration currently is.
type Status struct {
	State     string     `json:"state"` // pending | registered
	StagingID string     `json:"staging_id"`
	Kind      string     `json:"kind"`
	PublicID  string     `json:"public_id,omitempty"`
	Orders    int        `json:"orders,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Status reports a staged registration, or the account it became. Records
// that are gone without an account return ErrNotFoundOrExpired.
func (s *Service) Status(ctx context.Context, stagingID string) (*Status, error) {
	stagingID = strings.TrimSpace(stagingID)
	if stagingID == "" {
		return nil, fmt.Errorf("%w: stagingId is required", ErrValidation)
	}
	pending, err := s.store.Load(ctx, stagingID)
	switch {
	case err == nil:
		orders, err := s.store.OrdersFor(ctx, stagingID)
		if err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		expires := pending.CreatedAt.Add(s.cfg.StagingTTL)
		return &Status{
			State:     "pending",
			StagingID: stagingID,
			Kind:      string(pending.Kind),
			Orders:    len(orders),
			ExpiresAt: &expires,
		}, nil
	case !errors.Is(err, staging.ErrNotFound):
		return nil, fmt.Errorf("load staging record: %w", err)
	}

	acc, err := s.accounts.GetByStagingID(ctx, stagingID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFoundOrExpired
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	return &Status{State: "registered", StagingID: stagingID, Kind: acc.Kind, PublicID: acc.PublicID}, nil
}

func (s *Service) ensureUnregistered(ctx context.Context, email string) error {
	_, err := s.accounts.GetByEmail(ctx, models.NormalizeEmail(email))
	switch {
	case err == nil:
		return ErrAlreadyRegistered
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	default:
		return fmt.Errorf("lookup account: %w", err)
	}
}

// Receipt returns the gateway receipt for a registration, e.g. agent_<id>.
func Receipt(kind staging.Kind, stagingID string) string {
	if kind == staging.KindServiceProvider {
		return "provider_" + stagingID
	}
	return "agent_" + stagingID
}
