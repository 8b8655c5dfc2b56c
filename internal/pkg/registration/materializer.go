package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropServe/app/models"
	"github.com/ManuelReschke/PropServe/internal/pkg/gateway"
	"github.com/ManuelReschke/PropServe/internal/pkg/staging"
)

const publicIDAttempts = 5

// Accounts is the permanent account store. Lookups return
// gorm.ErrRecordNotFound when nothing matches; Create reports unique index
// violations as gorm.ErrDuplicatedKey.
type Accounts interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uint) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByStagingID(ctx context.Context, stagingID string) (*models.Account, error)
	GetByGatewayOrderID(ctx context.Context, orderID string) (*models.Account, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.Account, error)
	PublicIDExists(ctx context.Context, publicID string) (bool, error)
}

// Materializer turns a staging record plus a successful payment into an
// Account.
type Materializer struct {
	accounts Accounts
	docs     *staging.Documents
	now      func() time.Time
}

func NewMaterializer(accounts Accounts, docs *staging.Documents) *Materializer {
	return &Materializer{accounts: accounts, docs: docs, now: time.Now}
}

// Materialized is the committed account and the staged documents it replaced.
type Materialized struct {
	Account    *models.Account
	Superseded []staging.ArtifactRef
}

// Materialize persists the account and its documents in one transaction.
// Returns errDuplicateAccount when the email or staging id is already taken.
func (m *Materializer) Materialize(ctx context.Context, pending *staging.PendingRegistration, attempt gateway.PaymentAttempt, binding staging.OrderBinding, lateVoterID string) (*Materialized, error) {
	artifacts := append([]staging.ArtifactRef(nil), pending.Artifacts...)
	var superseded []staging.ArtifactRef
	var late *staging.ArtifactRef

	if lateVoterID != "" {
		ref, err := m.docs.SaveLate(pending.StagingID, staging.DocVoterID, lateVoterID)
		if err != nil {
			return nil, err
		}
		late = &ref
		replaced := false
		for i, a := range artifacts {
			if a.Type == staging.DocVoterID {
				if a.Path != ref.Path {
					superseded = append(superseded, a)
				}
				artifacts[i] = ref
				replaced = true
			}
		}
		if !replaced {
			artifacts = append(artifacts, ref)
		}
	}

	check := *pending
	check.Artifacts = artifacts
	if missing := check.MissingDocuments(); len(missing) > 0 {
		m.discardLate(late)
		return nil, fmt.Errorf("%w: missing required documents %v", ErrValidation, missing)
	}

	account, err := m.buildAccount(pending, artifacts, attempt, binding)
	if err != nil {
		m.discardLate(late)
		return nil, err
	}

	for i := 0; i < publicIDAttempts; i++ {
		if account.PublicID, err = m.freePublicID(ctx, account.Kind); err != nil {
			break
		}
		err = m.accounts.Create(ctx, account)
		if err == nil {
			return &Materialized{Account: account, Superseded: superseded}, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		if m.taken(ctx, pending) {
			return nil, errDuplicateAccount
		}
		// only the public id collided
		log.Warnf("[Materializer] Public id %s collided, retrying", account.PublicID)
		account.ID = 0
	}

	m.discardLate(late)
	return nil, fmt.Errorf("persist account for %s: %w", pending.StagingID, err)
}

// taken reports whether the email or staging id already own an account.
func (m *Materializer) taken(ctx context.Context, pending *staging.PendingRegistration) bool {
	if _, err := m.accounts.GetByEmail(ctx, pending.Email); err == nil {
		return true
	}
	if _, err := m.accounts.GetByStagingID(ctx, pending.StagingID); err == nil {
		return true
	}
	return false
}

func (m *Materializer) freePublicID(ctx context.Context, kind string) (string, error) {
	for i := 0; i < publicIDAttempts; i++ {
		id, err := models.GeneratePublicID(kind)
		if err != nil {
			return "", err
		}
		exists, err := m.accounts.PublicIDExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", errors.New("no free public id after several attempts")
}

func (m *Materializer) discardLate(late *staging.ArtifactRef) {
	if late == nil {
		return
	}
	if err := m.docs.Remove(*late); err != nil {
		log.Warnf("[Materializer] Failed to remove late document %s: %v", late.Path, err)
	}
}

func (m *Materializer) buildAccount(pending *staging.PendingRegistration, artifacts []staging.ArtifactRef, attempt gateway.PaymentAttempt, binding staging.OrderBinding) (*models.Account, error) {
	p := pending.Profile

	hash := p.PasswordHash
	if p.Password != "" || !models.LooksHashed(hash) {
		plain := p.Password
		if plain == "" {
			plain = hash
		}
		h, err := models.HashPassword(plain)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = h
	}

	currency := attempt.Currency
	if currency == "" {
		currency = binding.Currency
	}
	paidAt := attempt.PaidAt
	if paidAt == nil {
		now := m.now().UTC()
		paidAt = &now
	}

	account := &models.Account{
		Kind:                           string(pending.Kind),
		StagingID:                      pending.StagingID,
		Name:                           p.Name,
		Email:                          models.NormalizeEmail(pending.Email),
		Phone:                          p.Phone,
		PasswordHash:                   hash,
		Status:                         models.ACCOUNT_STATUS_ACTIVE,
		ReferralMarketingExecutiveName: p.ReferralMarketingExecutiveName,
		ReferralMarketingExecutiveID:   p.ReferralMarketingExecutiveID,
		Subscription: models.Subscription{
			Active:           true,
			PaidAt:           paidAt,
			Gateway:          binding.Gateway,
			GatewayOrderID:   binding.OrderID,
			GatewayPaymentID: attempt.PaymentID,
			Amount:           attempt.Amount,
			Currency:         currency,
		},
	}

	if pending.Kind == staging.KindServiceProvider {
		account.ServiceCategory = p.ServiceCategory
		account.ReferralAgentID = p.ReferralAgentID
		services := p.SelectedServices
		if services == nil {
			services = []string{}
		}
		raw, err := json.Marshal(services)
		if err != nil {
			return nil, err
		}
		account.ServiceTypes = raw
	} else {
		account.Profession = p.Profession
		account.CustomProfession = p.CustomProfession
	}

	for _, a := range artifacts {
		account.Documents = append(account.Documents, models.AccountDocument{
			Type:        string(a.Type),
			Path:        a.Path,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return account, nil
}
