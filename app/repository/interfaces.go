package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PropServe/app/models"
)

// AccountRepository defines the interface for account-related database operations.
// Lookups return gorm.ErrRecordNotFound when nothing matches.
type AccountRepository interface {
	// Create inserts the account and its documents in one transaction. A
	// unique index violation surfaces as gorm.ErrDuplicatedKey.
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uint) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByStagingID(ctx context.Context, stagingID string) (*models.Account, error)
	GetByGatewayOrderID(ctx context.Context, orderID string) (*models.Account, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.Account, error)
	PublicIDExists(ctx context.Context, publicID string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// PaymentWebhookEventRepository defines the webhook delivery ledger
type PaymentWebhookEventRepository interface {
	// CreateIfNotExists returns created=false and the stored row when the
	// provider event id was seen before.
	CreateIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	GetByProviderEventID(ctx context.Context, provider, eventID string) (*models.PaymentWebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, outcome string, processingErr error) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Account      AccountRepository
	WebhookEvent PaymentWebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account:      NewAccountRepository(db),
		WebhookEvent: NewPaymentWebhookEventRepository(db),
	}
}
