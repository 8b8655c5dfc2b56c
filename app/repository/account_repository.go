package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PropServe/app/models"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docs := account.Documents
		account.Documents = nil
		if err := tx.Create(account).Error; err != nil {
			account.Documents = docs
			return err
		}
		for i := range docs {
			docs[i].AccountID = account.ID
		}
		if len(docs) > 0 {
			if err := tx.Create(&docs).Error; err != nil {
				account.Documents = docs
				return err
			}
		}
		account.Documents = docs
		return nil
	})
}

func (r *accountRepository) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Preload("Documents").First(&account, id).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByEmail retrieves an account by its normalized email address
func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.first(ctx, "email = ?", models.NormalizeEmail(email))
}

func (r *accountRepository) GetByStagingID(ctx context.Context, stagingID string) (*models.Account, error) {
	return r.first(ctx, "staging_id = ?", strings.TrimSpace(stagingID))
}

// GetByGatewayOrderID finds the account whose registration receipt carries orderID
func (r *accountRepository) GetByGatewayOrderID(ctx context.Context, orderID string) (*models.Account, error) {
	return r.first(ctx, "subscription_gateway_order_id = ?", strings.TrimSpace(orderID))
}

func (r *accountRepository) GetByPublicID(ctx context.Context, publicID string) (*models.Account, error) {
	return r.first(ctx, "public_id = ?", strings.ToUpper(strings.TrimSpace(publicID)))
}

func (r *accountRepository) PublicIDExists(ctx context.Context, publicID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Account{}).Where("public_id = ?", publicID).Count(&count).Error
	return count > 0, err
}

func (r *accountRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Account{}).Count(&count).Error
	return count, err
}

func (r *accountRepository) first(ctx context.Context, query string, arg string) (*models.Account, error) {
	if arg == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var account models.Account
	err := r.db.WithContext(ctx).Preload("Documents").Where(query, arg).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicate reports whether err is a unique index violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
