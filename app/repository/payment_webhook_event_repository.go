package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PropServe/app/models"
)

type paymentWebhookEventRepository struct {
	db *gorm.DB
}

func NewPaymentWebhookEventRepository(db *gorm.DB) PaymentWebhookEventRepository {
	return &paymentWebhookEventRepository{db: db}
}

func (r *paymentWebhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *paymentWebhookEventRepository) GetByProviderEventID(ctx context.Context, provider, eventID string) (*models.PaymentWebhookEvent, error) {
	var stored models.PaymentWebhookEvent
	err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", provider, eventID).First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// MarkProcessed stamps the delivery. A nil processingErr clears a previous failure.
func (r *paymentWebhookEventRepository) MarkProcessed(ctx context.Context, id uint, outcome string, processingErr error) error {
	now := time.Now()
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	updates := map[string]interface{}{
		"processed_at":     &now,
		"outcome":          outcome,
		"processing_error": msg,
	}
	return r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
