package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentWebhookEvent stores gateway webhook deliveries with deduplication
// metadata for idempotent processing.
type PaymentWebhookEvent struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Provider         string         `gorm:"type:varchar(20);not null;index:ux_payment_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID  string         `gorm:"type:varchar(191);not null;default:'';index:ux_payment_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType        string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	GatewayOrderID   string         `gorm:"type:varchar(191);index" json:"gateway_order_id"`
	Payload          datatypes.JSON `gorm:"type:json" json:"payload"`
	SignaturePresent bool           `gorm:"default:false" json:"signature_present"`
	SignatureValid   bool           `gorm:"default:false;index" json:"signature_valid"`
	Outcome          string         `gorm:"type:varchar(32)" json:"outcome"`
	ProcessedAt      *time.Time     `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError  string         `gorm:"type:text" json:"processing_error"`
	CreatedAt        time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentWebhookEvent) TableName() string {
	return "payment_webhook_events"
}

// NeedsProcessing reports whether a stored delivery still has to be handled.
func (e *PaymentWebhookEvent) NeedsProcessing() bool {
	return e.ProcessedAt == nil || e.ProcessingError != ""
}
