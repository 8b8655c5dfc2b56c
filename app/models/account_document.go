package models

import "time"

const (
	DOC_AADHAR   = "aadhar"
	DOC_VOTER_ID = "voter_id"
	DOC_PAN      = "pan"
)

// AccountDocument references an identity document promoted from staging.
type AccountDocument struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	AccountID   uint      `gorm:"not null;index:ux_account_documents_account_type,unique,priority:1" json:"-"`
	Type        string    `gorm:"type:varchar(20);not null;index:ux_account_documents_account_type,unique,priority:2" json:"type"`
	Path        string    `gorm:"type:varchar(255);not null" json:"path"`
	ContentType string    `gorm:"type:varchar(100)" json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AccountDocument) TableName() string {
	return "account_documents"
}
