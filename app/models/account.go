package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

const (
	KIND_AGENT            = "agent"
	KIND_SERVICE_PROVIDER = "service_provider"

	ACCOUNT_STATUS_ACTIVE  = "active"
	ACCOUNT_STATUS_BLOCKED = "blocked"

	// PasswordCost matches the cost the marketplace has always hashed with.
	PasswordCost = 10
)

// Subscription is the immutable receipt of the registration payment. It is
// written once when the account is materialized and never re-derived.
type Subscription struct {
	Active           bool       `gorm:"default:false" json:"active"`
	PaidAt           *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	Gateway          string     `gorm:"type:varchar(20)" json:"gateway"`
	GatewayOrderID   string     `gorm:"type:varchar(191);index" json:"gateway_order_id"`
	GatewayPaymentID string     `gorm:"type:varchar(191)" json:"gateway_payment_id"`
	Amount           int64      `json:"amount"`
	Currency         string     `gorm:"type:varchar(3)" json:"currency"`
}

// Account is the permanent Agent or ServiceProvider record. Email is unique
// across both kinds.
type Account struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	PublicID string `gorm:"type:varchar(20);not null;uniqueIndex" json:"public_id"`
	Kind     string `gorm:"type:varchar(20);not null;index" json:"kind" validate:"oneof=agent service_provider"`
	// StagingID links the account to the registration it was created from.
	StagingID    string `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
	Name         string `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Email        string `gorm:"type:varchar(200);not null;uniqueIndex" json:"email" validate:"required,email,max=200"`
	Phone        string `gorm:"type:varchar(20);index" json:"phone" validate:"required,min=6,max=20"`
	PasswordHash string `gorm:"type:varchar(100);not null" json:"-"`
	Status       string `gorm:"type:varchar(20);not null;default:'active'" json:"status"`

	Profession       string `gorm:"type:varchar(100)" json:"profession,omitempty"`
	CustomProfession string `gorm:"type:varchar(150)" json:"custom_profession,omitempty"`

	ServiceCategory string         `gorm:"type:varchar(100)" json:"service_category,omitempty"`
	ServiceTypes    datatypes.JSON `gorm:"type:json" json:"service_types,omitempty"`
	ReferralAgentID string         `gorm:"type:varchar(50)" json:"referral_agent_id,omitempty"`

	ReferralMarketingExecutiveName string `gorm:"type:varchar(150)" json:"referral_marketing_executive_name,omitempty"`
	ReferralMarketingExecutiveID   string `gorm:"type:varchar(50)" json:"referral_marketing_executive_id,omitempty"`

	Subscription Subscription      `gorm:"embedded;embeddedPrefix:subscription_" json:"subscription"`
	Documents    []AccountDocument `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"documents,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// CheckPassword compares a plaintext password with the stored hash.
func (a *Account) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// DocumentPath returns the stored path for the given document type.
func (a *Account) DocumentPath(docType string) string {
	for _, d := range a.Documents {
		if d.Type == docType {
			return d.Path
		}
	}
	return ""
}

// HashPassword hashes a plaintext credential.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	return string(bytes), err
}

// LooksHashed reports whether s is already a bcrypt hash.
func LooksHashed(s string) bool {
	if _, err := bcrypt.Cost([]byte(s)); err != nil {
		return false
	}
	return true
}

// NormalizeEmail lower-cases and trims an address for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PublicIDPrefix returns the public id prefix for an account kind.
func PublicIDPrefix(kind string) string {
	if kind == KIND_SERVICE_PROVIDER {
		return "SRV"
	}
	return "AGT"
}

// GeneratePublicID returns e.g. "AGT-042917".
func GeneratePublicID(kind string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%06d", PublicIDPrefix(kind), n.Int64()), nil
}
