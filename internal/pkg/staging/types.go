package staging

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PropServe/app/models"
)

// Kind is the registrant kind a staging record will materialize into.
type Kind string

const (
	KindAgent           Kind = models.KIND_AGENT
	KindServiceProvider Kind = models.KIND_SERVICE_PROVIDER
)

// DocumentType tags an uploaded identity document.
type DocumentType string

const (
	DocAadhar  DocumentType = models.DOC_AADHAR
	DocVoterID DocumentType = models.DOC_VOTER_ID
	DocPAN     DocumentType = models.DOC_PAN
)

var (
	ErrNotFound      = errors.New("staging record not found")
	ErrExists        = errors.New("staging record already exists")
	ErrOrderConflict = errors.New("order is bound to a different registration")
	ErrValidation    = errors.New("validation failed")
)

// ParseKind accepts the URL/form spellings used by clients.
func ParseKind(raw string) (Kind, error) {
	switch raw {
	case "agent", "agents":
		return KindAgent, nil
	case "service_provider", "service-provider", "provider", "service-providers":
		return KindServiceProvider, nil
	default:
		return "", fmt.Errorf("%w: unknown registration kind %q", ErrValidation, raw)
	}
}

// RequiredDocuments returns the documents a registration of kind must carry.
func RequiredDocuments(kind Kind) []DocumentType {
	switch kind {
	case KindServiceProvider:
		return []DocumentType{DocAadhar, DocVoterID}
	case KindAgent:
		return []DocumentType{DocVoterID}
	default:
		return nil
	}
}

// AllowedDocuments lists every document type accepted for kind.
func AllowedDocuments(kind Kind) []DocumentType {
	if kind == KindServiceProvider {
		return []DocumentType{DocAadhar, DocVoterID, DocPAN}
	}
	return []DocumentType{DocVoterID}
}

// Profile holds registrant-supplied fields. Password is only set between form
// parsing and staging; staged records carry PasswordHash.
type Profile struct {
	Name         string `json:"name" validate:"required,min=2,max=150"`
	Email        string `json:"email" validate:"required,email,max=200"`
	Phone        string `json:"phone" validate:"required,min=6,max=20"`
	Password     string `json:"password,omitempty" validate:"omitempty,min=6,max=72"`
	PasswordHash string `json:"password_hash,omitempty"`

	Profession       string `json:"profession,omitempty" validate:"max=100"`
	CustomProfession string `json:"custom_profession,omitempty" validate:"max=150"`

	ServiceCategory  string   `json:"service_category,omitempty" validate:"max=100"`
	SelectedServices []string `json:"selected_services,omitempty" validate:"max=50,dive,max=100"`
	ReferralAgentID  string   `json:"referral_agent_id,omitempty" validate:"max=50"`

	ReferralMarketingExecutiveName string `json:"referral_marketing_executive_name,omitempty" validate:"max=150"`
	ReferralMarketingExecutiveID   string `json:"referral_marketing_executive_id,omitempty" validate:"max=50"`
}

// ArtifactRef points at a stored identity document.
type ArtifactRef struct {
	Type        DocumentType `json:"type"`
	Path        string       `json:"path"`
	ContentType string       `json:"content_type"`
	Size        int64        `json:"size"`
}

// PendingRegistration is the immutable pre-payment snapshot of a registration.
type PendingRegistration struct {
	StagingID string        `json:"staging_id"`
	Kind      Kind          `json:"kind"`
	Email     string        `json:"email"`
	Profile   Profile       `json:"profile"`
	Artifacts []ArtifactRef `json:"artifacts"`
	CreatedAt time.Time     `json:"created_at"`
}

// Artifact returns the stored document of the given type.
func (p *PendingRegistration) Artifact(t DocumentType) (ArtifactRef, bool) {
	for _, a := range p.Artifacts {
		if a.Type == t {
			return a, true
		}
	}
	return ArtifactRef{}, false
}

// MissingDocuments lists required document types absent from the record.
func (p *PendingRegistration) MissingDocuments() []DocumentType {
	var missing []DocumentType
	for _, t := range RequiredDocuments(p.Kind) {
		if _, ok := p.Artifact(t); !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// OrderBinding is the correlation key written when a gateway order is
// created for a staging record.
type OrderBinding struct {
	OrderID   string    `json:"order_id"`
	StagingID string    `json:"staging_id"`
	Gateway   string    `json:"gateway"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}
