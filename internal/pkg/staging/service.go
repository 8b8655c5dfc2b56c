package staging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PropServe/app/models"
)

// Upload is one document submitted with a registration form.
type Upload struct {
	Type     DocumentType
	Filename string
	Reader   io.Reader
}

// Service creates staging records from submitted registration forms.
type Service struct {
	store    Store
	docs     *Documents
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store Store, docs *Documents) *Service {
	return &Service{
		store:    store,
		docs:     docs,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Store exposes the underlying record store.
func (s *Service) Store() Store {
	return s.store
}

// Documents exposes the document storage.
func (s *Service) Documents() *Documents {
	return s.docs
}

// Stage validates the form, writes the documents and persists an immutable
// staging record. The record is durable when Stage returns.
func (s *Service) Stage(ctx context.Context, kind Kind, profile Profile, uploads []Upload) (*PendingRegistration, error) {
	if RequiredDocuments(kind) == nil {
		return nil, fmt.Errorf("%w: unknown registration kind %q", ErrValidation, kind)
	}

	profile.Email = models.NormalizeEmail(profile.Email)
	profile.Name = strings.TrimSpace(profile.Name)
	profile.Phone = strings.TrimSpace(profile.Phone)
	if err := s.validate.Struct(profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if profile.Password == "" && profile.PasswordHash == "" {
		return nil, fmt.Errorf("%w: password is required", ErrValidation)
	}
	if err := checkUploads(kind, uploads); err != nil {
		return nil, err
	}

	if profile.Password != "" {
		hash, err := models.HashPassword(profile.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		profile.PasswordHash = hash
		profile.Password = ""
	}

	stagingID, err := NewStagingID()
	if err != nil {
		return nil, err
	}

	reg := &PendingRegistration{
		StagingID: stagingID,
		Kind:      kind,
		Email:     profile.Email,
		Profile:   profile,
		CreatedAt: s.now().UTC(),
	}
	for _, u := range uploads {
		ref, err := s.docs.Save(stagingID, u.Type, u.Filename, u.Reader)
		if err != nil {
			s.discard(stagingID)
			return nil, err
		}
		reg.Artifacts = append(reg.Artifacts, ref)
	}

	if err := s.store.Create(ctx, reg); err != nil {
		s.discard(stagingID)
		return nil, err
	}

	log.Infof("[Staging] Staged %s registration %s (%d documents)", kind, stagingID, len(reg.Artifacts))
	return reg, nil
}

func (s *Service) discard(stagingID string) {
	if err := s.docs.RemoveAll(stagingID); err != nil {
		log.Warnf("[Staging] Failed to discard documents of %s: %v", stagingID, err)
	}
}

func checkUploads(kind Kind, uploads []Upload) error {
	allowed := make(map[DocumentType]bool)
	for _, t := range AllowedDocuments(kind) {
		allowed[t] = true
	}
	seen := make(map[DocumentType]bool)
	for _, u := range uploads {
		if !allowed[u.Type] {
			return fmt.Errorf("%w: document %q is not accepted for %s", ErrValidation, u.Type, kind)
		}
		if seen[u.Type] {
			return fmt.Errorf("%w: document %q submitted twice", ErrValidation, u.Type)
		}
		seen[u.Type] = true
	}

	var missing []string
	for _, t := range RequiredDocuments(kind) {
		if !seen[t] {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required documents: %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// NewStagingID returns 24 random hex characters.
func NewStagingID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate staging id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IsValidation reports whether err is a user-fixable input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
