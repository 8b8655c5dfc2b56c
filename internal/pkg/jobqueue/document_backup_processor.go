package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PropServe/internal/pkg/s3backup"
)

// DocumentUploader stores a local file under an object key.
type DocumentUploader interface {
	PutDocument(ctx context.Context, localPath, key, publicID string) (*s3backup.PutResult, error)
}

// DocumentBackupHandler mirrors the identity documents of an account to S3.
// Keys are derived from the public id and document type, so a retried job
// overwrites instead of duplicating objects.
func DocumentBackupHandler(accounts AccountReader, uploader DocumentUploader, cfg *s3backup.Config) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := DocumentBackupJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("failed to parse document backup payload: %w", err)
		}

		account, err := accounts.GetByID(ctx, payload.AccountID)
		if err != nil {
			return fmt.Errorf("failed to load account %d: %w", payload.AccountID, err)
		}

		wanted := make(map[string]bool, len(payload.Types))
		for _, t := range payload.Types {
			wanted[t] = true
		}

		var errs []error
		uploaded := 0
		for _, doc := range account.Documents {
			if len(wanted) > 0 && !wanted[doc.Type] {
				continue
			}
			key := cfg.GetObjectKey(account.PublicID, doc.Type, filepath.Ext(doc.Path))
			if _, err := uploader.PutDocument(ctx, doc.Path, key, account.PublicID); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", doc.Type, err))
				continue
			}
			uploaded++
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("failed to back up documents of %s: %w", account.PublicID, err)
		}

		log.Infof("[S3Backup] Backed up %d documents of account %s", uploaded, account.PublicID)
		return nil
	}
}
