package jobqueue

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PropServe/internal/pkg/s3backup"
)

// Deps are the collaborators of the registration follow-up jobs.
type Deps struct {
	Accounts AccountReader
	SendMail MailSender
	// Backup is nil when the S3 mirror is disabled.
	Backup       DocumentUploader
	BackupConfig *s3backup.Config
}

// RegisterRegistrationJobs installs the welcome email and document backup
// handlers on q.
func (q *Queue) RegisterRegistrationJobs(d Deps) {
	q.Register(JobTypeWelcomeEmail, WelcomeEmailHandler(d.Accounts, d.SendMail))
	if d.Backup != nil && d.BackupConfig.IsEnabled() {
		q.Register(JobTypeDocumentBackup, DocumentBackupHandler(d.Accounts, d.Backup, d.BackupConfig))
	}
}

// RegistrationNotifier enqueues the follow-up jobs of a newly materialized
// account.
type RegistrationNotifier struct {
	queue         *Queue
	backupEnabled bool
}

func NewRegistrationNotifier(queue *Queue, backupEnabled bool) *RegistrationNotifier {
	return &RegistrationNotifier{queue: queue, backupEnabled: backupEnabled}
}

// AccountMaterialized queues the welcome email and, when enabled, the
// document mirror. Only a failure to queue the welcome email is returned.
func (n *RegistrationNotifier) AccountMaterialized(ctx context.Context, accountID uint) error {
	if _, err := n.queue.EnqueueJob(ctx, JobTypeWelcomeEmail, WelcomeEmailJobPayload{AccountID: accountID}.ToMap()); err != nil {
		return err
	}
	if n.backupEnabled {
		if _, err := n.queue.EnqueueJob(ctx, JobTypeDocumentBackup, DocumentBackupJobPayload{AccountID: accountID}.ToMap()); err != nil {
			log.Warnf("[JobQueue] Failed to queue document backup for account %d: %v", accountID, err)
		}
	}
	return nil
}
