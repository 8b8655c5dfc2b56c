package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PropServe/app/models"
	"github.com/ManuelReschke/PropServe/internal/pkg/mail"
)

// AccountReader loads the account a job refers to.
type AccountReader interface {
	GetByID(ctx context.Context, id uint) (*models.Account, error)
}

// MailSender delivers one HTML email, e.g. mail.SendMail.
type MailSender func(to, subject, body string) error

// WelcomeEmailHandler sends the per-role welcome email of a new account.
func WelcomeEmailHandler(accounts AccountReader, send MailSender) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := WelcomeEmailJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("failed to parse welcome email payload: %w", err)
		}

		account, err := accounts.GetByID(ctx, payload.AccountID)
		if err != nil {
			return fmt.Errorf("failed to load account %d: %w", payload.AccountID, err)
		}

		body, err := mail.RenderWelcome(mail.Welcome{
			Name:     account.Name,
			Email:    account.Email,
			Kind:     account.Kind,
			PublicID: account.PublicID,
		})
		if err != nil {
			return err
		}

		if err := send(account.Email, mail.WelcomeSubject(account.Kind), body); err != nil {
			return fmt.Errorf("failed to send welcome email: %w", err)
		}

		log.Infof("[Welcome] Sent welcome email to account %s", account.PublicID)
		return nil
	}
}
