package registration

import (
	"errors"

	"github.com/ManuelReschke/PropServe/internal/pkg/staging"
)

var (
	// ErrValidation is user-fixable bad input.
	ErrValidation = staging.ErrValidation
	// ErrNotFoundOrExpired means the staging record is gone and no account
	// explains its absence.
	ErrNotFoundOrExpired = errors.New("registration not found or expired")
	// ErrGatewayIndeterminate means payment evidence could not be obtained.
	// Nothing was changed; the caller should retry verify.
	ErrGatewayIndeterminate = errors.New("payment status could not be determined, please retry")
	// ErrGatewayRejected means no successful payment backs the confirmation.
	// The staging record is kept so the user can pay again.
	ErrGatewayRejected = errors.New("payment not confirmed")
	// ErrMaterialization is a storage failure while creating the account.
	ErrMaterialization = errors.New("account could not be created")
	// ErrAlreadyRegistered refuses staging or ordering for an email that
	// already owns an account.
	ErrAlreadyRegistered = errors.New("email is already registered")
	// ErrSessionIssuance is returned after the account was committed.
	ErrSessionIssuance = errors.New("account created but session could not be issued")
	// ErrBusy means another confirmation for the same registrant holds the lock.
	ErrBusy = errors.New("registration is being confirmed, please retry")
	// errDuplicateAccount is the unique index firing under a concurrent insert.
	errDuplicateAccount = errors.New("account already exists")
)
