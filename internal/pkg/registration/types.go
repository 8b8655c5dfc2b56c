package registration

import "context"

// Outcome is the terminal result of one confirmation attempt.
type Outcome string

const (
	OutcomeMaterialized  Outcome = "materialized"
	OutcomeAlreadyExists Outcome = "already_exists"
	OutcomeExpired       Outcome = "expired"
	OutcomeRejected      Outcome = "rejected"
	OutcomeIndeterminate Outcome = "indeterminate"
	OutcomeInvalid       Outcome = "invalid"
	OutcomeFailed        Outcome = "failed"
)

// Channel names where a confirmation came from.
type Channel string

const (
	ChannelVerify  Channel = "verify"
	ChannelWebhook Channel = "webhook"
	ChannelSweeper Channel = "sweeper"
)

// Confirmation is the input of the reconciliation procedure. PaymentID and
// Signature are optional; LateVoterID carries a base64 voter document captured
// after staging.
type Confirmation struct {
	StagingID   string
	OrderID     string
	PaymentID   string
	Signature   string
	LateVoterID string
	Channel     Channel
}

// Result describes the outcome of Confirm. It is never nil.
type Result struct {
	Outcome       Outcome `json:"outcome"`
	AccountID     uint    `json:"account_id,omitempty"`
	PublicID      string  `json:"public_id,omitempty"`
	Kind          string  `json:"kind,omitempty"`
	Email         string  `json:"email,omitempty"`
	SessionToken  string  `json:"session_token,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	WelcomeQueued bool    `json:"welcome_queued,omitempty"`
}

// TokenIssuer issues the auto-login credential of a new account.
type TokenIssuer interface {
	Issue(accountID uint, publicID, kind, email string) (string, error)
}

// Notifier is told about newly materialized accounts. Errors are logged only.
type Notifier interface {
	AccountMaterialized(ctx context.Context, accountID uint) error
}
