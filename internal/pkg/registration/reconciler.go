package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropServe/app/models"
	"github.com/ManuelReschke/PropServe/internal/pkg/gateway"
	"github.com/ManuelReschke/PropServe/internal/pkg/metrics"
	"github.com/ManuelReschke/PropServe/internal/pkg/staging"
)

// Reconciler decides whether a confirmation materializes an account. It is
// safe to call concurrently for the same registration from any channel.
type Reconciler struct {
	store        staging.Store
	docs         *staging.Documents
	gateway      gateway.Gateway
	accounts     Accounts
	materializer *Materializer
	locker       Locker
	tokens       TokenIssuer
	notifier     Notifier
}

func NewReconciler(store staging.Store, docs *staging.Documents, gw gateway.Gateway, accounts Accounts, locker Locker, tokens TokenIssuer, notifier Notifier) *Reconciler {
	return &Reconciler{
		store:        store,
		docs:         docs,
		gateway:      gw,
		accounts:     accounts,
		materializer: NewMaterializer(accounts, docs),
		locker:       locker,
		tokens:       tokens,
		notifier:     notifier,
	}
}

// Confirm runs the reconciliation procedure for a staging id and order id.
// The returned error is nil for Materialized and AlreadyExists.
func (r *Reconciler) Confirm(ctx context.Context, c Confirmation) (*Result, error) {
	start := time.Now()
	res, err := r.confirm(ctx, c)
	r.record(c, res, err, time.Since(start))
	return res, err
}

// ConfirmOrder resolves the staging id through the order binding. Unknown
// orders are reported as expired so the webhook can be acknowledged.
func (r *Reconciler) ConfirmOrder(ctx context.Context, orderID string, channel Channel) (*Result, error) {
	orderID = strings.TrimSpace(orderID)
	c := Confirmation{OrderID: orderID, Channel: channel}
	if orderID == "" {
		res := &Result{Outcome: OutcomeInvalid, Reason: "order id is required"}
		err := fmt.Errorf("%w: order id is required", ErrValidation)
		r.record(c, res, err, 0)
		return res, err
	}

	binding, err := r.store.LookupOrder(ctx, orderID)
	if err == nil {
		c.StagingID = binding.StagingID
		return r.Confirm(ctx, c)
	}

	start := time.Now()
	var res *Result
	if errors.Is(err, staging.ErrNotFound) {
		res, err = r.resolveMissing(ctx, c)
	} else {
		res, err = failed(fmt.Errorf("lookup order binding: %w", err))
	}
	r.record(c, res, err, time.Since(start))
	return res, err
}

func (r *Reconciler) record(c Confirmation, res *Result, err error, took time.Duration) {
	metrics.IncReconciliation(string(c.Channel), string(res.Outcome))
	switch res.Outcome {
	case OutcomeMaterialized, OutcomeAlreadyExists:
		log.Infof("[Reconciler] %s staging=%s order=%s outcome=%s account=%s (%s)", c.Channel, c.StagingID, c.OrderID, res.Outcome, res.PublicID, took)
		if err != nil {
			log.Errorf("[Reconciler] %s staging=%s: %v", c.Channel, c.StagingID, err)
		}
	case OutcomeFailed:
		log.Errorf("[Reconciler] %s staging=%s order=%s outcome=%s: %v", c.Channel, c.StagingID, c.OrderID, res.Outcome, err)
	default:
		log.Infof("[Reconciler] %s staging=%s order=%s outcome=%s reason=%q", c.Channel, c.StagingID, c.OrderID, res.Outcome, res.Reason)
	}
}

func (r *Reconciler) confirm(ctx context.Context, c Confirmation) (*Result, error) {
	c.StagingID = strings.TrimSpace(c.StagingID)
	c.OrderID = strings.TrimSpace(c.OrderID)
	if c.StagingID == "" || c.OrderID == "" {
		return &Result{Outcome: OutcomeInvalid, Reason: "stagingId and orderId are required"},
			fmt.Errorf("%w: stagingId and orderId are required", ErrValidation)
	}

	// 1. staging record
	pending, err := r.store.Load(ctx, c.StagingID)
	if errors.Is(err, staging.ErrNotFound) {
		return r.resolveMissing(ctx, c)
	}
	if err != nil {
		return failed(fmt.Errorf("load staging record: %w", err))
	}

	binding, err := r.store.LookupOrder(ctx, c.OrderID)
	if errors.Is(err, staging.ErrNotFound) {
		// bindings go away with the record when a concurrent call materialized
		if acc, aerr := r.accounts.GetByStagingID(ctx, c.StagingID); aerr == nil {
			res := identity(OutcomeAlreadyExists, acc)
			r.maybeReissue(c, acc, res)
			return res, nil
		}
		return rejected("order does not belong to this registration")
	}
	if err != nil {
		return failed(fmt.Errorf("lookup order binding: %w", err))
	}
	if binding.StagingID != c.StagingID {
		return rejected("order does not belong to this registration")
	}

	// 2-4. payment evidence
	attempt, res, err := r.evidence(ctx, c, binding)
	if res != nil {
		return res, err
	}

	// 5-6. critical section per registrant email
	release, err := r.locker.Acquire(ctx, lockKey(pending.Email), lockTTL)
	if err != nil {
		if !errors.Is(err, ErrBusy) {
			err = fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return &Result{Outcome: OutcomeIndeterminate, Reason: ErrBusy.Error()}, err
	}
	defer release()

	pending, err = r.store.Load(ctx, c.StagingID)
	if errors.Is(err, staging.ErrNotFound) {
		return r.resolveMissing(ctx, c)
	}
	if err != nil {
		return failed(fmt.Errorf("reload staging record: %w", err))
	}

	existing, err := r.accounts.GetByEmail(ctx, pending.Email)
	if err == nil {
		return r.alreadyExists(ctx, c, pending, existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return failed(fmt.Errorf("%w: lookup account: %v", ErrMaterialization, err))
	}

	mat, err := r.materializer.Materialize(ctx, pending, *attempt, *binding, c.LateVoterID)
	switch {
	case errors.Is(err, errDuplicateAccount):
		existing, lerr := r.accounts.GetByEmail(ctx, pending.Email)
		if lerr != nil {
			existing, lerr = r.accounts.GetByStagingID(ctx, pending.StagingID)
		}
		if lerr != nil {
			return failed(fmt.Errorf("%w: duplicate account not readable: %v", ErrMaterialization, lerr))
		}
		return r.alreadyExists(ctx, c, pending, existing), nil
	case errors.Is(err, ErrValidation):
		return &Result{Outcome: OutcomeInvalid, Reason: err.Error()}, err
	case err != nil:
		// staging is kept for a retry from any channel
		return failed(fmt.Errorf("%w: %v", ErrMaterialization, err))
	}

	// 6. committed
	account := mat.Account
	r.removeStaging(ctx, c.StagingID)
	if len(mat.Superseded) > 0 {
		if err := r.docs.Remove(mat.Superseded...); err != nil {
			log.Warnf("[Reconciler] Failed to remove superseded documents of %s: %v", c.StagingID, err)
		}
	}

	res = identity(OutcomeMaterialized, account)
	res.WelcomeQueued = r.notify(ctx, account.ID)
	token, err := r.tokens.Issue(account.ID, account.PublicID, account.Kind, account.Email)
	if err != nil {
		res.Reason = ErrSessionIssuance.Error()
		return res, fmt.Errorf("%w: %v", ErrSessionIssuance, err)
	}
	res.SessionToken = token
	return res, nil
}

// evidence returns the successful attempt, or a terminal result when the
// payment cannot back this confirmation.
func (r *Reconciler) evidence(ctx context.Context, c Confirmation, binding *staging.OrderBinding) (*gateway.PaymentAttempt, *Result, error) {
	attempts, err := r.gateway.FetchPayments(ctx, c.OrderID)
	if err != nil {
		if errors.Is(err, gateway.ErrOrderNotFound) {
			res, rerr := rejected("payment order is unknown to the gateway")
			return nil, res, rerr
		}
		return nil, &Result{Outcome: OutcomeIndeterminate, Reason: ErrGatewayIndeterminate.Error()},
			fmt.Errorf("%w: %v", ErrGatewayIndeterminate, err)
	}

	attempt, ok := successFor(attempts, c.PaymentID)
	if !ok {
		reason := "no successful payment found"
		if c.PaymentID != "" {
			reason = fmt.Sprintf("payment %s is not successful", c.PaymentID)
			attempts = named(attempts, c.PaymentID)
		}
		if gateway.HasPending(attempts) {
			reason = "payment is still pending"
		}
		res, rerr := rejected(reason)
		return nil, res, rerr
	}
	if attempt.Amount != binding.Amount || (attempt.Currency != "" && !strings.EqualFold(attempt.Currency, binding.Currency)) {
		log.Warnf("[Reconciler] Payment %s for order %s is %d %s, expected %d %s",
			attempt.PaymentID, c.OrderID, attempt.Amount, attempt.Currency, binding.Amount, binding.Currency)
		res, rerr := rejected("payment amount does not match the order")
		return nil, res, rerr
	}

	if c.Signature != "" {
		valid, err := r.gateway.VerifySignature(c.OrderID, c.PaymentID, c.Signature)
		if err == nil && !valid {
			res, rerr := rejected("invalid payment signature")
			return nil, res, rerr
		}
	}
	return attempt, nil, nil
}

// successFor returns the SUCCESS attempt backing a confirmation. A named
// payment must itself be the success: the checkout signature covers that id
// and no other.
func successFor(attempts []gateway.PaymentAttempt, paymentID string) (*gateway.PaymentAttempt, bool) {
	if paymentID == "" {
		return gateway.SuccessfulAttempt(attempts)
	}
	return gateway.SuccessfulAttempt(named(attempts, paymentID))
}

func named(attempts []gateway.PaymentAttempt, paymentID string) []gateway.PaymentAttempt {
	var out []gateway.PaymentAttempt
	for _, a := range attempts {
		if a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out
}

// resolveMissing explains a missing staging record: an account created from
// it means AlreadyExists, otherwise it expired.
func (r *Reconciler) resolveMissing(ctx context.Context, c Confirmation) (*Result, error) {
	var acc *models.Account
	var err error = gorm.ErrRecordNotFound
	if c.StagingID != "" {
		acc, err = r.accounts.GetByStagingID(ctx, c.StagingID)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) && c.OrderID != "" {
		acc, err = r.accounts.GetByGatewayOrderID(ctx, c.OrderID)
	}
	switch {
	case err == nil:
		res := identity(OutcomeAlreadyExists, acc)
		r.maybeReissue(c, acc, res)
		return res, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Result{Outcome: OutcomeExpired, Reason: "registration expired, please register again"}, ErrNotFoundOrExpired
	default:
		return failed(fmt.Errorf("lookup account: %w", err))
	}
}

// alreadyExists drops the redundant staging record. Documents are only
// deleted when the account does not reference them.
func (r *Reconciler) alreadyExists(ctx context.Context, c Confirmation, pending *staging.PendingRegistration, existing *models.Account) *Result {
	r.removeStaging(ctx, pending.StagingID)
	if existing.StagingID != pending.StagingID {
		if err := r.docs.RemoveAll(pending.StagingID); err != nil {
			log.Warnf("[Reconciler] Failed to remove documents of %s: %v", pending.StagingID, err)
		}
	}
	res := identity(OutcomeAlreadyExists, existing)
	r.maybeReissue(c, existing, res)
	return res
}

// maybeReissue gives a verify caller a session when it proves it holds the
// registration the account was created from (staging id and order id).
func (r *Reconciler) maybeReissue(c Confirmation, acc *models.Account, res *Result) {
	if c.Channel != ChannelVerify || acc.StagingID != c.StagingID || acc.Subscription.GatewayOrderID != c.OrderID {
		return
	}
	token, err := r.tokens.Issue(acc.ID, acc.PublicID, acc.Kind, acc.Email)
	if err != nil {
		log.Warnf("[Reconciler] Session reissue for %s failed: %v", acc.PublicID, err)
		return
	}
	res.SessionToken = token
}

func (r *Reconciler) removeStaging(ctx context.Context, stagingID string) {
	// the sweeper drops records whose account exists, so a failure here is not fatal
	if err := r.store.Remove(ctx, stagingID); err != nil {
		log.Warnf("[Reconciler] Failed to remove staging record %s: %v", stagingID, err)
	}
}

func (r *Reconciler) notify(ctx context.Context, accountID uint) bool {
	if r.notifier == nil {
		return false
	}
	if err := r.notifier.AccountMaterialized(ctx, accountID); err != nil {
		log.Warnf("[Reconciler] Welcome notification for account %d failed: %v", accountID, err)
		return false
	}
	return true
}

func identity(outcome Outcome, acc *models.Account) *Result {
	return &Result{
		Outcome:   outcome,
		AccountID: acc.ID,
		PublicID:  acc.PublicID,
		Kind:      acc.Kind,
		Email:     acc.Email,
	}
}

func rejected(reason string) (*Result, error) {
	return &Result{Outcome: OutcomeRejected, Reason: reason}, fmt.Errorf("%w: %s", ErrGatewayRejected, reason)
}

func failed(err error) (*Result, error) {
	return &Result{Outcome: OutcomeFailed, Reason: "internal error, please retry"}, err
}
