package registration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropServe/internal/pkg/gateway"
	"github.com/ManuelReschke/PropServe/internal/pkg/metrics"
	"github.com/ManuelReschke/PropServe/internal/pkg/staging"
)

const sweepConcurrency = 4

type sweepAction string

const (
	actionRemoved   sweepAction = "removed"
	actionRedundant sweepAction = "redundant"
	actionHandedOff sweepAction = "handed_off"
	actionSkipped   sweepAction = "skipped"
	actionGone      sweepAction = "gone"
)

// SweepStats summarizes one sweep run.
type SweepStats struct {
	Scanned   int
	Removed   int64
	Redundant int64
	HandedOff int64
	Skipped   int64
}

// Sweeper deletes expired staging records. A record is never deleted while
// an account or a successful payment could still claim it.
type Sweeper struct {
	store      staging.Store
	docs       *staging.Documents
	gateway    gateway.Gateway
	accounts   Accounts
	locker     Locker
	reconciler *Reconciler
	ttl        time.Duration
	now        func() time.Time
}

func NewSweeper(store staging.Store, docs *staging.Documents, gw gateway.Gateway, accounts Accounts, locker Locker, reconciler *Reconciler, ttl time.Duration) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultStagingTTL
	}
	return &Sweeper{
		store:      store,
		docs:       docs,
		gateway:    gw,
		accounts:   accounts,
		locker:     locker,
		reconciler: reconciler,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Sweep handles every staging record older than the TTL.
func (s *Sweeper) Sweep(ctx context.Context) error {
	_, err := s.Run(ctx)
	return err
}

func (s *Sweeper) Run(ctx context.Context) (SweepStats, error) {
	ids, err := s.store.ListOlderThan(ctx, s.ttl)
	if err != nil {
		return SweepStats{}, fmt.Errorf("list expired staging records: %w", err)
	}
	stats := SweepStats{Scanned: len(ids)}
	if len(ids) == 0 {
		return stats, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			action := s.sweepOne(gctx, id)
			metrics.IncSweeper(string(action))
			switch action {
			case actionRemoved:
				atomic.AddInt64(&stats.Removed, 1)
			case actionRedundant:
				atomic.AddInt64(&stats.Redundant, 1)
			case actionHandedOff:
				atomic.AddInt64(&stats.HandedOff, 1)
			case actionSkipped:
				atomic.AddInt64(&stats.Skipped, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Infof("[Sweeper] Scanned %d expired records: removed=%d redundant=%d handed_off=%d skipped=%d",
		stats.Scanned, stats.Removed, stats.Redundant, stats.HandedOff, stats.Skipped)
	return stats, ctx.Err()
}

func (s *Sweeper) sweepOne(ctx context.Context, stagingID string) sweepAction {
	pending, err := s.store.Load(ctx, stagingID)
	if errors.Is(err, staging.ErrNotFound) {
		return actionGone
	}
	if err != nil {
		log.Warnf("[Sweeper] Load %s failed: %v", stagingID, err)
		return actionSkipped
	}

	release, err := s.locker.Acquire(ctx, lockKey(pending.Email), lockTTL)
	if err != nil {
		return actionSkipped
	}
	action, orderID := s.decide(ctx, pending)
	if action != actionHandedOff {
		release()
		return action
	}
	// the reconciler takes the same lock
	release()

	res, err := s.reconciler.Confirm(ctx, Confirmation{StagingID: stagingID, OrderID: orderID, Channel: ChannelSweeper})
	if err != nil && res.Outcome != OutcomeMaterialized {
		log.Warnf("[Sweeper] Hand-off of %s (order %s) ended %s: %v", stagingID, orderID, res.Outcome, err)
	}
	return actionHandedOff
}

// decide runs under the registrant lock. For actionHandedOff it returns the
// order holding the successful payment.
func (s *Sweeper) decide(ctx context.Context, pending *staging.PendingRegistration) (sweepAction, string) {
	id := pending.StagingID

	acc, err := s.accounts.GetByEmail(ctx, pending.Email)
	if err == nil {
		s.remove(ctx, id, acc.StagingID != id)
		return actionRedundant, ""
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Sweeper] Account lookup for %s failed: %v", id, err)
		return actionSkipped, ""
	}

	orders, err := s.store.OrdersFor(ctx, id)
	if err != nil {
		log.Warnf("[Sweeper] Orders of %s unreadable: %v", id, err)
		return actionSkipped, ""
	}

	indeterminate, pendingPayment := false, false
	for _, o := range orders {
		attempts, err := s.gateway.FetchPayments(ctx, o.OrderID)
		if err != nil {
			if errors.Is(err, gateway.ErrOrderNotFound) {
				continue
			}
			indeterminate = true
			continue
		}
		if _, ok := gateway.SuccessfulAttempt(attempts); ok {
			return actionHandedOff, o.OrderID
		}
		if gateway.HasPending(attempts) {
			pendingPayment = true
		}
	}

	if indeterminate {
		return actionSkipped, ""
	}
	// a pending payment keeps the record for one more TTL
	if pendingPayment && s.now().Sub(pending.CreatedAt) < 2*s.ttl {
		return actionSkipped, ""
	}
	s.remove(ctx, id, true)
	return actionRemoved, ""
}

func (s *Sweeper) remove(ctx context.Context, stagingID string, withDocuments bool) {
	if err := s.store.Remove(ctx, stagingID); err != nil {
		log.Warnf("[Sweeper] Remove %s failed: %v", stagingID, err)
		return
	}
	if withDocuments {
		if err := s.docs.RemoveAll(stagingID); err != nil {
			log.Warnf("[Sweeper] Remove documents of %s failed: %v", stagingID, err)
		}
	}
}
