package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LukasBrandt/PicSmith/app/models"
	"github.com/LukasBrandt/PicSmith/app/repository"
	"github.com/LukasBrandt/PicSmith/internal/pkg/plans"
	"gorm.io/gorm"
)

var (
	// ErrNotFound means the subscriber row does not exist.
	ErrNotFound = errors.New("subscriber not found")
	// ErrTransientConflict means the compare-and-swap lost its retry budget.
	// Callers may retry the whole operation.
	ErrTransientConflict = errors.New("usage update conflicted, try again")
	// ErrLogAppendFailed means the unit was charged but the audit entry could
	// not be written. The charge stands; the failure must surface loudly.
	ErrLogAppendFailed = errors.New("usage charged but transaction log append failed")
)

// casAttempts is the total number of conditional-update attempts per consume:
// the initial try plus exactly one retry after a lost race.
const casAttempts = 2

// SubscriberStore is the slice of the subscriber repository the ledger needs.
type SubscriberStore interface {
	GetByID(id uint) (*models.Subscriber, error)
	ConsumeUnit(id uint, observedUsage int) (bool, error)
	AccrueOverage(id uint, units int, cents int64) error
	ResetCycle(id uint, observedResetDate, nextResetDate time.Time) (bool, error)
}

// TransactionLog is the append-only audit sink for consumed units.
type TransactionLog interface {
	Append(entry *models.TransactionLogEntry) error
}

// ConsumeResult reports the outcome of a successful unit consumption.
type ConsumeResult struct {
	UsageCount int
	PoolLimit  int
	Remaining  int
	// Overage is true when this unit landed past the pool limit.
	Overage bool
	// IntegrityWarning carries a non-empty note when overage bookkeeping
	// failed after the usage increment already committed. Operators reconcile
	// these manually; the charge itself is never rolled back.
	IntegrityWarning string
}

// Service is the quota ledger: atomic consumption against the subscriber's
// pool and the shared cycle-reset primitive.
type Service struct {
	subs  SubscriberStore
	txlog TransactionLog
}

// NewService creates a ledger service from injected stores.
func NewService(subs SubscriberStore, txlog TransactionLog) *Service {
	return &Service{subs: subs, txlog: txlog}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(repository.NewSubscriberRepository(db), repository.NewTransactionLogRepository(db))
}

// Consume charges one unit against the subscriber's pool.
//
// The increment is an optimistic compare-and-swap: read usage, write usage+1
// guarded by the read value, retry once on a lost race. Consumption is never
// blocked by an exhausted pool; units past the limit accrue overage at the
// tier's rate instead. The overage decision derives from the exact value the
// successful swap wrote, so a concurrent increment cannot skew it.
func (s *Service) Consume(ctx context.Context, subscriberID uint) (*ConsumeResult, error) {
	_ = ctx

	var sub *models.Subscriber
	applied := false
	for attempt := 0; attempt < casAttempts; attempt++ {
		var err error
		sub, err = s.subs.GetByID(subscriberID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}

		applied, err = s.subs.ConsumeUnit(sub.ID, sub.UsageCount)
		if err != nil {
			return nil, err
		}
		if applied {
			break
		}
	}
	if !applied {
		return nil, ErrTransientConflict
	}

	newUsage := sub.UsageCount + 1
	res := &ConsumeResult{
		UsageCount: newUsage,
		PoolLimit:  sub.PoolLimit,
		Overage:    newUsage > sub.PoolLimit,
	}
	if rem := sub.PoolLimit - newUsage; rem > 0 {
		res.Remaining = rem
	}

	// A nil tier means the cached limit is not authoritative; overage is only
	// accrued for subscribers with a resolved tier.
	tier, hasTier := plans.NormalizeTier(sub.TierName())
	if res.Overage && hasTier {
		rate := plans.Limits(tier).OverageRateCents
		// Best-effort: a failed accrual never rolls back the usage increment,
		// it is logged for manual reconciliation and surfaced as a warning.
		if err := s.subs.AccrueOverage(sub.ID, 1, int64(rate)); err != nil {
			log.Printf("OVERAGE BOOKKEEPING FAILED for subscriber %d (usage=%d, limit=%d): %v",
				sub.ID, newUsage, sub.PoolLimit, err)
			res.IntegrityWarning = "overage accrual failed, flagged for reconciliation"
		} else if err := s.txlog.Append(&models.TransactionLogEntry{
			SubscriberID: sub.ID,
			Kind:         models.TransactionKindOverage,
			Amount:       1,
		}); err != nil {
			log.Printf("overage log append failed for subscriber %d: %v", sub.ID, err)
			res.IntegrityWarning = "overage log append failed, flagged for reconciliation"
		}
	}

	if err := s.txlog.Append(&models.TransactionLogEntry{
		SubscriberID: sub.ID,
		Kind:         models.TransactionKindGeneration,
		Amount:       1,
	}); err != nil {
		// The unit is charged at this point. Surfacing the failure is
		// intentional: "charged but unrecorded" must never pass silently.
		return res, fmt.Errorf("%w: %v", ErrLogAppendFailed, err)
	}

	return res, nil
}

// ResetIfDue applies a lazy cycle reset when the subscriber's reset date has
// passed. It shares the guarded ResetCycle primitive with the scheduled
// sweeps, so losing the race to a concurrent sweep is treated as success.
// On success the in-memory subscriber is updated to the fresh cycle.
func (s *Service) ResetIfDue(sub *models.Subscriber, now time.Time) (bool, error) {
	if sub.ResetDate.After(now) {
		return false, nil
	}

	next := NextCalendarReset(now)
	applied, err := s.subs.ResetCycle(sub.ID, sub.ResetDate, next)
	if err != nil {
		return false, err
	}
	if !applied {
		// Another path reset the row first; re-read to pick up its cycle.
		fresh, err := s.subs.GetByID(sub.ID)
		if err != nil {
			return false, err
		}
		*sub = *fresh
		return true, nil
	}

	sub.UsageCount = 0
	sub.ResetDate = next
	return true, nil
}

// NextCalendarReset returns the first day of the month after now, at midnight UTC.
func NextCalendarReset(now time.Time) time.Time {
	t := now.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
