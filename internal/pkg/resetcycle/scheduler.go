package resetcycle

import (
	"context"
	"log"
	"time"

	"github.com/LukasBrandt/PicSmith/app/repository"
	"github.com/LukasBrandt/PicSmith/internal/pkg/ledger"
	"gorm.io/gorm"
)

// Store is the slice of the subscriber repository the scheduler drives. Both
// bulk sweeps only touch rows whose reset date has passed, so a sweep that
// races the lazy per-request reset is harmless.
type Store interface {
	BulkResetDue(now, nextResetDate time.Time) (int64, error)
	BulkResetDueAnniversary(now time.Time) (int64, error)
}

// Result reports one sweep.
type Result struct {
	ResetCount    int64
	NextResetDate time.Time
	RanAt         time.Time
}

// Scheduler runs the periodic quota cycle sweeps.
type Scheduler struct {
	store Store

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler creates a scheduler over an injected store.
func NewScheduler(store Store) *Scheduler {
	return &Scheduler{store: store, now: time.Now}
}

// NewSchedulerFromDB wires a scheduler against the shared database handle.
func NewSchedulerFromDB(db *gorm.DB) *Scheduler {
	return NewScheduler(repository.NewSubscriberRepository(db))
}

// RunGlobalReset resets every due subscriber to the same next calendar date
// (first of the next month, UTC). Running it twice in the same cycle is safe:
// the second run finds no due rows.
func (s *Scheduler) RunGlobalReset() (*Result, error) {
	now := s.now()
	next := ledger.NextCalendarReset(now)
	count, err := s.store.BulkResetDue(now, next)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		log.Printf("global quota reset: %d subscribers reset, next reset %s", count, next.Format("2006-01-02"))
	}
	return &Result{ResetCount: count, NextResetDate: next, RanAt: now}, nil
}

// RunAnniversaryReset resets every due subscriber and advances each row's
// reset date by the fixed cycle length from its own stored date, preserving
// per-subscriber anniversaries.
func (s *Scheduler) RunAnniversaryReset() (*Result, error) {
	now := s.now()
	count, err := s.store.BulkResetDueAnniversary(now)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		log.Printf("anniversary quota reset: %d subscribers reset", count)
	}
	return &Result{ResetCount: count, RanAt: now}, nil
}

// Start runs the global sweep on the given interval until the context is
// canceled. The sweep is a safety net behind the lazy per-request reset, so a
// failed run is logged and retried on the next tick rather than escalated.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("reset scheduler started, sweep interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("reset scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunGlobalReset(); err != nil {
				log.Printf("scheduled quota reset failed: %v", err)
			}
		}
	}
}
