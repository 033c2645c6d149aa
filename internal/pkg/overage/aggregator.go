package overage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/LukasBrandt/PicSmith/app/models"
	"github.com/LukasBrandt/PicSmith/app/repository"
	"github.com/LukasBrandt/PicSmith/internal/pkg/cache"
	"github.com/LukasBrandt/PicSmith/internal/pkg/ledger"
	"gorm.io/gorm"
)

const (
	summaryCacheKey = "overage:summary"

	// clearAttempts bounds the compare-and-swap retry when marking a
	// subscriber billed while generations are still accruing overage.
	clearAttempts = 2
)

// Store is the slice of the subscriber repository the aggregator needs.
type Store interface {
	GetByID(id uint) (*models.Subscriber, error)
	ListWithOverage() ([]models.Subscriber, error)
	ClearOverage(id uint, observedCents int64, billedAt time.Time) (bool, error)
}

// Line is one subscriber's accrued overage in a summary.
type Line struct {
	SubscriberID   uint   `json:"subscriber_id"`
	ExternalUserID string `json:"external_user_id"`
	Tier           string `json:"tier"`
	OverageUnits   int    `json:"overage_units"`
	OverageCents   int64  `json:"overage_cents"`
}

// TierBreakdown aggregates one tier's share of the accrued overage.
type TierBreakdown struct {
	Users int   `json:"users"`
	Units int   `json:"units"`
	Cents int64 `json:"cents"`
}

// Summary is the aggregated overage report across all subscribers with a
// non-zero accrual.
type Summary struct {
	Lines       []Line                   `json:"lines"`
	TotalUsers  int                      `json:"total_users"`
	TotalUnits  int                      `json:"total_units"`
	TotalCents  int64                    `json:"total_cents"`
	ByTier      map[string]TierBreakdown `json:"by_tier"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// Aggregator builds overage billing reports and settles accruals.
type Aggregator struct {
	store Store

	// CacheTTL controls how long summaries are served from the cache.
	// Zero disables caching entirely.
	CacheTTL time.Duration

	now func() time.Time
}

// NewAggregator creates an aggregator over an injected store with caching
// disabled; callers opt in by setting CacheTTL.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// NewAggregatorFromDB wires an aggregator against the shared database handle
// with a short summary cache.
func NewAggregatorFromDB(db *gorm.DB) *Aggregator {
	a := NewAggregator(repository.NewSubscriberRepository(db))
	a.CacheTTL = 60 * time.Second
	return a
}

// Summary aggregates every subscriber with accrued overage, ordered by
// external user id so repeated reports line up. A broken cache degrades to a
// direct database read.
func (a *Aggregator) Summary() (*Summary, error) {
	if a.CacheTTL > 0 {
		if raw, err := cache.Get(summaryCacheKey); err == nil {
			var s Summary
			if jerr := json.Unmarshal([]byte(raw), &s); jerr == nil {
				return &s, nil
			}
		} else if !cache.IsMiss(err) {
			log.Printf("overage summary cache read failed: %v", err)
		}
	}

	subs, err := a.store.ListWithOverage()
	if err != nil {
		return nil, err
	}

	s := &Summary{
		ByTier:      make(map[string]TierBreakdown),
		GeneratedAt: a.now().UTC(),
	}
	for _, sub := range subs {
		s.Lines = append(s.Lines, Line{
			SubscriberID:   sub.ID,
			ExternalUserID: sub.ExternalUserID,
			Tier:           sub.TierName(),
			OverageUnits:   sub.OverageUsed,
			OverageCents:   sub.OverageCentsAccrued,
		})
		s.TotalUsers++
		s.TotalUnits += sub.OverageUsed
		s.TotalCents += sub.OverageCentsAccrued

		bt := s.ByTier[sub.TierName()]
		bt.Users++
		bt.Units += sub.OverageUsed
		bt.Cents += sub.OverageCentsAccrued
		s.ByTier[sub.TierName()] = bt
	}

	if a.CacheTTL > 0 {
		if raw, jerr := json.Marshal(s); jerr == nil {
			if cerr := cache.Set(summaryCacheKey, string(raw), a.CacheTTL); cerr != nil {
				log.Printf("overage summary cache write failed: %v", cerr)
			}
		}
	}
	return s, nil
}

// MarkBilled settles a subscriber's accrued overage and returns the cleared
// amount in cents. A subscriber with nothing accrued is a no-op returning 0.
// The clear is guarded by the observed accrual so cents added by a concurrent
// generation are never silently dropped.
func (a *Aggregator) MarkBilled(id uint) (int64, error) {
	for attempt := 0; attempt < clearAttempts; attempt++ {
		sub, err := a.store.GetByID(id)
		if err != nil {
			return 0, err
		}
		if sub.OverageCentsAccrued == 0 {
			return 0, nil
		}

		applied, err := a.store.ClearOverage(id, sub.OverageCentsAccrued, a.now())
		if err != nil {
			return 0, err
		}
		if applied {
			a.invalidateSummary()
			return sub.OverageCentsAccrued, nil
		}
	}
	return 0, ledger.ErrTransientConflict
}

// ExportCSV writes the current summary as CSV. Row order follows the summary
// ordering so exports diff cleanly between runs.
func (a *Aggregator) ExportCSV(w io.Writer) error {
	s, err := a.Summary()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"external_user_id", "tier", "overage_units", "overage_cents", "amount_usd"}); err != nil {
		return err
	}
	for _, line := range s.Lines {
		rec := []string{
			line.ExternalUserID,
			line.Tier,
			strconv.Itoa(line.OverageUnits),
			strconv.FormatInt(line.OverageCents, 10),
			fmt.Sprintf("%.2f", float64(line.OverageCents)/100),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (a *Aggregator) invalidateSummary() {
	if a.CacheTTL <= 0 {
		return
	}
	if err := cache.Delete(summaryCacheKey); err != nil {
		log.Printf("overage summary cache invalidation failed: %v", err)
	}
}
