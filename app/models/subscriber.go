package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Transaction log kinds. Entries are append-only and never mutated.
const (
	TransactionKindGeneration  = "generation"
	TransactionKindOverage     = "overage"
	TransactionKindExtraCredit = "extra_credit"
)

// Subscriber holds the per-user quota ledger: the cached plan tier and pool
// limit, the usage counter for the current cycle and the overage accumulators.
// UsageCount only ever goes up within a cycle; it returns to zero through the
// reset primitives, never through a blind write.
type Subscriber struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	ExternalUserID      string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_user_id"`
	Email               string     `gorm:"type:varchar(200);default:''" json:"email" validate:"omitempty,email,max=200"`
	DisplayName         string     `gorm:"type:varchar(150);default:''" json:"display_name" validate:"max=150"`
	Tier                *string    `gorm:"type:varchar(50);default:null;index" json:"tier"`
	PoolLimit           int        `gorm:"not null;default:0" json:"pool_limit"`
	UsageCount          int        `gorm:"not null;default:0" json:"usage_count"`
	OverageUsed         int        `gorm:"not null;default:0" json:"overage_used"`
	OverageCentsAccrued int64      `gorm:"not null;default:0" json:"overage_cents_accrued"`
	ResetDate           time.Time  `gorm:"not null;index" json:"reset_date"`
	LastBillingDate     *time.Time `gorm:"type:timestamp;default:null" json:"last_billing_date,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Subscriber) Validate() error {
	v := validator.New()

	return v.Struct(s)
}

// Remaining returns the units left in the current pool, never negative.
func (s *Subscriber) Remaining() int {
	if r := s.PoolLimit - s.UsageCount; r > 0 {
		return r
	}
	return 0
}

// TierName returns the stored tier or "" when the subscriber has no entitlement.
func (s *Subscriber) TierName() string {
	if s.Tier == nil {
		return ""
	}
	return *s.Tier
}
