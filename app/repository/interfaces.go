package repository

import (
	"time"

	"github.com/LukasBrandt/PicSmith/app/models"
	"gorm.io/gorm"
)

// SubscriberRepository defines the database operations on the quota ledger
// rows. Mutating operations that race with concurrent requests are expressed
// as conditional updates: they report whether the guarded write applied so
// callers can implement compare-and-swap retry loops.
type SubscriberRepository interface {
	Create(sub *models.Subscriber) error
	GetByID(id uint) (*models.Subscriber, error)
	GetByExternalUserID(externalUserID string) (*models.Subscriber, error)
	UpdateProfile(id uint, email, displayName string) error
	UpdateTier(id uint, tier string, poolLimit int) error

	// ConsumeUnit increments usage_count by one, guarded by the observed value.
	ConsumeUnit(id uint, observedUsage int) (bool, error)
	// AccrueOverage adds overage units and cents to the accumulators.
	AccrueOverage(id uint, units int, cents int64) error
	// ResetCycle zeroes usage and advances the reset date, guarded by the
	// observed reset date. Both the lazy reset and the scheduled sweeps go
	// through this guard so the two paths cannot double-reset a row.
	ResetCycle(id uint, observedResetDate, nextResetDate time.Time) (bool, error)
	// ClearOverage zeroes both overage accumulators and stamps the billing
	// date, guarded by the observed accrual.
	ClearOverage(id uint, observedCents int64, billedAt time.Time) (bool, error)

	// BulkResetDue resets every row with reset_date <= now to the given global
	// next date and returns how many rows were reset.
	BulkResetDue(now, nextResetDate time.Time) (int64, error)
	// BulkResetDueAnniversary resets every due row and advances each row's
	// reset_date by the fixed anniversary offset from its stored value.
	BulkResetDueAnniversary(now time.Time) (int64, error)

	ListWithOverage() ([]models.Subscriber, error)
}

// MembershipRepository defines operations on mirrored membership rows.
type MembershipRepository interface {
	Upsert(m *models.Membership) error
	GetByExternalID(externalMembershipID string) (*models.Membership, error)
	ListBySubscriber(subscriberID uint) ([]models.Membership, error)
	// InvalidateByCompany flips every valid membership of a company to invalid
	// and stamps the cancellation time, returning the number of rows changed.
	InvalidateByCompany(externalCompanyID string, canceledAt time.Time) (int64, error)
}

// PaymentRepository defines append-style operations on payment records.
type PaymentRepository interface {
	UpsertByExternalID(p *models.Payment) (bool, error)
	ListBySubscriber(subscriberID uint) ([]models.Payment, error)
}

// CompanyRepository defines operations on company install records.
type CompanyRepository interface {
	Upsert(c *models.Company) error
	GetByExternalID(externalCompanyID string) (*models.Company, error)
	MarkUninstalled(externalCompanyID string, at time.Time) error
}

// TransactionLogRepository appends usage audit entries. There is deliberately
// no update or delete operation.
type TransactionLogRepository interface {
	Append(entry *models.TransactionLogEntry) error
	ListBySubscriber(subscriberID uint, limit int) ([]models.TransactionLogEntry, error)
}

// WebhookEventRepository stores webhook receipts for idempotent processing.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.WebhookEvent) (created bool, stored *models.WebhookEvent, err error)
	MarkProcessed(id uint, processingError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Subscriber     SubscriberRepository
	Membership     MembershipRepository
	Payment        PaymentRepository
	Company        CompanyRepository
	TransactionLog TransactionLogRepository
	WebhookEvent   WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Subscriber:     NewSubscriberRepository(db),
		Membership:     NewMembershipRepository(db),
		Payment:        NewPaymentRepository(db),
		Company:        NewCompanyRepository(db),
		TransactionLog: NewTransactionLogRepository(db),
		WebhookEvent:   NewWebhookEventRepository(db),
	}
}
