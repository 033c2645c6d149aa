package models

import "time"

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Payment is an immutable record of a payment-completed or payment-failed
// event. Payments never mutate membership status; they exist for audit and
// reconciliation only. Idempotency is keyed on ExternalPaymentID.
type Payment struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	ExternalPaymentID    string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_payment_id"`
	SubscriberID         *uint     `gorm:"default:null;index" json:"subscriber_id,omitempty"`
	ExternalMembershipID string    `gorm:"type:varchar(191);default:'';index" json:"external_membership_id"`
	AmountCents          int64     `gorm:"not null;default:0" json:"amount_cents"`
	Currency             string    `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	Status               string    `gorm:"type:varchar(16);not null;index" json:"status"`
	Method               string    `gorm:"type:varchar(50);default:''" json:"method"`
	OccurredAt           time.Time `gorm:"not null" json:"occurred_at"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
}
