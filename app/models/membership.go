package models

import "time"

const (
	MembershipStatusValid   = "valid"
	MembershipStatusInvalid = "invalid"
)

// Membership mirrors the commerce platform's membership entity. Rows are
// created and updated by the webhook ingestion path and are never hard-deleted
// so the platform history stays auditable.
type Membership struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	ExternalMembershipID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_membership_id"`
	SubscriberID         uint       `gorm:"not null;index" json:"subscriber_id"`
	ExternalCompanyID    string     `gorm:"type:varchar(191);default:'';index" json:"external_company_id"`
	AccessPassID         string     `gorm:"type:varchar(191);default:''" json:"access_pass_id"`
	Status               string     `gorm:"type:varchar(16);not null;default:'valid';index" json:"status"`
	ExpiresAt            *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	CanceledAt           *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsValid reports whether the membership currently grants access.
func (m *Membership) IsValid() bool {
	return m.Status == MembershipStatusValid
}
