package models

import "time"

// Company is the owning record for app install/uninstall events. An uninstall
// never deletes the row; it stamps UninstalledAt and invalidates the company's
// memberships in bulk.
type Company struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ExternalCompanyID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_company_id"`
	Name              string     `gorm:"type:varchar(200);default:''" json:"name"`
	InstalledAt       time.Time  `gorm:"not null" json:"installed_at"`
	UninstalledAt     *time.Time `gorm:"type:timestamp;default:null" json:"uninstalled_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
