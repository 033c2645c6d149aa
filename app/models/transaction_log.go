package models

import "time"

// TransactionLogEntry is the append-only usage audit trail. Entries are
// written once at consumption time and never updated afterwards.
type TransactionLogEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubscriberID uint      `gorm:"not null;index" json:"subscriber_id"`
	Kind         string    `gorm:"type:varchar(20);not null;index" json:"kind"`
	Amount       int       `gorm:"not null;default:1" json:"amount"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
