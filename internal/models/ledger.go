package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryStatus string

const (
	StatusHeld     EntryStatus = "held"
	StatusPending  EntryStatus = "pending"
	StatusReleased EntryStatus = "released"
	StatusPaid     EntryStatus = "paid"
)

// CommissionEntry is one commission amount owed to one upline beneficiary
// from one payment event. Entries are append-only.
type CommissionEntry struct {
	ID            uint            `gorm:"primaryKey"`
	EventID       string          `gorm:"size:64;not null;uniqueIndex:idx_entry_dedup,priority:1"`
	BeneficiaryID uint            `gorm:"not null;index;uniqueIndex:idx_entry_dedup,priority:2"`
	PayerID       uint            `gorm:"not null;index"`
	Level         int             `gorm:"not null;uniqueIndex:idx_entry_dedup,priority:3"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Truncated     bool            `gorm:"default:false"`
	Status        EntryStatus     `gorm:"size:16;default:'held'"`
	ReleaseAt     time.Time       `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BonusGrant is a one-time cash bonus for crossing a points threshold.
type BonusGrant struct {
	ID            uint            `gorm:"primaryKey"`
	BeneficiaryID uint            `gorm:"not null;index"`
	Threshold     int             `gorm:"not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Status        EntryStatus     `gorm:"size:16;default:'pending'"`
	ReleaseAt     time.Time       `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PointsBalance struct {
	UserID    uint `gorm:"primaryKey"`
	Balance   int  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}
