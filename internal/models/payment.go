package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEvent is an immutable record of one membership charge. Re-billing
// creates a new event with a fresh EventID, never an update.
type PaymentEvent struct {
	ID        uint            `gorm:"primaryKey"`
	EventID   string          `gorm:"size:64;uniqueIndex;not null"`
	PayerID   uint            `gorm:"not null;index"`
	Tier      Tier            `gorm:"size:16;not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	PaidAt    time.Time
	CreatedAt time.Time
}
