package models

import (
	"time"
)

type Tier string

const (
	TierBronze  Tier = "bronze"
	TierSilver  Tier = "silver"
	TierGold    Tier = "gold"
	TierDiamond Tier = "diamond"
)

// TierChange is one row of a user's tier history. The newest row with
// EffectiveAt <= T is the user's tier as of T.
type TierChange struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      uint      `gorm:"not null;index"`
	Tier        Tier      `gorm:"size:16;not null"`
	EffectiveAt time.Time `gorm:"index"`
	CreatedAt   time.Time
}
