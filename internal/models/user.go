package models

import (
	"time"
)

// User is one node of the referral forest. ReferrerID is the parent pointer;
// nil marks a root. Nodes are never deleted, only deactivated.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	ReferrerID *uint `gorm:"index"`
	Tier       Tier  `gorm:"size:16;not null"`
	Active     bool  `gorm:"default:true"`
	JoinedAt   time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
