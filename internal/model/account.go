package model

import (
	"time"
)

// Account is one loyalty member. Balance and lifetime are caches of the
// transaction ledger; Tier is always derived from PointsLifetime.
type Account struct {
	ID             string    `gorm:"primaryKey;type:varchar(32)" json:"id"`
	Email          string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`
	CustomerID     string    `gorm:"type:varchar(64);index" json:"customer_id,omitempty"`
	FirstName      string    `gorm:"type:varchar(64)" json:"first_name,omitempty"`
	LastName       string    `gorm:"type:varchar(64)" json:"last_name,omitempty"`
	PointsBalance  int64     `gorm:"not null;default:0" json:"points_balance"`        // spendable
	PointsLifetime int64     `gorm:"not null;default:0;index" json:"points_lifetime"` // never decreases
	Tier           string    `gorm:"type:varchar(20);not null;index" json:"tier"`
	TierStartDate  time.Time `gorm:"not null" json:"tier_start_date"`
	ReferralCode   string    `gorm:"type:varchar(16);uniqueIndex;not null" json:"referral_code"`
	ReferredBy     string    `gorm:"type:varchar(16)" json:"referred_by,omitempty"`
	ReferralCount  int       `gorm:"not null;default:0" json:"referral_count"`
	Version        int       `gorm:"not null;default:0" json:"-"` // optimistic lock
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "loyalty_account"
}
