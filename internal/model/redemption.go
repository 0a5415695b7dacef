package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Redemption is the coupon issued for spent points.
type Redemption struct {
	ID            string          `gorm:"primaryKey;type:varchar(32)" json:"id"`
	AccountID     string          `gorm:"type:varchar(32);index;not null" json:"account_id"`
	OptionID      string          `gorm:"type:varchar(64);not null" json:"option_id"`
	OptionName    string          `gorm:"type:varchar(128);not null" json:"option_name"`
	PointsSpent   int64           `gorm:"not null" json:"points_spent"`
	CouponCode    string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"coupon_code"`
	CouponValue   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"coupon_value"`
	ExpiresAt     time.Time       `gorm:"not null" json:"expires_at"`
	TransactionID string          `gorm:"type:varchar(32);not null" json:"transaction_id"`
	CreatedAt     time.Time       `gorm:"not null;index" json:"created_at"`
}

func (Redemption) TableName() string {
	return "loyalty_redemption"
}
