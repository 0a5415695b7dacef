package model

import (
	"time"
)

const (
	TransactionTypeEarn        = "earn"
	TransactionTypeRedeem      = "redeem"
	TransactionTypeAdjustment  = "adjustment"
	TransactionTypeTierUpgrade = "tier-upgrade"
	TransactionTypeExpiry      = "expiry"
)

// Transaction is one ledger row.
//
// Rules:
//  1. rows are appended, never updated or deleted; corrections are new adjustment rows
//  2. summing Points over every row except tier-upgrade markers yields the account balance
//  3. Seq orders rows by creation; it comes from the snowflake id
type Transaction struct {
	ID                   string     `gorm:"primaryKey;type:varchar(32)" json:"id"`
	Seq                  int64      `gorm:"not null;uniqueIndex" json:"-"`
	AccountID            string     `gorm:"type:varchar(32);index;not null" json:"account_id"`
	Type                 string     `gorm:"type:varchar(20);index;not null" json:"type"`
	Points               int64      `gorm:"not null" json:"points"` // positive credits, negative debits, 0 for tier-upgrade
	Reason               string     `gorm:"type:varchar(256)" json:"reason"`
	RelatedOrderID       *string    `gorm:"type:varchar(64);index" json:"related_order_id,omitempty"`
	RelatedTransactionID *string    `gorm:"type:varchar(32);uniqueIndex" json:"related_transaction_id,omitempty"` // expiry -> expired earn row
	ExpiresAt            *time.Time `gorm:"index" json:"expires_at,omitempty"`
	BalanceAfter         int64      `gorm:"not null" json:"balance_after"`
	CreatedAt            time.Time  `gorm:"not null;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "loyalty_transaction"
}

// AffectsBalance reports whether the row counts toward the balance.
func (t *Transaction) AffectsBalance() bool {
	return t.Type != TransactionTypeTierUpgrade
}
