package service

import (
	"encoding/json"
	"time"

	"loyaltysystem/internal/model"

	"github.com/shopspring/decimal"
)

// RedemptionEvent is handed to the notification system so the coupon reaches
// the customer.
type RedemptionEvent struct {
	RedemptionID string          `json:"redemption_id"`
	AccountID    string          `json:"account_id"`
	Email        string          `json:"email"`
	FirstName    string          `json:"first_name,omitempty"`
	OptionID     string          `json:"option_id"`
	OptionName   string          `json:"option_name"`
	PointsSpent  int64           `json:"points_spent"`
	CouponCode   string          `json:"coupon_code"`
	CouponValue  decimal.Decimal `json:"coupon_value"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// TierChangeEvent announces a tier upgrade.
type TierChangeEvent struct {
	AccountID      string    `json:"account_id"`
	Email          string    `json:"email"`
	FromTier       string    `json:"from_tier"`
	ToTier         string    `json:"to_tier"`
	PointsLifetime int64     `json:"points_lifetime"`
	ChangedAt      time.Time `json:"changed_at"`
}

func outboxMessage(topic, key string, event interface{}) (*model.OutboxMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}, nil
}
