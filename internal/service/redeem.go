package service

import (
	"context"
	"fmt"
	"time"

	"loyaltysystem/internal/model"
	"loyaltysystem/internal/repository"
	"loyaltysystem/pkg/idgen"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type RedeemRequest struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	OptionID  string `json:"reward_id" binding:"required"`
}

type RedeemResult struct {
	Success          bool               `json:"success"`
	RedemptionID     string             `json:"redemption_id"`
	OptionName       string             `json:"reward_name"`
	PointsSpent      int64              `json:"points_spent"`
	CouponCode       string             `json:"coupon_code"`
	CouponValue      decimal.Decimal    `json:"coupon_value"`
	ExpiresAt        time.Time          `json:"expires_at"`
	RemainingBalance int64              `json:"remaining_balance"`
	Transaction      *model.Transaction `json:"transaction"`
}

// RedeemPoints spends points on a catalog option and issues its coupon.
// Checks run in this order: option exists, option meets the program minimum,
// account exists, balance covers the cost.
func (e *Engine) RedeemPoints(ctx context.Context, accountID, optionID string) (*RedeemResult, error) {
	option, ok := e.catalog.Get(optionID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOption, optionID)
	}
	if option.PointsCost < e.settings.MinRedeemPoints {
		return nil, fmt.Errorf("%w: %s costs %d, minimum is %d", ErrBelowMinimum, option.ID, option.PointsCost, e.settings.MinRedeemPoints)
	}

	result := &RedeemResult{}
	acc, err := e.withAccount(ctx, accountID, func(acc *model.Account, now time.Time) (*repository.Mutation, error) {
		if acc.PointsBalance < option.PointsCost {
			return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientPoints, acc.PointsBalance, option.PointsCost)
		}

		row := e.newTransaction(acc.ID, model.TransactionTypeRedeem, -option.PointsCost,
			"Redeemed: "+option.Name, acc.PointsBalance-option.PointsCost, now)

		redemption := &model.Redemption{
			ID:            idgen.GenerateRedemptionNo(),
			AccountID:     acc.ID,
			OptionID:      option.ID,
			OptionName:    option.Name,
			PointsSpent:   option.PointsCost,
			CouponCode:    idgen.GenerateCouponCode(),
			CouponValue:   option.Value,
			ExpiresAt:     now.AddDate(0, 0, option.ValidDays),
			TransactionID: row.ID,
			CreatedAt:     now,
		}

		msg, err := outboxMessage(e.settings.RedemptionTopic, redemption.ID, RedemptionEvent{
			RedemptionID: redemption.ID,
			AccountID:    acc.ID,
			Email:        acc.Email,
			FirstName:    acc.FirstName,
			OptionID:     option.ID,
			OptionName:   option.Name,
			PointsSpent:  option.PointsCost,
			CouponCode:   redemption.CouponCode,
			CouponValue:  redemption.CouponValue,
			ExpiresAt:    redemption.ExpiresAt,
		})
		if err != nil {
			return nil, fmt.Errorf("encode redemption event: %w", err)
		}

		*result = RedeemResult{
			Success:      true,
			RedemptionID: redemption.ID,
			OptionName:   option.Name,
			PointsSpent:  option.PointsCost,
			CouponCode:   redemption.CouponCode,
			CouponValue:  redemption.CouponValue,
			ExpiresAt:    redemption.ExpiresAt,
			Transaction:  row,
		}

		return &repository.Mutation{
			AccountID:    acc.ID,
			Version:      acc.Version,
			BalanceDelta: -option.PointsCost,
			Transactions: []*model.Transaction{row},
			Redemption:   redemption,
			Outbox:       []*model.OutboxMessage{msg},
			At:           now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	result.RemainingBalance = acc.PointsBalance
	log.WithFields(log.Fields{
		"account_id":    acc.ID,
		"redemption_id": result.RedemptionID,
		"option_id":     option.ID,
		"points":        option.PointsCost,
		"balance":       acc.PointsBalance,
	}).Info("[Engine] reward redeemed")
	return result, nil
}
