package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"loyaltysystem/internal/model"
	"loyaltysystem/internal/repository"
	"loyaltysystem/internal/tier"
	"loyaltysystem/pkg/idgen"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type EarnRequest struct {
	AccountID  string `json:"account_id" binding:"required"`
	BasePoints int64  `json:"points" binding:"required"`
	Reason     string `json:"reason"`
	OrderID    string `json:"order_id"`
}

type EarnResult struct {
	PointsEarned int64              `json:"points_earned"`
	NewBalance   int64              `json:"new_balance"`
	NewLifetime  int64              `json:"new_lifetime"`
	NewTier      string             `json:"new_tier"`
	PreviousTier string             `json:"previous_tier"`
	Transaction  *model.Transaction `json:"transaction,omitempty"`
	TierUpgrade  *model.Transaction `json:"tier_upgrade,omitempty"`
}

// grant describes one credit or debit of an account.
type grant struct {
	txType   string
	points   int64
	reason   string
	orderID  string
	multiply bool
	// baseFor, when set, computes the base points from the current tier
	baseFor func(current tier.Tier) int64
	// decorate adds account metadata to the mutation; it may reject
	decorate func(acc *model.Account, m *repository.Mutation) error
}

// EarnPoints credits basePoints times the account's current tier multiplier.
func (e *Engine) EarnPoints(ctx context.Context, req EarnRequest) (*EarnResult, error) {
	if req.BasePoints <= 0 {
		return nil, fmt.Errorf("%w: points must be positive, got %d", ErrInvalidInput, req.BasePoints)
	}
	if req.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	reason := req.Reason
	if reason == "" {
		reason = "Points earned"
	}
	return e.apply(ctx, req.AccountID, grant{
		txType:   model.TransactionTypeEarn,
		points:   req.BasePoints,
		reason:   reason,
		orderID:  req.OrderID,
		multiply: true,
	})
}

type OrderEarnRequest struct {
	AccountID  string          `json:"account_id"`
	Email      string          `json:"email"`
	OrderID    string          `json:"order_id" binding:"required"`
	OrderTotal decimal.Decimal `json:"order_total" binding:"required"`
}

// EarnForOrder credits a completed order at the purchase rate.
func (e *Engine) EarnForOrder(ctx context.Context, req OrderEarnRequest) (*EarnResult, error) {
	if !req.OrderTotal.IsPositive() {
		return nil, fmt.Errorf("%w: order total must be positive", ErrInvalidInput)
	}
	base := req.OrderTotal.Mul(e.settings.PointsPerUnit).Floor().IntPart()
	if base <= 0 {
		return nil, fmt.Errorf("%w: order total %s earns no points", ErrInvalidInput, req.OrderTotal)
	}

	accountID, err := e.accountIDFor(ctx, req.AccountID, req.Email)
	if err != nil {
		return nil, err
	}
	return e.EarnPoints(ctx, EarnRequest{
		AccountID:  accountID,
		BasePoints: base,
		Reason:     fmt.Sprintf("Points earned for order #%s", req.OrderID),
		OrderID:    req.OrderID,
	})
}

// EarnForReview credits the fixed review bonus.
func (e *Engine) EarnForReview(ctx context.Context, accountID, productID string) (*EarnResult, error) {
	reason := "Points earned for product review"
	if productID != "" {
		reason = fmt.Sprintf("%s (product %s)", reason, productID)
	}
	return e.EarnPoints(ctx, EarnRequest{
		AccountID:  accountID,
		BasePoints: e.settings.ReviewBonus,
		Reason:     reason,
	})
}

// AwardBirthdayBonus credits the birthday bonus raised by the tier's birthday percentage.
func (e *Engine) AwardBirthdayBonus(ctx context.Context, accountID string) (*EarnResult, error) {
	if e.settings.BirthdayBonus <= 0 {
		return nil, fmt.Errorf("%w: birthday bonus is disabled", ErrInvalidInput)
	}
	bonus := e.settings.BirthdayBonus
	return e.apply(ctx, accountID, grant{
		txType:   model.TransactionTypeEarn,
		reason:   "Happy birthday! Birthday bonus points",
		multiply: true,
		baseFor: func(current tier.Tier) int64 {
			return bonus + bonus*int64(current.BirthdayBonusPercentage)/100
		},
	})
}

// apply runs one grant under the account lock. A grant of 0 points only
// writes its account metadata.
func (e *Engine) apply(ctx context.Context, accountID string, g grant) (*EarnResult, error) {
	result := &EarnResult{}

	acc, err := e.withAccount(ctx, accountID, func(acc *model.Account, now time.Time) (*repository.Mutation, error) {
		*result = EarnResult{}

		current, err := e.resolveTier(acc.PointsLifetime)
		if err != nil {
			return nil, err
		}

		points := g.points
		if g.baseFor != nil {
			points = g.baseFor(current)
		}
		if g.multiply {
			points = current.ApplyMultiplier(points)
		}
		if acc.PointsBalance+points < 0 {
			return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientPoints, acc.PointsBalance, -points)
		}

		var lifetimeDelta int64
		if points > 0 {
			lifetimeDelta = points
		}
		m := &repository.Mutation{
			AccountID:     acc.ID,
			Version:       acc.Version,
			BalanceDelta:  points,
			LifetimeDelta: lifetimeDelta,
			At:            now,
		}
		if g.decorate != nil {
			if err := g.decorate(acc, m); err != nil {
				return nil, err
			}
		}

		newBalance := acc.PointsBalance + points
		newLifetime := acc.PointsLifetime + lifetimeDelta
		if points != 0 {
			row := e.newTransaction(acc.ID, g.txType, points, g.reason, newBalance, now)
			if g.orderID != "" {
				orderID := g.orderID
				row.RelatedOrderID = &orderID
			}
			if g.txType == model.TransactionTypeEarn && e.settings.PointsExpireMonths > 0 {
				expiresAt := now.AddDate(0, e.settings.PointsExpireMonths, 0)
				row.ExpiresAt = &expiresAt
			}
			m.Transactions = append(m.Transactions, row)
			result.Transaction = row
		}

		next, err := e.resolveTier(newLifetime)
		if err != nil {
			return nil, err
		}
		result.PreviousTier = acc.Tier
		result.NewTier = next.Name
		if next.Name != acc.Tier {
			upgrade, msg, err := e.tierChange(acc, next.Name, newBalance, newLifetime, now)
			if err != nil {
				return nil, err
			}
			m.Tier = next.Name
			m.TierChangedAt = &now
			m.Transactions = append(m.Transactions, upgrade)
			m.Outbox = append(m.Outbox, msg)
			result.TierUpgrade = upgrade
		}
		result.PointsEarned = points
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	result.NewBalance = acc.PointsBalance
	result.NewLifetime = acc.PointsLifetime
	result.NewTier = acc.Tier

	fields := log.Fields{
		"account_id": acc.ID,
		"type":       g.txType,
		"points":     result.PointsEarned,
		"balance":    acc.PointsBalance,
		"tier":       acc.Tier,
	}
	if result.TierUpgrade != nil {
		fields["previous_tier"] = result.PreviousTier
	}
	log.WithFields(fields).Info("[Engine] points applied")
	return result, nil
}

func (e *Engine) tierChange(acc *model.Account, to string, balance, lifetime int64, now time.Time) (*model.Transaction, *model.OutboxMessage, error) {
	row := e.newTransaction(acc.ID, model.TransactionTypeTierUpgrade, 0,
		fmt.Sprintf("Upgraded to %s tier (from %s)", strings.ToUpper(to), strings.ToUpper(acc.Tier)),
		balance, now)

	msg, err := outboxMessage(e.settings.TierTopic, acc.ID, TierChangeEvent{
		AccountID:      acc.ID,
		Email:          acc.Email,
		FromTier:       acc.Tier,
		ToTier:         to,
		PointsLifetime: lifetime,
		ChangedAt:      now,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode tier event: %w", err)
	}
	return row, msg, nil
}

func (e *Engine) newTransaction(accountID, txType string, points int64, reason string, balanceAfter int64, now time.Time) *model.Transaction {
	id, seq := idgen.GenerateTransactionNo()
	return &model.Transaction{
		ID:           id,
		Seq:          seq,
		AccountID:    accountID,
		Type:         txType,
		Points:       points,
		Reason:       reason,
		BalanceAfter: balanceAfter,
		CreatedAt:    now,
	}
}
