package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"loyaltysystem/internal/infrastructure/lock"
	"loyaltysystem/internal/model"
	"loyaltysystem/internal/repository"

	log "github.com/sirupsen/logrus"
)

type AdjustRequest struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Points    int64  `json:"points" binding:"required"`
	Reason    string `json:"reason"`
}

// AdjustPoints appends a signed correction. Credits count toward lifetime
// points and may raise the tier; debits never take the balance below zero.
func (e *Engine) AdjustPoints(ctx context.Context, req AdjustRequest) (*EarnResult, error) {
	if req.Points == 0 {
		return nil, fmt.Errorf("%w: adjustment must not be zero", ErrInvalidInput)
	}
	accountID, err := e.accountIDFor(ctx, req.AccountID, req.Email)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "Manual adjustment"
	}
	return e.apply(ctx, accountID, grant{
		txType: model.TransactionTypeAdjustment,
		points: req.Points,
		reason: reason,
	})
}

type ReconcileResult struct {
	AccountID       string `json:"account_id"`
	Consistent      bool   `json:"consistent"`
	ComputedBalance int64  `json:"computed_balance"`
	StoredBalance   int64  `json:"stored_balance"`
	StoredTier      string `json:"stored_tier"`
	ExpectedTier    string `json:"expected_tier"`
}

// Reconcile replays the ledger of an account and compares it with the
// cached balance and tier. A mismatch returns the result together with
// ErrDataIntegrity; nothing is corrected.
func (e *Engine) Reconcile(ctx context.Context, accountID string) (*ReconcileResult, error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.settings.LockWait)
	unlock, err := e.locker.Lock(lockCtx, lock.AccountKey(accountID))
	cancel()
	if err != nil {
		return nil, translate(err)
	}
	defer unlock()

	acc, sum, err := e.ledger.BalanceSnapshot(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}

	result := &ReconcileResult{
		AccountID:       acc.ID,
		ComputedBalance: sum,
		StoredBalance:   acc.PointsBalance,
		StoredTier:      acc.Tier,
	}
	if expected, err := e.tiers.Resolve(acc.PointsLifetime); err == nil {
		result.ExpectedTier = expected.Name
	}
	result.Consistent = result.ComputedBalance == result.StoredBalance &&
		result.StoredTier == result.ExpectedTier &&
		acc.PointsBalance >= 0

	if !result.Consistent {
		log.WithFields(log.Fields{
			"account_id":       acc.ID,
			"computed_balance": result.ComputedBalance,
			"stored_balance":   result.StoredBalance,
			"stored_tier":      result.StoredTier,
			"expected_tier":    result.ExpectedTier,
		}).Error("[Engine] ledger mismatch")
		return result, fmt.Errorf("%w: account %s stored balance %d, ledger %d, tier %s, expected %s",
			ErrDataIntegrity, acc.ID, result.StoredBalance, result.ComputedBalance, result.StoredTier, result.ExpectedTier)
	}
	return result, nil
}

type AuditReport struct {
	Checked    int      `json:"checked"`
	Mismatched []string `json:"mismatched"`
	Failed     int      `json:"failed"`
}

// AuditLedger reconciles every account in batches.
func (e *Engine) AuditLedger(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{Mismatched: []string{}}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		accounts, err := e.ledger.ListAccounts(ctx, after, e.settings.BatchSize)
		if err != nil {
			return report, translate(err)
		}
		if len(accounts) == 0 {
			break
		}
		for _, acc := range accounts {
			_, err := e.Reconcile(ctx, acc.ID)
			report.Checked++
			switch {
			case err == nil:
			case errors.Is(err, ErrDataIntegrity):
				report.Mismatched = append(report.Mismatched, acc.ID)
			default:
				report.Failed++
				log.WithFields(log.Fields{"account_id": acc.ID, "error": err}).Warn("[Engine] audit skipped account")
			}
		}
		after = accounts[len(accounts)-1].ID
		if len(accounts) < e.settings.BatchSize {
			break
		}
	}
	return report, nil
}

// Leaderboard ranks accounts by lifetime points.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]*model.Account, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	accounts, err := e.ledger.Leaderboard(ctx, limit)
	if err != nil {
		return nil, translate(err)
	}
	return accounts, nil
}

func (e *Engine) Stats(ctx context.Context) (*repository.Stats, error) {
	stats, err := e.ledger.Stats(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return stats, nil
}
