package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"loyaltysystem/internal/model"

	"gorm.io/gorm"
)

// GormLedger stores the ledger in a SQL database. Every call is bounded by
// the configured timeout.
type GormLedger struct {
	db          *gorm.DB
	timeout     time.Duration
	accounts    *AccountRepository
	txns        *TransactionRepository
	redemptions *RedemptionRepository
	outbox      *OutboxRepository
}

func NewGormLedger(db *gorm.DB, timeout time.Duration) *GormLedger {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &GormLedger{
		db:          db,
		timeout:     timeout,
		accounts:    NewAccountRepository(db),
		txns:        NewTransactionRepository(db),
		redemptions: NewRedemptionRepository(db),
		outbox:      NewOutboxRepository(db),
	}
}

func (l *GormLedger) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeout)
}

func (l *GormLedger) CreateAccount(ctx context.Context, acc *model.Account, opening []*model.Transaction) (*model.Account, bool, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()

	var (
		stored  *model.Account
		created bool
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = l.accounts.Create(ctx, tx, acc)
		if err != nil {
			return err
		}
		if !created {
			stored, err = l.accounts.GetByEmail(ctx, tx, acc.Email)
			if errors.Is(err, ErrAccountNotFound) {
				// lost on id or referral code, not on email
				return ErrDuplicate
			}
			return err
		}
		if err := l.txns.Create(ctx, tx, opening); err != nil {
			return fmt.Errorf("insert opening transactions: %w", err)
		}
		stored = acc
		return nil
	})
	if err != nil {
		return nil, false, translate(err)
	}
	return stored, created, nil
}

func (l *GormLedger) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	acc, err := l.accounts.GetByID(ctx, nil, id)
	return acc, translate(err)
}

func (l *GormLedger) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	acc, err := l.accounts.GetByEmail(ctx, nil, email)
	return acc, translate(err)
}

func (l *GormLedger) GetAccountByReferralCode(ctx context.Context, code string) (*model.Account, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	acc, err := l.accounts.GetByReferralCode(ctx, nil, code)
	return acc, translate(err)
}

func (l *GormLedger) Apply(ctx context.Context, m *Mutation) (*model.Account, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()

	var updated *model.Account
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.accounts.ApplyDelta(ctx, tx, m); err != nil {
			return err
		}
		if err := l.txns.Create(ctx, tx, m.Transactions); err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
		if m.Redemption != nil {
			if err := l.redemptions.Create(ctx, tx, m.Redemption); err != nil {
				return fmt.Errorf("insert redemption: %w", err)
			}
		}
		if err := l.outbox.Create(ctx, tx, m.Outbox); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}

		acc, err := l.accounts.GetByID(ctx, tx, m.AccountID)
		if err != nil {
			return err
		}
		updated = acc
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return updated, nil
}

func (l *GormLedger) ListTransactions(ctx context.Context, accountID string, page, pageSize int) ([]*model.Transaction, int64, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	page, pageSize = normalizePage(page, pageSize)
	rows, total, err := l.txns.ListByAccountID(ctx, accountID, page, pageSize)
	return rows, total, translate(err)
}

func (l *GormLedger) ListRedemptions(ctx context.Context, accountID string, page, pageSize int) ([]*model.Redemption, int64, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	page, pageSize = normalizePage(page, pageSize)
	rows, total, err := l.redemptions.ListByAccountID(ctx, accountID, page, pageSize)
	return rows, total, translate(err)
}

func (l *GormLedger) BalanceSnapshot(ctx context.Context, accountID string) (*model.Account, int64, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()

	var (
		acc *model.Account
		sum int64
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		acc, err = l.accounts.GetByID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		sum, err = l.txns.SumBalance(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return nil, 0, translate(err)
	}
	return acc, sum, nil
}

func (l *GormLedger) ListExpiredEarnings(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	rows, err := l.txns.ListExpiredEarnings(ctx, now, limit)
	return rows, translate(err)
}

func (l *GormLedger) ListAccounts(ctx context.Context, afterID string, limit int) ([]*model.Account, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	rows, err := l.accounts.ListAfter(ctx, afterID, limit)
	return rows, translate(err)
}

func (l *GormLedger) Leaderboard(ctx context.Context, limit int) ([]*model.Account, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	rows, err := l.accounts.TopByLifetime(ctx, limit)
	return rows, translate(err)
}

func (l *GormLedger) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()

	byTier, total, err := l.accounts.CountByTier(ctx)
	if err != nil {
		return nil, translate(err)
	}
	stats := &Stats{TotalAccounts: total, AccountsByTier: byTier}

	if stats.PointsIssued, err = l.txns.SumPoints(ctx, model.TransactionTypeEarn, true); err != nil {
		return nil, translate(err)
	}
	adjusted, err := l.txns.SumPoints(ctx, model.TransactionTypeAdjustment, true)
	if err != nil {
		return nil, translate(err)
	}
	stats.PointsIssued += adjusted

	redeemed, err := l.txns.SumPoints(ctx, model.TransactionTypeRedeem, false)
	if err != nil {
		return nil, translate(err)
	}
	stats.PointsRedeemed = -redeemed

	expired, err := l.txns.SumPoints(ctx, model.TransactionTypeExpiry, false)
	if err != nil {
		return nil, translate(err)
	}
	stats.PointsExpired = -expired

	if stats.TotalRedemptions, err = l.redemptions.Count(ctx); err != nil {
		return nil, translate(err)
	}
	return stats, nil
}

// GetPendingMessages and the rest of the OutboxStore methods delegate to the
// outbox repository.
func (l *GormLedger) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	return l.outbox.GetPendingMessages(ctx, limit)
}

func (l *GormLedger) MarkSent(ctx context.Context, id int64) error {
	return l.outbox.MarkSent(ctx, id)
}

func (l *GormLedger) IncrementRetryCount(ctx context.Context, id int64) error {
	return l.outbox.IncrementRetryCount(ctx, id)
}

func (l *GormLedger) MarkAsFailed(ctx context.Context, id int64) error {
	return l.outbox.MarkAsFailed(ctx, id)
}

// translate maps driver level failures onto the repository sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrBalanceNotEnough),
		errors.Is(err, ErrOptimisticLock),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrStorageTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	case isDuplicateKey(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}
