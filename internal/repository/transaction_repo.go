package repository

import (
	"context"
	"time"

	"loyaltysystem/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, rows []*model.Transaction) error {
	if len(rows) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(rows).Error
}

// ListByAccountID pages newest first.
func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("account_id = ?", accountID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("seq DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumBalance replays the ledger of one account.
func (r *TransactionRepository) SumBalance(ctx context.Context, tx *gorm.DB, accountID string) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var sum int64
	err := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("COALESCE(SUM(points), 0)").
		Where("account_id = ? AND type <> ?", accountID, model.TransactionTypeTierUpgrade).
		Scan(&sum).Error
	return sum, err
}

func (r *TransactionRepository) ListExpiredEarnings(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Table("loyalty_transaction AS t").
		Select("t.*").
		Where("t.type = ? AND t.expires_at IS NOT NULL AND t.expires_at <= ?", model.TransactionTypeEarn, now).
		Where("NOT EXISTS (SELECT 1 FROM loyalty_transaction e WHERE e.related_transaction_id = t.id)").
		Order("t.seq ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

// SumPoints totals the points of rows of one type, filtered by sign.
func (r *TransactionRepository) SumPoints(ctx context.Context, txType string, positive bool) (int64, error) {
	cond := "type = ? AND points < 0"
	if positive {
		cond = "type = ? AND points > 0"
	}
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("COALESCE(SUM(points), 0)").
		Where(cond, txType).
		Scan(&sum).Error
	return sum, err
}
