package repository

import (
	"context"
	"errors"
	"strings"

	"loyaltysystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrBalanceNotEnough = errors.New("points balance not enough")
	ErrOptimisticLock   = errors.New("optimistic lock conflict, retry")
	ErrStorageTimeout   = errors.New("storage operation timed out")
	ErrDuplicate        = errors.New("duplicate record")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts account and ignores a conflict on any unique column. It
// reports whether the row was actually inserted.
func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(account)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Account, error) {
	return r.getBy(ctx, tx, "id = ?", id)
}

func (r *AccountRepository) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*model.Account, error) {
	return r.getBy(ctx, tx, "email = ?", email)
}

func (r *AccountRepository) GetByReferralCode(ctx context.Context, tx *gorm.DB, code string) (*model.Account, error) {
	return r.getBy(ctx, tx, "referral_code = ?", strings.ToUpper(code))
}

func (r *AccountRepository) getBy(ctx context.Context, tx *gorm.DB, query string, arg interface{}) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.Account
	err := tx.WithContext(ctx).Where(query, arg).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ApplyDelta is the guarded account update: it only succeeds when the version
// still matches and the balance stays non-negative.
func (r *AccountRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, m *Mutation) error {
	updates := map[string]interface{}{
		"points_balance":   gorm.Expr("points_balance + ?", m.BalanceDelta),
		"points_lifetime":  gorm.Expr("points_lifetime + ?", m.LifetimeDelta),
		"version":          gorm.Expr("version + 1"),
		"last_activity_at": m.At,
		"updated_at":       m.At,
	}
	if m.ReferralCountDelta != 0 {
		updates["referral_count"] = gorm.Expr("referral_count + ?", m.ReferralCountDelta)
	}
	if m.Tier != "" {
		updates["tier"] = m.Tier
		if m.TierChangedAt != nil {
			updates["tier_start_date"] = *m.TierChangedAt
		}
	}
	if m.ReferredBy != "" {
		updates["referred_by"] = m.ReferredBy
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ? AND points_balance + ? >= 0", m.AccountID, m.Version, m.BalanceDelta).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByID(ctx, tx, m.AccountID)
		if err != nil {
			return err
		}
		if account.PointsBalance+m.BalanceDelta < 0 {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

func (r *AccountRepository) ListAfter(ctx context.Context, afterID string, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) TopByLifetime(ctx context.Context, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Order("points_lifetime DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

type tierCount struct {
	Tier  string
	Count int64
}

func (r *AccountRepository) CountByTier(ctx context.Context) (map[string]int64, int64, error) {
	var rows []tierCount
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Select("tier, COUNT(*) AS count").
		Group("tier").
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	byTier := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		byTier[row.Tier] = row.Count
		total += row.Count
	}
	return byTier, total, nil
}
