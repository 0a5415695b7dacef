package repository

import (
	"context"
	"time"

	"loyaltysystem/internal/model"
)

// Mutation is one unit of work against a single account: a guarded update of
// the account row plus the rows that record it. Either all of it is stored or
// none of it is.
type Mutation struct {
	AccountID string
	// Version is the account version the caller read. The update is rejected
	// with ErrOptimisticLock when the stored version moved on.
	Version int

	BalanceDelta       int64
	LifetimeDelta      int64
	ReferralCountDelta int

	// Tier is set only when the tier changes; TierChangedAt goes with it.
	Tier          string
	TierChangedAt *time.Time
	ReferredBy    string

	Transactions []*model.Transaction
	Redemption   *model.Redemption
	Outbox       []*model.OutboxMessage

	At time.Time
}

// Stats aggregates the whole program.
type Stats struct {
	TotalAccounts    int64            `json:"total_accounts"`
	PointsIssued     int64            `json:"points_issued"`
	PointsRedeemed   int64            `json:"points_redeemed"`
	PointsExpired    int64            `json:"points_expired"`
	TotalRedemptions int64            `json:"total_redemptions"`
	AccountsByTier   map[string]int64 `json:"accounts_by_tier"`
}

// Ledger is the persistence contract of the loyalty engine.
type Ledger interface {
	// CreateAccount inserts acc together with its opening rows unless an
	// account with the same email exists, in which case the stored one is
	// returned with created=false and nothing is written.
	CreateAccount(ctx context.Context, acc *model.Account, opening []*model.Transaction) (*model.Account, bool, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByReferralCode(ctx context.Context, code string) (*model.Account, error)

	// Apply stores m atomically and returns the updated account.
	Apply(ctx context.Context, m *Mutation) (*model.Account, error)

	ListTransactions(ctx context.Context, accountID string, page, pageSize int) ([]*model.Transaction, int64, error)
	ListRedemptions(ctx context.Context, accountID string, page, pageSize int) ([]*model.Redemption, int64, error)
	// BalanceSnapshot reads the account and the sum of its balance-affecting
	// rows from one consistent view.
	BalanceSnapshot(ctx context.Context, accountID string) (*model.Account, int64, error)
	// ListExpiredEarnings returns earn rows expired at now that no expiry row
	// references yet, oldest first.
	ListExpiredEarnings(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error)
	ListAccounts(ctx context.Context, afterID string, limit int) ([]*model.Account, error)
	Leaderboard(ctx context.Context, limit int) ([]*model.Account, error)
	Stats(ctx context.Context) (*Stats, error)
}

// OutboxStore is what the relay job needs from storage.
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
