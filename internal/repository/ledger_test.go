package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"loyaltysystem/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newSQLiteLedger(t *testing.T) Ledger {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.Account{}, &model.Transaction{}, &model.Redemption{}, &model.OutboxMessage{}))
	return NewGormLedger(db, 3*time.Second)
}

func newMemLedger(t *testing.T) Ledger {
	return NewMemoryLedger()
}

func TestLedgerContract(t *testing.T) {
	impls := map[string]func(t *testing.T) Ledger{
		"memory": newMemLedger,
		"sqlite": newSQLiteLedger,
	}
	for name, newLedger := range impls {
		newLedger := newLedger
		t.Run(name, func(t *testing.T) {
			t.Run("CreateAccountIsIdempotentPerEmail", func(t *testing.T) { testCreateAccount(t, newLedger(t)) })
			t.Run("ApplyWritesEverything", func(t *testing.T) { testApply(t, newLedger(t)) })
			t.Run("ApplyRejections", func(t *testing.T) { testApplyRejections(t, newLedger(t)) })
			t.Run("ListTransactionsNewestFirst", func(t *testing.T) { testListTransactions(t, newLedger(t)) })
			t.Run("ExpiredEarnings", func(t *testing.T) { testExpiredEarnings(t, newLedger(t)) })
			t.Run("StatsAndLeaderboard", func(t *testing.T) { testStats(t, newLedger(t)) })
			t.Run("OutboxLifecycle", func(t *testing.T) { testOutbox(t, newLedger(t)) })
			t.Run("ExpiredContext", func(t *testing.T) { testTimeout(t, newLedger(t)) })
		})
	}
}

func newAccount(id, email, code string) *model.Account {
	return &model.Account{
		ID:             id,
		Email:          email,
		Tier:           "bronze",
		TierStartDate:  base,
		ReferralCode:   code,
		LastActivityAt: base,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

var seq int64

func txn(accountID, typ string, points, balanceAfter int64) *model.Transaction {
	seq++
	return &model.Transaction{
		ID:           fmt.Sprintf("TXN%d", seq),
		Seq:          seq,
		AccountID:    accountID,
		Type:         typ,
		Points:       points,
		Reason:       typ,
		BalanceAfter: balanceAfter,
		CreatedAt:    base.Add(time.Duration(seq) * time.Second),
	}
}

func earn(t *testing.T, l Ledger, acc *model.Account, points int64) *model.Account {
	t.Helper()
	updated, err := l.Apply(context.Background(), &Mutation{
		AccountID:     acc.ID,
		Version:       acc.Version,
		BalanceDelta:  points,
		LifetimeDelta: points,
		Transactions:  []*model.Transaction{txn(acc.ID, model.TransactionTypeEarn, points, acc.PointsBalance+points)},
		At:            base,
	})
	require.NoError(t, err)
	return updated
}

func testCreateAccount(t *testing.T, l Ledger) {
	ctx := context.Background()

	acc, created, err := l.CreateAccount(ctx, newAccount("ACC1", "a@example.com", "CODEAAAA"), nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ACC1", acc.ID)

	again, created, err := l.CreateAccount(ctx, newAccount("ACC2", "a@example.com", "CODEBBBB"), nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "ACC1", again.ID)

	_, _, err = l.CreateAccount(ctx, newAccount("ACC3", "c@example.com", "CODEAAAA"), nil)
	assert.ErrorIs(t, err, ErrDuplicate)

	funded := newAccount("ACC4", "d@example.com", "CODEDDDD")
	funded.PointsBalance, funded.PointsLifetime = 100, 100
	_, created, err = l.CreateAccount(ctx, funded, []*model.Transaction{txn("ACC4", model.TransactionTypeEarn, 100, 100)})
	require.NoError(t, err)
	assert.True(t, created)
	stored, sum, err := l.BalanceSnapshot(ctx, "ACC4")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.PointsBalance)
	assert.Equal(t, int64(100), sum)

	// a repeated signup writes nothing
	_, created, err = l.CreateAccount(ctx, newAccount("ACC5", "d@example.com", "CODEEEEE"), []*model.Transaction{txn("ACC5", model.TransactionTypeEarn, 100, 100)})
	require.NoError(t, err)
	assert.False(t, created)
	_, total, err := l.ListTransactions(ctx, "ACC5", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	byCode, err := l.GetAccountByReferralCode(ctx, "codeaaaa")
	require.NoError(t, err)
	assert.Equal(t, "ACC1", byCode.ID)

	_, err = l.GetAccountByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = l.GetAccount(ctx, "ACC404")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func testApply(t *testing.T, l Ledger) {
	ctx := context.Background()
	acc, _, err := l.CreateAccount(ctx, newAccount("ACC1", "a@example.com", "CODEAAAA"), nil)
	require.NoError(t, err)

	changed := base.Add(time.Hour)
	updated, err := l.Apply(ctx, &Mutation{
		AccountID:          acc.ID,
		Version:            acc.Version,
		BalanceDelta:       1000,
		LifetimeDelta:      1000,
		ReferralCountDelta: 1,
		Tier:               "silver",
		TierChangedAt:      &changed,
		ReferredBy:         "FRIENDCD",
		Transactions: []*model.Transaction{
			txn(acc.ID, model.TransactionTypeEarn, 1000, 1000),
			txn(acc.ID, model.TransactionTypeTierUpgrade, 0, 1000),
		},
		Outbox: []*model.OutboxMessage{{MessageKey: acc.ID, Topic: "loyalty.tier", Payload: "{}"}},
		At:     changed,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), updated.PointsBalance)
	assert.Equal(t, int64(1000), updated.PointsLifetime)
	assert.Equal(t, "silver", updated.Tier)
	assert.True(t, changed.Equal(updated.TierStartDate))
	assert.Equal(t, "FRIENDCD", updated.ReferredBy)
	assert.Equal(t, 1, updated.ReferralCount)
	assert.Equal(t, acc.Version+1, updated.Version)

	redeemTxn := txn(acc.ID, model.TransactionTypeRedeem, -500, 500)
	updated, err = l.Apply(ctx, &Mutation{
		AccountID:    acc.ID,
		Version:      updated.Version,
		BalanceDelta: -500,
		Transactions: []*model.Transaction{redeemTxn},
		Redemption: &model.Redemption{
			ID: "RDM1", AccountID: acc.ID, OptionID: "discount-100", OptionName: "₹10 Off",
			PointsSpent: 500, CouponCode: "LOYALTY-ABCDEFGH", ExpiresAt: base.AddDate(0, 0, 30),
			TransactionID: redeemTxn.ID, CreatedAt: base,
		},
		At: base,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), updated.PointsBalance)
	assert.Equal(t, int64(1000), updated.PointsLifetime)

	snap, sum, err := l.BalanceSnapshot(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), sum)
	assert.Equal(t, snap.PointsBalance, sum)

	redemptions, total, err := l.ListRedemptions(ctx, acc.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, redemptions, 1)
	assert.Equal(t, "LOYALTY-ABCDEFGH", redemptions[0].CouponCode)
}

func testApplyRejections(t *testing.T, l Ledger) {
	ctx := context.Background()
	acc, _, err := l.CreateAccount(ctx, newAccount("ACC1", "a@example.com", "CODEAAAA"), nil)
	require.NoError(t, err)
	acc = earn(t, l, acc, 150)

	_, err = l.Apply(ctx, &Mutation{
		AccountID:    acc.ID,
		Version:      acc.Version,
		BalanceDelta: -200,
		Transactions: []*model.Transaction{txn(acc.ID, model.TransactionTypeRedeem, -200, -50)},
		At:           base,
	})
	assert.ErrorIs(t, err, ErrBalanceNotEnough)

	_, err = l.Apply(ctx, &Mutation{
		AccountID:    acc.ID,
		Version:      acc.Version - 1,
		BalanceDelta: -100,
		Transactions: []*model.Transaction{txn(acc.ID, model.TransactionTypeRedeem, -100, 50)},
		At:           base,
	})
	assert.ErrorIs(t, err, ErrOptimisticLock)

	_, err = l.Apply(ctx, &Mutation{AccountID: "ACC404", BalanceDelta: 1, At: base})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	earnRow := txn(acc.ID, model.TransactionTypeEarn, 10, 160)
	acc, err = l.Apply(ctx, &Mutation{
		AccountID: acc.ID, Version: acc.Version, BalanceDelta: 10, LifetimeDelta: 10,
		Transactions: []*model.Transaction{earnRow}, At: base,
	})
	require.NoError(t, err)

	expire := func() error {
		row := txn(acc.ID, model.TransactionTypeExpiry, -10, acc.PointsBalance-10)
		row.RelatedTransactionID = &earnRow.ID
		updated, err := l.Apply(ctx, &Mutation{
			AccountID: acc.ID, Version: acc.Version, BalanceDelta: -10,
			Transactions: []*model.Transaction{row}, At: base,
		})
		if err == nil {
			acc = updated
		}
		return err
	}
	require.NoError(t, expire())
	assert.ErrorIs(t, expire(), ErrDuplicate)

	stored, sum, err := l.BalanceSnapshot(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), stored.PointsBalance)
	assert.Equal(t, int64(150), sum)

	_, total, err := l.ListTransactions(ctx, acc.ID, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func testListTransactions(t *testing.T, l Ledger) {
	ctx := context.Background()
	acc, _, err := l.CreateAccount(ctx, newAccount("ACC1", "a@example.com", "CODEAAAA"), nil)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		acc = earn(t, l, acc, int64(i*10))
	}

	page1, total, err := l.ListTransactions(ctx, acc.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page1, 2)
	assert.Equal(t, int64(50), page1[0].Points)
	assert.Equal(t, int64(40), page1[1].Points)

	page3, _, err := l.ListTransactions(ctx, acc.ID, 3, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, int64(10), page3[0].Points)

	beyond, _, err := l.ListTransactions(ctx, acc.ID, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func testExpiredEarnings(t *testing.T, l Ledger) {
	ctx := context.Background()
	acc, _, err := l.CreateAccount(ctx, newAccount("ACC1", "a@example.com", "CODEAAAA"), nil)
	require.NoError(t, err)

	old := txn(acc.ID, model.TransactionTypeEarn, 100, 100)
	oldExp := base.Add(-time.Hour)
	old.ExpiresAt = &oldExp
	fresh := txn(acc.ID, model.TransactionTypeEarn, 50, 150)
	freshExp := base.Add(time.Hour)
	fresh.ExpiresAt = &freshExp

	acc, err = l.Apply(ctx, &Mutation{
		AccountID: acc.ID, Version: acc.Version, BalanceDelta: 150, LifetimeDelta: 150,
		Transactions: []*model.Transaction{old, fresh}, At: base,
	})
	require.NoError(t, err)

	due, err := l.ListExpiredEarnings(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, old.ID, due[0].ID)

	exp := txn(acc.ID, model.TransactionTypeExpiry, -100, 50)
	exp.RelatedTransactionID = &old.ID
	_, err = l.Apply(ctx, &Mutation{
		AccountID: acc.ID, Version: acc.Version, BalanceDelta: -100,
		Transactions: []*model.Transaction{exp}, At: base,
	})
	require.NoError(t, err)

	due, err = l.ListExpiredEarnings(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = l.ListExpiredEarnings(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, fresh.ID, due[0].ID)
}

func testStats(t *testing.T, l Ledger) {
	ctx := context.Background()
	a, _, err := l.CreateAccount(ctx, newAccount("ACC1", "a@example.com", "CODEAAAA"), nil)
	require.NoError(t, err)
	b, _, err := l.CreateAccount(ctx, newAccount("ACC2", "b@example.com", "CODEBBBB"), nil)
	require.NoError(t, err)

	a = earn(t, l, a, 300)
	b = earn(t, l, b, 700)

	_, err = l.Apply(ctx, &Mutation{
		AccountID: b.ID, Version: b.Version, BalanceDelta: -300,
		Transactions: []*model.Transaction{txn(b.ID, model.TransactionTypeRedeem, -300, 400)},
		Redemption: &model.Redemption{
			ID: "RDM1", AccountID: b.ID, OptionID: "shipping-free", OptionName: "Free Shipping",
			PointsSpent: 300, CouponCode: "LOYALTY-AAAAAAAA", ExpiresAt: base, TransactionID: "x", CreatedAt: base,
		},
		At: base,
	})
	require.NoError(t, err)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalAccounts)
	assert.Equal(t, int64(1000), stats.PointsIssued)
	assert.Equal(t, int64(300), stats.PointsRedeemed)
	assert.Equal(t, int64(1), stats.TotalRedemptions)
	assert.Equal(t, int64(2), stats.AccountsByTier["bronze"])

	top, err := l.Leaderboard(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "ACC2", top[0].ID)

	page, err := l.ListAccounts(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	next, err := l.ListAccounts(ctx, page[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, page[1].ID, next[0].ID)
	_ = a
}

func testOutbox(t *testing.T, l Ledger) {
	store, ok := l.(OutboxStore)
	require.True(t, ok)
	ctx := context.Background()

	acc, _, err := l.CreateAccount(ctx, newAccount("ACC1", "a@example.com", "CODEAAAA"), nil)
	require.NoError(t, err)
	_, err = l.Apply(ctx, &Mutation{
		AccountID: acc.ID, Version: acc.Version, BalanceDelta: 10, LifetimeDelta: 10,
		Transactions: []*model.Transaction{txn(acc.ID, model.TransactionTypeEarn, 10, 10)},
		Outbox: []*model.OutboxMessage{
			{MessageKey: "k1", Topic: "t", Payload: "1", Status: model.OutboxStatusPending},
			{MessageKey: "k2", Topic: "t", Payload: "2", Status: model.OutboxStatusPending},
		},
		At: base,
	})
	require.NoError(t, err)

	pending, err := store.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "k1", pending[0].MessageKey)

	require.NoError(t, store.MarkSent(ctx, pending[0].ID))
	require.NoError(t, store.IncrementRetryCount(ctx, pending[1].ID))
	require.NoError(t, store.MarkAsFailed(ctx, pending[1].ID))

	pending, err = store.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testTimeout(t *testing.T, l Ledger) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, _, err := l.CreateAccount(ctx, newAccount("ACC1", "a@example.com", "CODEAAAA"), nil)
	assert.ErrorIs(t, err, ErrStorageTimeout)

	_, err = l.GetAccount(context.Background(), "ACC1")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
