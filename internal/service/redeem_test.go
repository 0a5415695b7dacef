package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"loyaltysystem/internal/catalog"
	"loyaltysystem/internal/model"
	"loyaltysystem/internal/tier"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	opt200 = catalog.Option{ID: "opt-200pts", Name: "₹4 Off", Category: catalog.CategoryDiscount, PointsCost: 200, Value: decimal.NewFromInt(4)}
	opt50  = catalog.Option{ID: "opt-50pts", Name: "Sticker", Category: catalog.CategoryProduct, PointsCost: 50, Value: decimal.NewFromInt(1)}
	opt5k  = catalog.Option{ID: "opt-5000pts", Name: "Workshop", Category: catalog.CategoryExperience, PointsCost: 5000, Value: decimal.NewFromInt(1000)}
)

func TestRedeemPoints_Success(t *testing.T) {
	f := newFixture(t)
	acc := f.join(t, "redeem@example.com")
	f.fund(t, acc.ID, 600)

	res, err := f.engine.RedeemPoints(context.Background(), acc.ID, "discount-100")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, int64(100), res.RemainingBalance)
	assert.Equal(t, int64(500), res.PointsSpent)
	assert.True(t, strings.HasPrefix(res.CouponCode, "LOYALTY-"))
	assert.Len(t, res.CouponCode, len("LOYALTY-")+8)
	assert.True(t, res.CouponValue.Equal(decimal.NewFromInt(10)))
	assert.True(t, testNow.AddDate(0, 0, 30).Equal(res.ExpiresAt))
	assert.Equal(t, int64(-500), res.Transaction.Points)
	assert.Equal(t, "Redeemed: ₹10 Off", res.Transaction.Reason)

	stored := f.account(t, acc.ID)
	assert.Equal(t, int64(600), stored.PointsLifetime)
	assert.Equal(t, tier.Silver, stored.Tier)

	redemptions, total, err := f.engine.ListRedemptions(context.Background(), acc.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, res.RedemptionID, redemptions[0].ID)
	assert.Equal(t, res.Transaction.ID, redemptions[0].TransactionID)

	var event RedemptionEvent
	msgs := f.ledger.OutboxMessages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "loyalty.redemption", last.Topic)
	assert.Equal(t, res.RedemptionID, last.MessageKey)
	require.NoError(t, json.Unmarshal([]byte(last.Payload), &event))
	assert.Equal(t, res.CouponCode, event.CouponCode)
	assert.Equal(t, "redeem@example.com", event.Email)

	f.assertConsistent(t, acc.ID)
}

func TestRedeemPoints_InsufficientScenario(t *testing.T) {
	f := newFixture(t, withRewards(opt200))
	acc := f.join(t, "short@example.com")
	f.fund(t, acc.ID, 150)

	_, err := f.engine.RedeemPoints(context.Background(), acc.ID, "opt-200pts")
	assert.ErrorIs(t, err, ErrInsufficientPoints)
	assert.Contains(t, err.Error(), "have 150, need 200")

	assert.Equal(t, int64(150), f.account(t, acc.ID).PointsBalance)
	assert.Len(t, allTransactions(t, f, acc.ID), 1)
}

func TestRedeemPoints_CheckOrder(t *testing.T) {
	f := newFixture(t, withRewards(opt50))

	_, err := f.engine.RedeemPoints(context.Background(), "ACC404", "nope")
	assert.ErrorIs(t, err, ErrInvalidOption)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.RedeemPoints(context.Background(), "ACC404", "opt-50pts")
	assert.ErrorIs(t, err, ErrBelowMinimum)

	_, err = f.engine.RedeemPoints(context.Background(), "ACC404", "discount-100")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRedeemPoints_TierNeverRegresses(t *testing.T) {
	f := newFixture(t, withRewards(opt5k))
	acc := f.join(t, "vip@example.com")
	f.fund(t, acc.ID, 6000)
	require.Equal(t, tier.Platinum, f.account(t, acc.ID).Tier)

	res, err := f.engine.RedeemPoints(context.Background(), acc.ID, "opt-5000pts")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.RemainingBalance)

	stored := f.account(t, acc.ID)
	assert.Equal(t, tier.Platinum, stored.Tier)
	assert.Equal(t, int64(6000), stored.PointsLifetime)
	f.assertConsistent(t, acc.ID)
}

func TestRedeemPoints_ConcurrentOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	acc := f.join(t, "race@example.com")
	f.fund(t, acc.ID, 500)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.RedeemPoints(context.Background(), acc.ID, "discount-100")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			others = append(others, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range others {
		assert.True(t, errors.Is(err, ErrInsufficientPoints) || errors.Is(err, ErrStorageConflict), err.Error())
	}
	assert.Equal(t, int64(0), f.account(t, acc.ID).PointsBalance)
	f.assertConsistent(t, acc.ID)
}

func TestRedeemPoints_TwoParallelWithEnoughForOne(t *testing.T) {
	f := newFixture(t, withRewards(opt200))
	acc := f.join(t, "pair@example.com")
	f.fund(t, acc.ID, 350)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.RedeemPoints(context.Background(), acc.ID, "opt-200pts")
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.True(t, errors.Is(err, ErrInsufficientPoints) || errors.Is(err, ErrStorageConflict))
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, int64(150), f.account(t, acc.ID).PointsBalance)

	redeems := 0
	for _, row := range allTransactions(t, f, acc.ID) {
		if row.Type == model.TransactionTypeRedeem {
			redeems++
		}
	}
	assert.Equal(t, 1, redeems)
}

func TestConcurrentMixedOperationsStayConsistent(t *testing.T) {
	f := newFixture(t)
	a := f.join(t, "mix-a@example.com")
	b := f.join(t, "mix-b@example.com")
	f.fund(t, a.ID, 1000)
	f.fund(t, b.ID, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, id := range []string{a.ID, b.ID} {
			wg.Add(2)
			go func(id string) {
				defer wg.Done()
				_, _ = f.engine.EarnPoints(context.Background(), EarnRequest{AccountID: id, BasePoints: 30})
			}(id)
			go func(id string) {
				defer wg.Done()
				_, _ = f.engine.RedeemPoints(context.Background(), id, "shipping-free")
			}(id)
		}
	}
	wg.Wait()

	for _, id := range []string{a.ID, b.ID} {
		f.assertConsistent(t, id)
	}
}

func TestRandomOperationSequencesKeepInvariants(t *testing.T) {
	f := newFixture(t, withRewards(opt200))
	acc := f.join(t, "random@example.com")
	rng := rand.New(rand.NewSource(7))
	rewards := []string{"opt-200pts", "shipping-free", "discount-100", "discount-250"}

	prevLifetime := int64(0)
	prevRank := 0
	table := tier.DefaultTable()
	for i := 0; i < 200; i++ {
		switch rng.Intn(3) {
		case 0, 1:
			_, err := f.engine.EarnPoints(context.Background(), EarnRequest{AccountID: acc.ID, BasePoints: int64(rng.Intn(400) + 1)})
			require.NoError(t, err)
		default:
			_, err := f.engine.RedeemPoints(context.Background(), acc.ID, rewards[rng.Intn(len(rewards))])
			if err != nil {
				require.ErrorIs(t, err, ErrInsufficientPoints)
			}
		}

		stored := f.account(t, acc.ID)
		require.GreaterOrEqual(t, stored.PointsBalance, int64(0))
		require.GreaterOrEqual(t, stored.PointsLifetime, prevLifetime)
		rank := table.Rank(stored.Tier)
		require.GreaterOrEqual(t, rank, prevRank)
		prevLifetime, prevRank = stored.PointsLifetime, rank
	}
	f.assertConsistent(t, acc.ID)
}
