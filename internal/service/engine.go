package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyaltysystem/internal/catalog"
	"loyaltysystem/internal/config"
	"loyaltysystem/internal/infrastructure/lock"
	"loyaltysystem/internal/model"
	"loyaltysystem/internal/repository"
	"loyaltysystem/internal/tier"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Settings are the program rules the engine enforces.
type Settings struct {
	MinRedeemPoints    int64
	PointsPerUnit      decimal.Decimal
	SignupBonus        int64
	ReviewBonus        int64
	BirthdayBonus      int64
	ReferrerBonus      int64
	ReferredBonus      int64
	MaxAttempts        int
	LockWait           time.Duration
	PointsExpireMonths int
	BatchSize          int
	RedemptionTopic    string
	TierTopic          string
}

// DefaultSettings mirrors the reference program.
func DefaultSettings() Settings {
	return Settings{
		MinRedeemPoints:    100,
		PointsPerUnit:      decimal.NewFromInt(1),
		SignupBonus:        100,
		ReviewBonus:        25,
		BirthdayBonus:      100,
		ReferrerBonus:      100,
		ReferredBonus:      100,
		MaxAttempts:        3,
		LockWait:           5 * time.Second,
		PointsExpireMonths: 12,
		BatchSize:          200,
		RedemptionTopic:    "loyalty.redemption",
		TierTopic:          "loyalty.tier",
	}
}

// SettingsFromConfig reads the loyalty section. cfg must have passed Validate.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	rate, err := cfg.Loyalty.PointsPerUnit()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		MinRedeemPoints:    cfg.Loyalty.MinRedeemPoints,
		PointsPerUnit:      rate,
		SignupBonus:        cfg.Loyalty.Bonuses.Signup,
		ReviewBonus:        cfg.Loyalty.Bonuses.Review,
		BirthdayBonus:      cfg.Loyalty.Bonuses.Birthday,
		ReferrerBonus:      cfg.Loyalty.Bonuses.Referrer,
		ReferredBonus:      cfg.Loyalty.Bonuses.Referred,
		MaxAttempts:        cfg.Loyalty.MaxAttempts,
		LockWait:           cfg.Loyalty.LockWait,
		PointsExpireMonths: cfg.Loyalty.PointsExpireMonths,
		BatchSize:          cfg.Jobs.BatchSize,
		RedemptionTopic:    cfg.MQ.Topics.Redemption,
		TierTopic:          cfg.MQ.Topics.Tier,
	}, nil
}

// Engine is the loyalty core. It is safe for concurrent use; every balance
// change on one account runs under that account's lock and is stored with a
// guarded, versioned update.
type Engine struct {
	ledger   repository.Ledger
	locker   lock.Locker
	tiers    *tier.Table
	catalog  *catalog.Catalog
	settings Settings
	now      func() time.Time
}

func NewEngine(ledger repository.Ledger, locker lock.Locker, tiers *tier.Table, cat *catalog.Catalog, settings Settings) *Engine {
	if settings.MaxAttempts < 1 {
		settings.MaxAttempts = 1
	}
	if settings.LockWait <= 0 {
		settings.LockWait = 5 * time.Second
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 200
	}
	return &Engine{
		ledger:   ledger,
		locker:   locker,
		tiers:    tiers,
		catalog:  cat,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) Settings() Settings {
	return e.settings
}

func (e *Engine) Tiers() []tier.Tier {
	return e.tiers.All()
}

func (e *Engine) Rewards() []catalog.Option {
	return e.catalog.List()
}

// mutateFunc builds the unit of work from a fresh read of the account. It
// runs again on every retry.
type mutateFunc func(acc *model.Account, now time.Time) (*repository.Mutation, error)

// withAccount runs build and stores its mutation under the account lock,
// retrying lost optimistic races with fresh reads.
func (e *Engine) withAccount(ctx context.Context, accountID string, build mutateFunc) (*model.Account, error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.settings.LockWait)
	unlock, err := e.locker.Lock(lockCtx, lock.AccountKey(accountID))
	cancel()
	if err != nil {
		return nil, translate(err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		acc, err := e.ledger.GetAccount(ctx, accountID)
		if err != nil {
			return nil, translate(err)
		}

		m, err := build(acc, e.now())
		if err != nil {
			return nil, err
		}

		// detached from the caller: once started, the write commits or
		// fails on the ledger's own timeout
		updated, err := e.ledger.Apply(context.WithoutCancel(ctx), m)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, repository.ErrOptimisticLock) && attempt < e.settings.MaxAttempts {
			log.WithFields(log.Fields{
				"account_id": accountID,
				"attempt":    attempt,
			}).Warn("[Engine] optimistic lock conflict, retrying")
			continue
		}
		return nil, translate(err)
	}
}

// resolveTier trusts lifetime points over the stored tier name.
func (e *Engine) resolveTier(lifetime int64) (tier.Tier, error) {
	t, err := e.tiers.Resolve(lifetime)
	if err != nil {
		return tier.Tier{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return t, nil
}
