package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"loyaltysystem/internal/catalog"
	"loyaltysystem/internal/model"
	"loyaltysystem/internal/repository"
	"loyaltysystem/internal/tier"
	"loyaltysystem/pkg/idgen"

	log "github.com/sirupsen/logrus"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type JoinOutcome string

const (
	JoinCreated        JoinOutcome = "created"
	JoinAlreadyExisted JoinOutcome = "already_existed"
)

type JoinRequest struct {
	Email        string `json:"email" binding:"required"`
	CustomerID   string `json:"customer_id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	ReferralCode string `json:"referral_code"`
}

type JoinResult struct {
	Outcome JoinOutcome    `json:"outcome"`
	Account *model.Account `json:"account"`
	// Referral is set when a referral code was applied.
	Referral *ReferralResult `json:"referral,omitempty"`
	// ReferralError explains why a supplied code was not applied. The
	// signup itself still succeeded.
	ReferralError error `json:"-"`
}

type ReferralResult struct {
	Success       bool   `json:"success"`
	ReferrerID    string `json:"referrer_id"`
	ReferrerBonus int64  `json:"referrer_bonus"`
	ReferredBonus int64  `json:"referred_bonus"`
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Join creates the account for email, or returns the existing one. A new
// account is opened with the signup bonus in the same unit of work; a
// referral code is applied afterwards and never fails the signup.
func (e *Engine) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	email := NormalizeEmail(req.Email)
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}

	var (
		acc     *model.Account
		created bool
		err     error
	)
	// ids and referral codes are random; a collision just draws new ones
	for attempt := 1; ; attempt++ {
		candidate, opening := e.openingAccount(email, req)
		acc, created, err = e.ledger.CreateAccount(ctx, candidate, opening)
		if err == nil || !errors.Is(err, repository.ErrDuplicate) || attempt >= e.settings.MaxAttempts {
			break
		}
	}
	if err != nil {
		return nil, translate(err)
	}

	if !created {
		return &JoinResult{Outcome: JoinAlreadyExisted, Account: acc}, nil
	}

	log.WithFields(log.Fields{
		"account_id": acc.ID,
		"email":      acc.Email,
		"balance":    acc.PointsBalance,
	}).Info("[Engine] loyalty account created")

	result := &JoinResult{Outcome: JoinCreated, Account: acc}
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		referral, err := e.ProcessReferral(ctx, acc.ID, code)
		if err != nil {
			log.WithFields(log.Fields{
				"account_id":    acc.ID,
				"referral_code": code,
				"error":         err,
			}).Warn("[Engine] referral not applied")
			result.ReferralError = err
		} else {
			result.Referral = referral
		}
		if fresh, err := e.ledger.GetAccount(ctx, acc.ID); err == nil {
			result.Account = fresh
		}
	}
	return result, nil
}

// openingAccount builds a new account and its opening rows.
func (e *Engine) openingAccount(email string, req JoinRequest) (*model.Account, []*model.Transaction) {
	now := e.now()
	acc := &model.Account{
		ID:             idgen.GenerateAccountID(),
		Email:          email,
		CustomerID:     strings.TrimSpace(req.CustomerID),
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Tier:           e.tiers.Lowest().Name,
		TierStartDate:  now,
		ReferralCode:   idgen.GenerateReferralCode(),
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var rows []*model.Transaction
	if bonus := e.tiers.Lowest().ApplyMultiplier(e.settings.SignupBonus); bonus > 0 {
		row := e.newTransaction(acc.ID, model.TransactionTypeEarn, bonus,
			"Welcome bonus for joining our loyalty program!", bonus, now)
		if e.settings.PointsExpireMonths > 0 {
			expiresAt := now.AddDate(0, e.settings.PointsExpireMonths, 0)
			row.ExpiresAt = &expiresAt
		}
		rows = append(rows, row)
		acc.PointsBalance = bonus
		acc.PointsLifetime = bonus

		if opening, err := e.tiers.Resolve(bonus); err == nil && opening.Name != acc.Tier {
			rows = append(rows, e.newTransaction(acc.ID, model.TransactionTypeTierUpgrade, 0,
				fmt.Sprintf("Upgraded to %s tier (from %s)", strings.ToUpper(opening.Name), strings.ToUpper(acc.Tier)),
				bonus, now))
			acc.Tier = opening.Name
		}
	}
	return acc, rows
}

// ProcessReferral rewards the owner of referralCode and the new account. The
// two awards are atomic individually, not jointly. The referred side goes
// first so one account can never be credited as referred twice.
func (e *Engine) ProcessReferral(ctx context.Context, newAccountID, referralCode string) (*ReferralResult, error) {
	code := strings.ToUpper(strings.TrimSpace(referralCode))
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidReferralCode)
	}
	referrer, err := e.ledger.GetAccountByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidReferralCode, code)
		}
		return nil, translate(err)
	}
	if referrer.ID == newAccountID {
		return nil, fmt.Errorf("%w: self referral", ErrInvalidReferralCode)
	}

	referred, err := e.apply(ctx, newAccountID, grant{
		txType:   model.TransactionTypeEarn,
		points:   e.settings.ReferredBonus,
		reason:   "Referral bonus for joining with a friend's code",
		multiply: true,
		decorate: func(acc *model.Account, m *repository.Mutation) error {
			if acc.ReferredBy != "" {
				return fmt.Errorf("%w: account was already referred", ErrInvalidReferralCode)
			}
			m.ReferredBy = code
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	referrerResult, err := e.apply(ctx, referrer.ID, grant{
		txType:   model.TransactionTypeEarn,
		points:   e.settings.ReferrerBonus,
		reason:   "Referral bonus for inviting a friend",
		multiply: true,
		decorate: func(_ *model.Account, m *repository.Mutation) error {
			m.ReferralCountDelta = 1
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("referrer award: %w", err)
	}

	return &ReferralResult{
		Success:       true,
		ReferrerID:    referrer.ID,
		ReferrerBonus: referrerResult.PointsEarned,
		ReferredBonus: referred.PointsEarned,
	}, nil
}

// ValidateReferralCode returns the account owning code.
func (e *Engine) ValidateReferralCode(ctx context.Context, code string) (*model.Account, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidReferralCode)
	}
	acc, err := e.ledger.GetAccountByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidReferralCode, code)
		}
		return nil, translate(err)
	}
	return acc, nil
}

func (e *Engine) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	acc, err := e.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}
	return acc, nil
}

func (e *Engine) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	acc, err := e.ledger.GetAccountByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, translate(err)
	}
	return acc, nil
}

// accountIDFor resolves an account id, accepting an email instead.
func (e *Engine) accountIDFor(ctx context.Context, accountID, email string) (string, error) {
	if accountID != "" {
		return accountID, nil
	}
	if email == "" {
		return "", fmt.Errorf("%w: account_id or email is required", ErrInvalidInput)
	}
	acc, err := e.GetAccountByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return acc.ID, nil
}

// ResolveAccountID is accountIDFor for callers outside the engine.
func (e *Engine) ResolveAccountID(ctx context.Context, accountID, email string) (string, error) {
	return e.accountIDFor(ctx, accountID, email)
}

type Status struct {
	Account          *model.Account   `json:"account"`
	Tier             tier.Tier        `json:"tier"`
	NextTier         *tier.Tier       `json:"next_tier,omitempty"`
	PointsToNextTier int64            `json:"points_to_next_tier"`
	TierProgress     int              `json:"tier_progress"`
	AvailableRewards []catalog.Option `json:"available_rewards"`
	MinRedeemPoints  int64            `json:"min_redeem_points"`
}

// Status summarizes an account for the member page.
func (e *Engine) Status(ctx context.Context, accountID string) (*Status, error) {
	acc, err := e.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	current, err := e.resolveTier(acc.PointsLifetime)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Account:          acc,
		Tier:             current,
		PointsToNextTier: e.tiers.PointsToNext(acc.PointsLifetime),
		TierProgress:     e.tiers.Progress(acc.PointsLifetime),
		MinRedeemPoints:  e.settings.MinRedeemPoints,
	}
	if next, ok := e.tiers.Next(current.Name); ok {
		status.NextTier = &next
	}
	for _, opt := range e.catalog.Affordable(acc.PointsBalance) {
		if opt.PointsCost >= e.settings.MinRedeemPoints {
			status.AvailableRewards = append(status.AvailableRewards, opt)
		}
	}
	if status.AvailableRewards == nil {
		status.AvailableRewards = []catalog.Option{}
	}
	return status, nil
}

// ListTransactions pages the ledger of an account, newest first.
func (e *Engine) ListTransactions(ctx context.Context, accountID string, page, pageSize int) ([]*model.Transaction, int64, error) {
	rows, total, err := e.ledger.ListTransactions(ctx, accountID, page, pageSize)
	if err != nil {
		return nil, 0, translate(err)
	}
	return rows, total, nil
}

func (e *Engine) ListRedemptions(ctx context.Context, accountID string, page, pageSize int) ([]*model.Redemption, int64, error) {
	rows, total, err := e.ledger.ListRedemptions(ctx, accountID, page, pageSize)
	if err != nil {
		return nil, 0, translate(err)
	}
	return rows, total, nil
}
