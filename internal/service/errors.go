package service

import (
	"context"
	"errors"
	"fmt"

	"loyaltysystem/internal/infrastructure/lock"
	"loyaltysystem/internal/repository"
)

// Expected rejections. Callers match them with errors.Is; the message after
// the sentinel carries the detail.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidOption       = fmt.Errorf("%w: reward no longer available", ErrInvalidInput)
	ErrAccountNotFound     = errors.New("loyalty account not found")
	ErrInsufficientPoints  = errors.New("insufficient points")
	ErrBelowMinimum        = errors.New("below minimum redeemable points")
	ErrInvalidReferralCode = errors.New("invalid referral code")
)

// Infrastructure failures.
var (
	ErrStorageTimeout  = errors.New("storage timeout")
	ErrStorageConflict = errors.New("concurrent update conflict, retry")
	// ErrDataIntegrity means the cached balance disagrees with the ledger. It
	// is never retried or corrected automatically.
	ErrDataIntegrity = errors.New("ledger data integrity violation")
)

// translate maps storage and lock errors onto the engine's taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrBalanceNotEnough):
		return ErrInsufficientPoints
	case errors.Is(err, repository.ErrOptimisticLock):
		return fmt.Errorf("%w: %v", ErrStorageConflict, err)
	case errors.Is(err, lock.ErrLockFailed):
		return fmt.Errorf("%w: %v", ErrStorageConflict, err)
	case errors.Is(err, repository.ErrStorageTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	default:
		return fmt.Errorf("storage: %w", err)
	}
}
