package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyaltysystem/internal/model"
	"loyaltysystem/internal/repository"

	log "github.com/sirupsen/logrus"
)

type ExpiryReport struct {
	Expired       int   `json:"expired"`
	PointsExpired int64 `json:"points_expired"`
	Failed        int   `json:"failed"`
}

// ExpirePoints writes an expiry row for every earn row whose ExpiresAt is at
// or before now (the engine clock when now is zero). Each expiry takes min(earned, balance) so the balance never goes
// negative; a row clamped to zero is still written to mark the earning
// consumed. Lifetime points and tier are untouched.
func (e *Engine) ExpirePoints(ctx context.Context, now time.Time) (*ExpiryReport, error) {
	report := &ExpiryReport{}
	if e.settings.PointsExpireMonths <= 0 {
		return report, nil
	}
	if now.IsZero() {
		now = e.now()
	}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		due, err := e.ledger.ListExpiredEarnings(ctx, now, e.settings.BatchSize)
		if err != nil {
			return report, translate(err)
		}
		if len(due) == 0 {
			break
		}

		progressed := 0
		for _, earned := range due {
			points, err := e.expireOne(ctx, earned)
			switch {
			case err == nil:
				progressed++
				report.Expired++
				report.PointsExpired += points
			case errors.Is(err, repository.ErrDuplicate):
				// expired concurrently
				progressed++
			default:
				report.Failed++
				log.WithFields(log.Fields{
					"account_id":     earned.AccountID,
					"transaction_id": earned.ID,
					"error":          err,
				}).Warn("[Engine] expiry failed")
			}
		}
		if progressed == 0 || len(due) < e.settings.BatchSize {
			break
		}
	}

	if report.Expired > 0 || report.Failed > 0 {
		log.WithFields(log.Fields{
			"expired": report.Expired,
			"points":  report.PointsExpired,
			"failed":  report.Failed,
		}).Info("[Engine] points expiry finished")
	}
	return report, nil
}

func (e *Engine) expireOne(ctx context.Context, earned *model.Transaction) (int64, error) {
	var expired int64
	_, err := e.withAccount(ctx, earned.AccountID, func(acc *model.Account, now time.Time) (*repository.Mutation, error) {
		expired = earned.Points
		if acc.PointsBalance < expired {
			expired = acc.PointsBalance
		}

		row := e.newTransaction(acc.ID, model.TransactionTypeExpiry, -expired,
			fmt.Sprintf("Points expired (earned %s)", earned.CreatedAt.Format("2006-01-02")),
			acc.PointsBalance-expired, now)
		source := earned.ID
		row.RelatedTransactionID = &source

		return &repository.Mutation{
			AccountID:    acc.ID,
			Version:      acc.Version,
			BalanceDelta: -expired,
			Transactions: []*model.Transaction{row},
			At:           now,
		}, nil
	})
	return expired, err
}
