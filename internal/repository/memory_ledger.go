package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"loyaltysystem/internal/model"
)

// MemoryLedger keeps the whole ledger in process memory. It is used by
// local runs and tests and follows the same rules as GormLedger.
type MemoryLedger struct {
	mu sync.RWMutex

	accounts     map[string]*model.Account
	byEmail      map[string]string
	byReferral   map[string]string
	transactions map[string][]*model.Transaction
	redemptions  map[string][]*model.Redemption
	expiredBy    map[string]string // earn id -> expiry id
	outbox       []*model.OutboxMessage
	outboxSeq    int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:     make(map[string]*model.Account),
		byEmail:      make(map[string]string),
		byReferral:   make(map[string]string),
		transactions: make(map[string][]*model.Transaction),
		redemptions:  make(map[string][]*model.Redemption),
		expiredBy:    make(map[string]string),
	}
}

func (l *MemoryLedger) CreateAccount(ctx context.Context, acc *model.Account, opening []*model.Transaction) (*model.Account, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.byEmail[acc.Email]; ok {
		return cloneAccount(l.accounts[id]), false, nil
	}
	if _, ok := l.accounts[acc.ID]; ok {
		return nil, false, ErrDuplicate
	}
	if _, ok := l.byReferral[acc.ReferralCode]; ok {
		return nil, false, ErrDuplicate
	}

	stored := cloneAccount(acc)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	l.accounts[stored.ID] = stored
	l.byEmail[stored.Email] = stored.ID
	l.byReferral[stored.ReferralCode] = stored.ID
	for _, t := range opening {
		row := *t
		l.transactions[stored.ID] = append(l.transactions[stored.ID], &row)
	}
	return cloneAccount(stored), true, nil
}

func (l *MemoryLedger) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(acc), nil
}

func (l *MemoryLedger) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return l.lookup(ctx, l.byEmail, email)
}

func (l *MemoryLedger) GetAccountByReferralCode(ctx context.Context, code string) (*model.Account, error) {
	return l.lookup(ctx, l.byReferral, strings.ToUpper(code))
}

func (l *MemoryLedger) lookup(ctx context.Context, index map[string]string, key string) (*model.Account, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := index[key]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(l.accounts[id]), nil
}

func (l *MemoryLedger) Apply(ctx context.Context, m *Mutation) (*model.Account, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[m.AccountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if acc.PointsBalance+m.BalanceDelta < 0 {
		return nil, ErrBalanceNotEnough
	}
	if acc.Version != m.Version {
		return nil, ErrOptimisticLock
	}
	for _, t := range m.Transactions {
		if t.RelatedTransactionID != nil {
			if _, dup := l.expiredBy[*t.RelatedTransactionID]; dup {
				return nil, ErrDuplicate
			}
		}
	}

	acc.PointsBalance += m.BalanceDelta
	acc.PointsLifetime += m.LifetimeDelta
	acc.ReferralCount += m.ReferralCountDelta
	acc.Version++
	acc.LastActivityAt = m.At
	acc.UpdatedAt = m.At
	if m.Tier != "" {
		acc.Tier = m.Tier
		if m.TierChangedAt != nil {
			acc.TierStartDate = *m.TierChangedAt
		}
	}
	if m.ReferredBy != "" {
		acc.ReferredBy = m.ReferredBy
	}

	for _, t := range m.Transactions {
		row := *t
		l.transactions[acc.ID] = append(l.transactions[acc.ID], &row)
		if row.RelatedTransactionID != nil {
			l.expiredBy[*row.RelatedTransactionID] = row.ID
		}
	}
	if m.Redemption != nil {
		r := *m.Redemption
		l.redemptions[acc.ID] = append(l.redemptions[acc.ID], &r)
	}
	for _, msg := range m.Outbox {
		l.outboxSeq++
		stored := *msg
		stored.ID = l.outboxSeq
		if stored.Status == "" {
			stored.Status = model.OutboxStatusPending
		}
		stored.CreatedAt = m.At
		stored.UpdatedAt = m.At
		l.outbox = append(l.outbox, &stored)
	}

	return cloneAccount(acc), nil
}

func (l *MemoryLedger) ListTransactions(ctx context.Context, accountID string, page, pageSize int) ([]*model.Transaction, int64, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows := l.transactions[accountID]
	total := int64(len(rows))
	out := make([]*model.Transaction, 0, pageSize)
	// stored oldest first, served newest first
	for i := len(rows) - 1 - (page-1)*pageSize; i >= 0 && len(out) < pageSize; i-- {
		row := *rows[i]
		out = append(out, &row)
	}
	return out, total, nil
}

func (l *MemoryLedger) ListRedemptions(ctx context.Context, accountID string, page, pageSize int) ([]*model.Redemption, int64, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows := l.redemptions[accountID]
	total := int64(len(rows))
	out := make([]*model.Redemption, 0, pageSize)
	for i := len(rows) - 1 - (page-1)*pageSize; i >= 0 && len(out) < pageSize; i-- {
		r := *rows[i]
		out = append(out, &r)
	}
	return out, total, nil
}

func (l *MemoryLedger) BalanceSnapshot(ctx context.Context, accountID string) (*model.Account, int64, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	acc, ok := l.accounts[accountID]
	if !ok {
		return nil, 0, ErrAccountNotFound
	}
	var sum int64
	for _, t := range l.transactions[accountID] {
		if t.AffectsBalance() {
			sum += t.Points
		}
	}
	return cloneAccount(acc), sum, nil
}

func (l *MemoryLedger) ListExpiredEarnings(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*model.Transaction
	for _, rows := range l.transactions {
		for _, t := range rows {
			if t.Type != model.TransactionTypeEarn || t.ExpiresAt == nil || t.ExpiresAt.After(now) {
				continue
			}
			if _, done := l.expiredBy[t.ID]; done {
				continue
			}
			row := *t
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) ListAccounts(ctx context.Context, afterID string, limit int) ([]*model.Account, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*model.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneAccount(l.accounts[id]))
	}
	return out, nil
}

func (l *MemoryLedger) Leaderboard(ctx context.Context, limit int) ([]*model.Account, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*model.Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, cloneAccount(acc))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PointsLifetime != out[j].PointsLifetime {
			return out[i].PointsLifetime > out[j].PointsLifetime
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) Stats(ctx context.Context) (*Stats, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{
		TotalAccounts:  int64(len(l.accounts)),
		AccountsByTier: make(map[string]int64),
	}
	for _, acc := range l.accounts {
		stats.AccountsByTier[acc.Tier]++
	}
	for _, rows := range l.transactions {
		for _, t := range rows {
			switch {
			case (t.Type == model.TransactionTypeEarn || t.Type == model.TransactionTypeAdjustment) && t.Points > 0:
				stats.PointsIssued += t.Points
			case t.Type == model.TransactionTypeRedeem:
				stats.PointsRedeemed -= t.Points
			case t.Type == model.TransactionTypeExpiry:
				stats.PointsExpired -= t.Points
			}
		}
	}
	for _, rows := range l.redemptions {
		stats.TotalRedemptions += int64(len(rows))
	}
	return stats, nil
}

func (l *MemoryLedger) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*model.OutboxMessage
	for _, msg := range l.outbox {
		if msg.Status != model.OutboxStatusPending {
			continue
		}
		m := *msg
		out = append(out, &m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLedger) MarkSent(ctx context.Context, id int64) error {
	return l.updateOutbox(ctx, id, func(m *model.OutboxMessage) { m.Status = model.OutboxStatusSent })
}

func (l *MemoryLedger) IncrementRetryCount(ctx context.Context, id int64) error {
	return l.updateOutbox(ctx, id, func(m *model.OutboxMessage) { m.RetryCount++ })
}

func (l *MemoryLedger) MarkAsFailed(ctx context.Context, id int64) error {
	return l.updateOutbox(ctx, id, func(m *model.OutboxMessage) { m.Status = model.OutboxStatusFailed })
}

func (l *MemoryLedger) updateOutbox(ctx context.Context, id int64, fn func(*model.OutboxMessage)) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.outbox {
		if msg.ID == id {
			fn(msg)
			msg.UpdatedAt = time.Now()
			return nil
		}
	}
	return nil
}

// OutboxMessages returns a copy of every outbox message in insertion order.
func (l *MemoryLedger) OutboxMessages() []model.OutboxMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.OutboxMessage, 0, len(l.outbox))
	for _, msg := range l.outbox {
		out = append(out, *msg)
	}
	return out
}

func cloneAccount(acc *model.Account) *model.Account {
	c := *acc
	return &c
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return ErrStorageTimeout
		}
		return err
	}
	return nil
}
