package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrLockFailed  = errors.New("failed to acquire lock")
	ErrLockExpired = errors.New("lock expired before release")
)

// Locker serializes work on one key. Unlock is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// AccountKey is the lock key of one loyalty account.
func AccountKey(accountID string) string {
	return fmt.Sprintf("loyalty:lock:account:%s", accountID)
}

// releases the key only while it still holds our token
const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock is a single SET NX EX lock on one key.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes one attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval until it wins or ctx is done.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration) error {
	for {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrLockFailed, l.key, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

// Unlock deletes the key if this lock still owns it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockExpired
	}
	return nil
}

// RedisLocker hands out DistributedLocks, one token per acquisition.
type RedisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
}

func NewRedisLocker(client *redis.Client, ttl, retryInterval time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retryInterval <= 0 {
		retryInterval = 20 * time.Millisecond
	}
	return &RedisLocker{client: client, ttl: ttl, retryInterval: retryInterval}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	dl := NewDistributedLock(r.client, key, uuid.NewString(), r.ttl)
	if err := dl.Lock(ctx, r.retryInterval); err != nil {
		return nil, err
	}
	return func() {
		// the caller's context may already be gone
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := dl.Unlock(ctx); err != nil {
			log.WithFields(log.Fields{"key": key, "error": err}).Warn("[Lock] release failed")
		}
	}, nil
}
