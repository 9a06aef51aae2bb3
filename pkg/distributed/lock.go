package distributed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockTimeout is returned when the lock is not acquired before the deadline.
	ErrLockTimeout = errors.New("lock acquisition timeout")
	// ErrLockNotHeld is returned when releasing or refreshing a lock whose
	// token no longer matches, usually because the TTL expired.
	ErrLockNotHeld = errors.New("lock not held")
)

// Token-checked release and refresh. Only the holder may modify the key.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)
	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)
)

const defaultRetryInterval = 25 * time.Millisecond

// DistributedLock is a single SET NX PX lock identified by a random token.
type DistributedLock struct {
	client        *redis.Client
	key           string
	token         string
	ttl           time.Duration
	retryInterval time.Duration
}

func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client:        client,
		key:           key,
		token:         uuid.NewString(),
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
	}
}

// Key returns the redis key guarding the lock.
func (l *DistributedLock) Key() string { return l.key }

// TryLock attempts to acquire the lock without blocking
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to try lock %s: %w", l.key, err)
	}
	return acquired, nil
}

// LockWithTimeout polls until the lock is acquired, ctx is done, or timeout
// elapses. A zero timeout waits only on ctx.
func (l *DistributedLock) LockWithTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return l.waitError(ctx, timeout)
			}
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return l.waitError(ctx, timeout)
		case <-ticker.C:
		}
	}
}

func (l *DistributedLock) waitError(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrLockTimeout, l.key, timeout)
	}
	return ctx.Err()
}

// Unlock releases the lock if this holder still owns it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, l.key)
	}
	return nil
}

// Refresh extends the TTL if this holder still owns the lock.
func (l *DistributedLock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, l.key)
	}
	return nil
}

// LockManager hands out locks under a common key prefix.
type LockManager struct {
	client *redis.Client
	prefix string
}

func NewLockManager(client *redis.Client, prefix string) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
	}
}

// AcquireLock returns an unacquired lock for key.
func (lm *LockManager) AcquireLock(key string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(lm.client, lm.prefix+key, ttl)
}
