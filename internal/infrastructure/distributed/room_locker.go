package distributed

import (
	"context"
	"fmt"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockPrefix = "roomrelay:lock:room:"

// RedisRoomLocker serializes room decisions across instances that share a
// Redis deployment.
type RedisRoomLocker struct {
	locks   *distributed.LockManager
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.SugaredLogger
}

var _ ports.RoomLocker = (*RedisRoomLocker)(nil)

func NewRedisRoomLocker(client *redis.Client, ttl, timeout time.Duration, logger *zap.SugaredLogger) *RedisRoomLocker {
	return &RedisRoomLocker{
		locks:   distributed.NewLockManager(client, lockPrefix),
		ttl:     ttl,
		timeout: timeout,
		logger:  logger,
	}
}

// Lock blocks until the room lock is held or the acquisition times out. The
// returned unlock is safe to call more than once.
func (l *RedisRoomLocker) Lock(ctx context.Context, roomID domain.RoomID) (func(), error) {
	lock := l.locks.AcquireLock(string(roomID), l.ttl)
	if err := lock.LockWithTimeout(ctx, l.timeout); err != nil {
		return nil, fmt.Errorf("lock room %s: %w", roomID, err)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// release even if the caller's context is already done
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := lock.Unlock(ctx); err != nil {
			l.logger.Warnw("failed to release room lock",
				"room_id", roomID,
				"error", err,
			)
		}
	}, nil
}
