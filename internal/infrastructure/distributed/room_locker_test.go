package distributed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"roomrelay/pkg/distributed"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newLocker(t *testing.T, timeout time.Duration) (*RedisRoomLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRoomLocker(client, 5*time.Second, timeout, zaptest.NewLogger(t).Sugar()), mr
}

func TestRedisRoomLocker_LockAndUnlock(t *testing.T) {
	locker, mr := newLocker(t, time.Second)

	unlock, err := locker.Lock(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(lockPrefix+"r1"))

	unlock()
	unlock()
	assert.False(t, mr.Exists(lockPrefix+"r1"))
}

func TestRedisRoomLocker_TimesOutWhileHeld(t *testing.T) {
	locker, _ := newLocker(t, 50*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "r1")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), "r1")
	assert.ErrorIs(t, err, distributed.ErrLockTimeout)

	// other rooms are independent
	unlock2, err := locker.Lock(context.Background(), "r2")
	require.NoError(t, err)
	unlock2()
}

func TestRedisRoomLocker_MutualExclusion(t *testing.T) {
	locker, _ := newLocker(t, 5*time.Second)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "r1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}
