package services

import (
	"context"
	"sync"

	"roomrelay/internal/core/domain"
)

// LocalRoomLocker is an in-process keyed mutex. Entries are reference counted
// and removed once the last holder or waiter releases them.
type LocalRoomLocker struct {
	mu    sync.Mutex
	locks map[domain.RoomID]*roomLock
}

type roomLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalRoomLocker() *LocalRoomLocker {
	return &LocalRoomLocker{locks: make(map[domain.RoomID]*roomLock)}
}

func (l *LocalRoomLocker) Lock(ctx context.Context, roomID domain.RoomID) (func(), error) {
	l.mu.Lock()
	rl, ok := l.locks[roomID]
	if !ok {
		rl = &roomLock{ch: make(chan struct{}, 1)}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	select {
	case rl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(roomID, rl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-rl.ch
			l.release(roomID, rl)
		})
	}, nil
}

func (l *LocalRoomLocker) release(roomID domain.RoomID, rl *roomLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl.refs--
	if rl.refs == 0 {
		delete(l.locks, roomID)
	}
}

func (l *LocalRoomLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
