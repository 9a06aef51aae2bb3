package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"roomrelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestBroadcastGroups_JoinLeave(t *testing.T) {
	groups := NewBroadcastGroups(zaptest.NewLogger(t).Sugar())
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")

	groups.Join(RoomGroup("r1"), alice)
	groups.Join(RoomGroup("r1"), bob)
	groups.Join(RoomGroup("r1"), bob)
	assert.Equal(t, 2, groups.Size(RoomGroup("r1")))

	members := groups.Members(RoomGroup("r1"))
	assert.Equal(t, alice.ID(), members[0].ID())
	assert.Equal(t, bob.ID(), members[1].ID())

	groups.Leave(RoomGroup("r1"), alice.ID())
	groups.Leave(RoomGroup("r1"), alice.ID())
	assert.False(t, groups.IsMember(RoomGroup("r1"), alice.ID()))
	assert.Equal(t, 1, groups.Size(RoomGroup("r1")))
}

func TestBroadcastGroups_EvictAll(t *testing.T) {
	groups := NewBroadcastGroups(zaptest.NewLogger(t).Sugar())
	alice := newFakeConn("alice")
	groups.Join(UserGroup("alice"), alice)
	groups.Join(RoomGroup("r1"), alice)
	groups.Join(RoomGroup("r2"), alice)

	assert.Equal(t, 3, groups.EvictAll(alice.ID()))
	assert.Equal(t, 0, groups.Size(RoomGroup("r1")))
	assert.Equal(t, 0, groups.Size(RoomGroup("r2")))
	assert.Equal(t, 0, groups.EvictAll(alice.ID()))
}

func TestBroadcastGroups_EmitSkipsSenderAndCountsDrops(t *testing.T) {
	groups := NewBroadcastGroups(zaptest.NewLogger(t).Sugar())
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	carol := newFakeConn("carol")
	carol.sendErr = errors.New("buffer full")
	for _, c := range []*fakeConn{alice, bob, carol} {
		groups.Join(RoomGroup("r1"), c)
	}

	res := groups.Emit(RoomGroup("r1"), domain.Event{Name: domain.EventTyping}, "alice")

	assert.Equal(t, PublishResult{Delivered: 1, Dropped: 1}, res)
	assert.Empty(t, alice.names())
	assert.Equal(t, []string{domain.EventTyping}, bob.names())
}

func TestBroadcastGroups_EmitToEmptyGroup(t *testing.T) {
	groups := NewBroadcastGroups(zaptest.NewLogger(t).Sugar())
	assert.Equal(t, PublishResult{}, groups.Emit(RoomGroup("none"), domain.Event{Name: "x"}, ""))
}

func TestBroadcastGroups_ConcurrentAccess(t *testing.T) {
	groups := NewBroadcastGroups(zaptest.NewLogger(t).Sugar())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		conn := newFakeConn(domain.UserID(fmt.Sprintf("user-%d", i)))
		wg.Add(2)
		go func() {
			defer wg.Done()
			groups.Join(RoomGroup("r1"), conn)
		}()
		go func() {
			defer wg.Done()
			groups.Emit(RoomGroup("r1"), domain.Event{Name: "tick"}, "")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, groups.Size(RoomGroup("r1")))
}
