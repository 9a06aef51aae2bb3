package services

import (
	"sort"
	"sync"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"go.uber.org/zap"
)

type GroupKey string

func UserGroup(id domain.UserID) GroupKey {
	return GroupKey("user:" + string(id))
}

func RoomGroup(id domain.RoomID) GroupKey {
	return GroupKey("room:" + string(id))
}

// PublishResult reports the outcome of one Emit.
type PublishResult struct {
	Delivered int
	Dropped   int
}

// BroadcastGroups keeps named sets of live connections. The reverse index
// lets a disconnect evict a connection from all of its groups without
// scanning every group.
type BroadcastGroups struct {
	mu      sync.RWMutex
	members map[GroupKey]map[domain.ConnectionID]ports.Connection
	byConn  map[domain.ConnectionID]map[GroupKey]struct{}
	logger  *zap.SugaredLogger
}

func NewBroadcastGroups(logger *zap.SugaredLogger) *BroadcastGroups {
	return &BroadcastGroups{
		members: make(map[GroupKey]map[domain.ConnectionID]ports.Connection),
		byConn:  make(map[domain.ConnectionID]map[GroupKey]struct{}),
		logger:  logger,
	}
}

func (g *BroadcastGroups) Join(key GroupKey, conn ports.Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.members[key]
	if !ok {
		set = make(map[domain.ConnectionID]ports.Connection)
		g.members[key] = set
	}
	set[conn.ID()] = conn

	keys, ok := g.byConn[conn.ID()]
	if !ok {
		keys = make(map[GroupKey]struct{})
		g.byConn[conn.ID()] = keys
	}
	keys[key] = struct{}{}
}

func (g *BroadcastGroups) Leave(key GroupKey, connID domain.ConnectionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(key, connID)
}

func (g *BroadcastGroups) leaveLocked(key GroupKey, connID domain.ConnectionID) {
	if set, ok := g.members[key]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(g.members, key)
		}
	}
	if keys, ok := g.byConn[connID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(g.byConn, connID)
		}
	}
}

// EvictAll removes connID from every group it belongs to and returns the
// number of groups left.
func (g *BroadcastGroups) EvictAll(connID domain.ConnectionID) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := g.byConn[connID]
	n := len(keys)
	for key := range keys {
		g.leaveLocked(key, connID)
	}
	return n
}

func (g *BroadcastGroups) IsMember(key GroupKey, connID domain.ConnectionID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[key][connID]
	return ok
}

func (g *BroadcastGroups) Size(key GroupKey) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members[key])
}

// Members returns a snapshot of the group ordered by connection id.
func (g *BroadcastGroups) Members(key GroupKey) []ports.Connection {
	g.mu.RLock()
	out := make([]ports.Connection, 0, len(g.members[key]))
	for _, c := range g.members[key] {
		out = append(out, c)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Emit sends event to every member of key except connections owned by
// except. Sends happen outside the lock; a failing recipient is counted as
// dropped and does not affect the others.
func (g *BroadcastGroups) Emit(key GroupKey, event domain.Event, except domain.UserID) PublishResult {
	var res PublishResult
	for _, conn := range g.Members(key) {
		if except != "" && conn.UserID() == except {
			continue
		}
		if err := conn.Send(event); err != nil {
			res.Dropped++
			g.logger.Debugw("Dropped event for member",
				"group", key,
				"event", event.Name,
				"connection_id", conn.ID(),
				"error", err,
			)
			continue
		}
		res.Delivered++
	}
	return res
}
