package services

import (
	"sort"
	"sync"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"go.uber.org/zap"
)

// ConnectionRegistry maps each identity to its single live connection.
// Lock order is registry, then groups.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	conns   map[domain.UserID]ports.Connection
	groups  *BroadcastGroups
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
}

func NewConnectionRegistry(groups *BroadcastGroups, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *ConnectionRegistry {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &ConnectionRegistry{
		conns:   make(map[domain.UserID]ports.Connection),
		groups:  groups,
		metrics: metrics,
		logger:  logger,
	}
}

// Register binds conn to its identity. A previous handle for the same
// identity is evicted from all groups, closed, and returned.
func (r *ConnectionRegistry) Register(conn ports.Connection) ports.Connection {
	r.mu.Lock()
	old, existed := r.conns[conn.UserID()]
	if existed && old.ID() == conn.ID() {
		r.mu.Unlock()
		return nil
	}
	r.conns[conn.UserID()] = conn
	if existed {
		r.groups.EvictAll(old.ID())
	}
	r.groups.Join(UserGroup(conn.UserID()), conn)
	count := len(r.conns)
	r.mu.Unlock()

	r.metrics.SetActiveConnections(count)

	if existed {
		r.logger.Infow("Replaced existing connection",
			"user_id", conn.UserID(),
			"old_connection_id", old.ID(),
			"connection_id", conn.ID(),
		)
		r.metrics.RecordConnection("replaced")
		if err := old.Close(); err != nil {
			r.logger.Debugw("Failed to close replaced connection", "connection_id", old.ID(), "error", err)
		}
		return old
	}

	r.logger.Infow("Connection registered", "user_id", conn.UserID(), "connection_id", conn.ID())
	return nil
}

func (r *ConnectionRegistry) Resolve(user domain.UserID) (ports.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[user]
	return conn, ok
}

// Unregister drops whatever handle is bound to user. It is a no-op for
// unknown identities.
func (r *ConnectionRegistry) Unregister(user domain.UserID) {
	r.mu.Lock()
	conn, ok := r.conns[user]
	if ok {
		delete(r.conns, user)
		r.groups.EvictAll(conn.ID())
	}
	count := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.metrics.SetActiveConnections(count)
	}
}

// UnregisterConnection evicts conn from its groups and unbinds its identity
// only while conn is still the current handle. It reports whether it was.
func (r *ConnectionRegistry) UnregisterConnection(conn ports.Connection) bool {
	r.mu.Lock()
	current, ok := r.conns[conn.UserID()]
	isCurrent := ok && current.ID() == conn.ID()
	if isCurrent {
		delete(r.conns, conn.UserID())
	}
	r.groups.EvictAll(conn.ID())
	count := len(r.conns)
	r.mu.Unlock()

	if isCurrent {
		r.metrics.SetActiveConnections(count)
	}
	return isCurrent
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *ConnectionRegistry) Users() []domain.UserID {
	r.mu.RLock()
	out := make([]domain.UserID, 0, len(r.conns))
	for u := range r.conns {
		out = append(out, u)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
