package ports

import (
	"context"
	"time"

	"roomrelay/internal/core/domain"
)

// Connection is a live, identified client handle.
type Connection interface {
	ID() domain.ConnectionID
	UserID() domain.UserID
	Username() string
	// Send enqueues an event without blocking on the network.
	Send(event domain.Event) error
	Close() error
}

// RoomLocker serializes decisions per room.
type RoomLocker interface {
	Lock(ctx context.Context, roomID domain.RoomID) (unlock func(), err error)
}

type PasswordVerifier interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

type MetricsRecorder interface {
	SetActiveConnections(n int)
	RecordConnection(event string)
	RecordRoomCreated()
	RecordRoomClosed()
	RecordAdmission(outcome string)
	RecordRelay(kind string, delivered bool)
	RecordFanout(kind string, delivered, dropped int)
	RecordStoreOperation(op string, duration time.Duration, err error)
	RecordError(component, code string)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) SetActiveConnections(int)                          {}
func (NopMetrics) RecordConnection(string)                           {}
func (NopMetrics) RecordRoomCreated()                                {}
func (NopMetrics) RecordRoomClosed()                                 {}
func (NopMetrics) RecordAdmission(string)                            {}
func (NopMetrics) RecordRelay(string, bool)                          {}
func (NopMetrics) RecordFanout(string, int, int)                     {}
func (NopMetrics) RecordStoreOperation(string, time.Duration, error) {}
func (NopMetrics) RecordError(string, string)                        {}
