package ports

import (
	"context"

	"roomrelay/internal/core/domain"
)

// RoomRepository persists room records. Every mutation is atomic at the store
// level and returns the record as it stands after the change.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	AddParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error)
	RemoveParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error)
	SetActive(ctx context.Context, id domain.RoomID, active bool) (*domain.Room, error)
	SetPassword(ctx context.Context, id domain.RoomID, hash string) (*domain.Room, error)
	SetChatEnabled(ctx context.Context, id domain.RoomID, enabled bool) (*domain.Room, error)
	AddInvite(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error)
}
