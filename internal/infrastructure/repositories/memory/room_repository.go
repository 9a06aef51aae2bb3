package memory

import (
	"context"
	"sync"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
)

type MemoryRoomRepository struct {
	rooms map[domain.RoomID]*domain.Room
	mu    sync.RWMutex
	now   func() time.Time
}

func NewMemoryRoomRepository() ports.RoomRepository {
	return &MemoryRoomRepository{
		rooms: make(map[domain.RoomID]*domain.Room),
		now:   time.Now,
	}
}

func (r *MemoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.ID]; exists {
		return domain.ErrRoomExists
	}

	r.rooms[room.ID] = room.Clone()
	return nil
}

func (r *MemoryRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	return room.Clone(), nil
}

// update applies fn to the stored room under the write lock.
func (r *MemoryRoomRepository) update(id domain.RoomID, fn func(*domain.Room)) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	fn(room)
	room.UpdatedAt = r.now()
	return room.Clone(), nil
}

func (r *MemoryRoomRepository) AddParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return r.update(id, func(room *domain.Room) {
		room.Participants = domain.AddUnique(room.Participants, user)
	})
}

func (r *MemoryRoomRepository) RemoveParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return r.update(id, func(room *domain.Room) {
		room.Participants = domain.RemoveUser(room.Participants, user)
	})
}

func (r *MemoryRoomRepository) SetActive(ctx context.Context, id domain.RoomID, active bool) (*domain.Room, error) {
	return r.update(id, func(room *domain.Room) {
		room.IsActive = active
	})
}

func (r *MemoryRoomRepository) SetPassword(ctx context.Context, id domain.RoomID, hash string) (*domain.Room, error) {
	return r.update(id, func(room *domain.Room) {
		room.PasswordHash = hash
	})
}

func (r *MemoryRoomRepository) SetChatEnabled(ctx context.Context, id domain.RoomID, enabled bool) (*domain.Room, error) {
	return r.update(id, func(room *domain.Room) {
		room.IsChatEnabled = enabled
	})
}

func (r *MemoryRoomRepository) AddInvite(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return r.update(id, func(room *domain.Room) {
		room.Invites = domain.AddUnique(room.Invites, user)
	})
}

// Count returns the number of stored rooms.
func (r *MemoryRoomRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
