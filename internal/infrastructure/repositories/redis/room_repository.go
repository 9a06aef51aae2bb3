package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "roomrelay:"
	roomsIndexKey = keyPrefix + "rooms"
)

// createScript writes a new room atomically. ARGV[8] holds the participant
// count; invites follow the participants.
var createScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1],
		'room_id', ARGV[1],
		'admin_id', ARGV[2],
		'password_hash', ARGV[3],
		'is_active', ARGV[4],
		'is_chat_enabled', ARGV[5],
		'created_at', ARGV[6],
		'updated_at', ARGV[7])
	local n = tonumber(ARGV[8])
	for i = 1, n do
		redis.call('SADD', KEYS[2], ARGV[8 + i])
	end
	for i = 9 + n, #ARGV do
		redis.call('SADD', KEYS[3], ARGV[i])
	end
	redis.call('SADD', KEYS[4], ARGV[1])
	return 1
`)

// roomScript checks the room exists, applies at most one mutation, and
// returns the resulting state in the same round trip.
var roomScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return false
	end
	local op = ARGV[1]
	if op == 'sadd' then
		redis.call('SADD', KEYS[2], ARGV[2])
	elseif op == 'srem' then
		redis.call('SREM', KEYS[2], ARGV[2])
	elseif op == 'hset' then
		redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
	end
	if op ~= 'get' then
		redis.call('HSET', KEYS[1], 'updated_at', ARGV[4])
	end
	return {
		redis.call('HGETALL', KEYS[1]),
		redis.call('SMEMBERS', KEYS[3]),
		redis.call('SMEMBERS', KEYS[4])
	}
`)

type RedisRoomRepository struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{
		client: client,
		now:    time.Now,
	}
}

// roomKey uses a hash tag so a room's hash and sets share a cluster slot.
func roomKey(id domain.RoomID) string {
	return keyPrefix + "room:{" + string(id) + "}"
}

func participantsKey(id domain.RoomID) string {
	return roomKey(id) + ":participants"
}

func invitesKey(id domain.RoomID) string {
	return roomKey(id) + ":invites"
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	args := []interface{}{
		string(room.ID),
		string(room.AdminID),
		room.PasswordHash,
		formatBool(room.IsActive),
		formatBool(room.IsChatEnabled),
		room.CreatedAt.UTC().Format(time.RFC3339Nano),
		room.UpdatedAt.UTC().Format(time.RFC3339Nano),
		len(room.Participants),
	}
	for _, p := range room.Participants {
		args = append(args, string(p))
	}
	for _, i := range room.Invites {
		args = append(args, string(i))
	}

	keys := []string{roomKey(room.ID), participantsKey(room.ID), invitesKey(room.ID), roomsIndexKey}
	created, err := createScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to create room in Redis: %w", err)
	}
	if created == 0 {
		return domain.ErrRoomExists
	}
	return nil
}

func (r *RedisRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return r.run(ctx, id, "get", "", "", "")
}

func (r *RedisRoomRepository) AddParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return r.run(ctx, id, "sadd", participantsKey(id), string(user), "")
}

func (r *RedisRoomRepository) RemoveParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return r.run(ctx, id, "srem", participantsKey(id), string(user), "")
}

func (r *RedisRoomRepository) SetActive(ctx context.Context, id domain.RoomID, active bool) (*domain.Room, error) {
	return r.run(ctx, id, "hset", "", "is_active", formatBool(active))
}

func (r *RedisRoomRepository) SetPassword(ctx context.Context, id domain.RoomID, hash string) (*domain.Room, error) {
	return r.run(ctx, id, "hset", "", "password_hash", hash)
}

func (r *RedisRoomRepository) SetChatEnabled(ctx context.Context, id domain.RoomID, enabled bool) (*domain.Room, error) {
	return r.run(ctx, id, "hset", "", "is_chat_enabled", formatBool(enabled))
}

func (r *RedisRoomRepository) AddInvite(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return r.run(ctx, id, "sadd", invitesKey(id), string(user), "")
}

func (r *RedisRoomRepository) run(ctx context.Context, id domain.RoomID, op, setKey, member, value string) (*domain.Room, error) {
	if setKey == "" {
		setKey = roomKey(id)
	}
	keys := []string{roomKey(id), setKey, participantsKey(id), invitesKey(id)}
	updated := r.now().UTC().Format(time.RFC3339Nano)

	res, err := roomScript.Run(ctx, r.client, keys, op, member, value, updated).Slice()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s room %s in Redis: %w", op, id, err)
	}
	return decodeRoom(res)
}

func decodeRoom(res []interface{}) (*domain.Room, error) {
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected Redis response length: %d", len(res))
	}
	fields, ok := res[0].([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected room hash type %T", res[0])
	}

	h := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		k, _ := fields[i].(string)
		v, _ := fields[i+1].(string)
		h[k] = v
	}

	room := &domain.Room{
		ID:            domain.RoomID(h["room_id"]),
		AdminID:       domain.UserID(h["admin_id"]),
		PasswordHash:  h["password_hash"],
		IsActive:      parseBool(h["is_active"]),
		IsChatEnabled: parseBool(h["is_chat_enabled"]),
		Participants:  decodeMembers(res[1]),
		Invites:       decodeMembers(res[2]),
	}
	var err error
	if room.CreatedAt, err = parseTime(h["created_at"]); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if room.UpdatedAt, err = parseTime(h["updated_at"]); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	return room, nil
}

func decodeMembers(v interface{}) []domain.UserID {
	items, _ := v.([]interface{})
	out := make([]domain.UserID, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, domain.UserID(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
