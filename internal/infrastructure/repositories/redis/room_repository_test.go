package redis

import (
	"context"
	"testing"
	"time"

	"roomrelay/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisRoomRepository_CreateAndGet(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := NewRedisRoomRepository(client)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	room := domain.NewRoom("r1", "admin", created)
	room.PasswordHash = "bcrypt-hash"
	room.Invites = []domain.UserID{"carol"}

	require.NoError(t, repo.Create(ctx, room))
	assert.ErrorIs(t, repo.Create(ctx, room), domain.ErrRoomExists)

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("r1"), got.ID)
	assert.Equal(t, domain.UserID("admin"), got.AdminID)
	assert.Equal(t, []domain.UserID{"admin"}, got.Participants)
	assert.Equal(t, []domain.UserID{"carol"}, got.Invites)
	assert.Equal(t, "bcrypt-hash", got.PasswordHash)
	assert.True(t, got.IsActive)
	assert.True(t, got.IsChatEnabled)
	assert.True(t, created.Equal(got.CreatedAt))

	assert.True(t, mr.Exists("roomrelay:room:{r1}"))
	members, err := mr.Members(roomsIndexKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, members)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRedisRoomRepository_Mutations(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := NewRedisRoomRepository(client)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, domain.NewRoom("r1", "admin", time.Now())))

	room, err := repo.AddParticipant(ctx, "r1", "bob")
	require.NoError(t, err)
	room, err = repo.AddParticipant(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"admin", "bob"}, room.Participants)

	room, err = repo.RemoveParticipant(ctx, "r1", "admin")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob"}, room.Participants)

	room, err = repo.SetActive(ctx, "r1", false)
	require.NoError(t, err)
	assert.False(t, room.IsActive)

	room, err = repo.SetChatEnabled(ctx, "r1", false)
	require.NoError(t, err)
	assert.False(t, room.IsChatEnabled)

	room, err = repo.SetPassword(ctx, "r1", "h")
	require.NoError(t, err)
	assert.True(t, room.HasPassword())
	room, err = repo.SetPassword(ctx, "r1", "")
	require.NoError(t, err)
	assert.False(t, room.HasPassword())

	room, err = repo.AddInvite(ctx, "r1", "dave")
	require.NoError(t, err)
	assert.True(t, room.IsInvited("dave"))

	for _, op := range []func() error{
		func() error { _, err := repo.AddParticipant(ctx, "missing", "bob"); return err },
		func() error { _, err := repo.RemoveParticipant(ctx, "missing", "bob"); return err },
		func() error { _, err := repo.SetActive(ctx, "missing", true); return err },
		func() error { _, err := repo.AddInvite(ctx, "missing", "bob"); return err },
	} {
		assert.ErrorIs(t, op(), domain.ErrRoomNotFound)
	}
	// a mutation on a missing room must not create keys
	assert.Equal(t, int64(0), client.Exists(ctx, participantsKey("missing")).Val())
}

func TestRedisRoomRepository_BackendError(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := NewRedisRoomRepository(client)
	mr.Close()

	_, err := repo.GetByID(context.Background(), "r1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestMigrate_IndexesExistingRooms(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	mr.HSet("roomrelay:room:{legacy}", "room_id", "legacy", "admin_id", "a")
	require.NoError(t, mr.Set("unrelated", "x"))

	require.NoError(t, Migrate(ctx, client, zaptest.NewLogger(t).Sugar()))

	members, err := mr.Members(roomsIndexKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, members)
	v, err := mr.Get(schemaVersionKey)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	// second run is a no-op
	require.NoError(t, Migrate(ctx, client, nil))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(Options{Address: mr.Addr(), PoolSize: 5}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.NoError(t, CloseRedisClient(client))

	_, err = NewRedisClient(Options{Address: "127.0.0.1:1", PoolSize: 5}, nil)
	assert.Error(t, err)
}
