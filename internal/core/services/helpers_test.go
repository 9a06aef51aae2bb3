package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	id       domain.ConnectionID
	user     domain.UserID
	username string

	mu      sync.Mutex
	events  []domain.Event
	sendErr error
	closed  bool
}

func newFakeConn(user domain.UserID) *fakeConn {
	return &fakeConn{
		id:       domain.ConnectionID("conn-" + string(user)),
		user:     user,
		username: string(user),
	}
}

func (c *fakeConn) ID() domain.ConnectionID { return c.id }
func (c *fakeConn) UserID() domain.UserID   { return c.user }
func (c *fakeConn) Username() string        { return c.username }

func (c *fakeConn) Send(event domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Name)
	}
	return out
}

func (c *fakeConn) last() domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return domain.Event{}
	}
	return c.events[len(c.events)-1]
}

func (c *fakeConn) count(name string) int {
	n := 0
	for _, got := range c.names() {
		if got == name {
			n++
		}
	}
	return n
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// plainVerifier compares secrets directly so tests avoid bcrypt cost.
type plainVerifier struct{}

func (plainVerifier) Hash(secret string) (string, error) { return "h:" + secret, nil }
func (plainVerifier) Verify(secret, hash string) bool    { return hash == "h:"+secret }

type MockRoomRepository struct {
	mock.Mock
}

func (m *MockRoomRepository) room(args mock.Arguments) (*domain.Room, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Room).Clone(), args.Error(1)
}

func (m *MockRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	return m.Called(ctx, room).Error(0)
}

func (m *MockRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return m.room(m.Called(ctx, id))
}

func (m *MockRoomRepository) AddParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return m.room(m.Called(ctx, id, user))
}

func (m *MockRoomRepository) RemoveParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return m.room(m.Called(ctx, id, user))
}

func (m *MockRoomRepository) SetActive(ctx context.Context, id domain.RoomID, active bool) (*domain.Room, error) {
	return m.room(m.Called(ctx, id, active))
}

func (m *MockRoomRepository) SetPassword(ctx context.Context, id domain.RoomID, hash string) (*domain.Room, error) {
	return m.room(m.Called(ctx, id, hash))
}

func (m *MockRoomRepository) SetChatEnabled(ctx context.Context, id domain.RoomID, enabled bool) (*domain.Room, error) {
	return m.room(m.Called(ctx, id, enabled))
}

func (m *MockRoomRepository) AddInvite(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return m.room(m.Called(ctx, id, user))
}

type harness struct {
	rooms     ports.RoomRepository
	groups    *BroadcastGroups
	registry  *ConnectionRegistry
	admission *AdmissionService
	roomSvc   *RoomService
	relay     *RelayService
	clock     *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newHarness(t *testing.T, rooms ports.RoomRepository, cfg RoomConfig) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	if rooms == nil {
		rooms = memory.NewMemoryRoomRepository()
	}

	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	groups := NewBroadcastGroups(logger)
	registry := NewConnectionRegistry(groups, nil, logger)
	admission := NewAdmissionService(rooms, registry, groups, NewLocalRoomLocker(), plainVerifier{}, nil, logger,
		AdmissionConfig{PendingTTL: time.Minute})
	admission.now = clock.Now
	if cfg.InviteLinkBase == "" {
		cfg.InviteLinkBase = "http://localhost:3000/join"
	}
	roomSvc := NewRoomService(rooms, registry, groups, admission, plainVerifier{}, nil, logger, cfg)
	roomSvc.now = clock.Now

	return &harness{
		rooms:     rooms,
		groups:    groups,
		registry:  registry,
		admission: admission,
		roomSvc:   roomSvc,
		relay:     NewRelayService(registry, nil, logger),
		clock:     clock,
	}
}

func (h *harness) connect(user domain.UserID) *fakeConn {
	conn := newFakeConn(user)
	h.registry.Register(conn)
	return conn
}

func identity(conn *fakeConn) domain.Identity {
	return domain.Identity{UserID: conn.user, Username: conn.username}
}

// createRoom creates a room owned by admin and clears the admin's inbox.
func (h *harness) createRoom(t *testing.T, admin *fakeConn, password string) domain.RoomID {
	t.Helper()
	room, err := h.roomSvc.CreateRoom(context.Background(), identity(admin), CreateRoomOptions{Password: password})
	require.NoError(t, err)
	admin.reset()
	return room.ID
}

// admitUser drives a join through the admin decision.
func (h *harness) admitUser(t *testing.T, admin, user *fakeConn, roomID domain.RoomID) {
	t.Helper()
	ctx := context.Background()
	res, err := h.admission.RequestJoin(ctx, identity(user), JoinRequest{RoomID: roomID})
	require.NoError(t, err)
	require.Equal(t, AdmissionPending, res.Status)
	require.NoError(t, h.admission.Decide(ctx, admin.user, roomID, user.user, true))
	admin.reset()
	user.reset()
}
