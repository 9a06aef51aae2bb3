package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"roomrelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateRoom(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")

	room, err := h.roomSvc.CreateRoom(ctx, identity(admin), CreateRoomOptions{})
	require.NoError(t, err)
	assert.Len(t, string(room.ID), 12)
	assert.Equal(t, []domain.UserID{"admin"}, room.Participants)
	assert.True(t, room.IsActive)
	assert.True(t, room.IsChatEnabled)
	assert.False(t, room.HasPassword())
	assert.True(t, h.groups.IsMember(RoomGroup(room.ID), admin.ID()))

	require.Equal(t, []string{domain.EventRoomCreated}, admin.names())
	created := admin.last().Payload.(domain.RoomCreatedPayload)
	assert.Equal(t, "http://localhost:3000/join?roomId="+string(room.ID), created.InviteLink)

	stored, err := h.rooms.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("admin"), stored.AdminID)
}

func TestCreateRoom_WithPassword(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	admin := h.connect("admin")

	room, err := h.roomSvc.CreateRoom(context.Background(), identity(admin), CreateRoomOptions{Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "h:secret123", room.PasswordHash)

	_, err = h.roomSvc.CreateRoom(context.Background(), identity(admin), CreateRoomOptions{Password: "short"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateRoom_RequiresConnection(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	_, err := h.roomSvc.CreateRoom(context.Background(), domain.Identity{UserID: "ghost"}, CreateRoomOptions{})
	assert.ErrorIs(t, err, domain.ErrConnectionRequired)
}

func TestLeave_Participant(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")
	bob := h.connect("bob")
	roomID := h.createRoom(t, admin, "")
	h.admitUser(t, admin, bob, roomID)

	require.NoError(t, h.roomSvc.Leave(ctx, "bob", roomID))

	require.Equal(t, []string{domain.EventUserLeave}, admin.names())
	leave := admin.last().Payload.(domain.UserLeavePayload)
	assert.Equal(t, domain.UserID("bob"), leave.UserID)
	assert.False(t, leave.IsAdmin)
	assert.Empty(t, bob.names())

	room, _ := h.rooms.GetByID(ctx, roomID)
	assert.False(t, room.HasParticipant("bob"))
	assert.True(t, room.IsActive)
	assert.False(t, h.groups.IsMember(RoomGroup(roomID), bob.ID()))
}

func TestLeave_AdminDeactivatesRoom(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")
	bob := h.connect("bob")
	roomID := h.createRoom(t, admin, "")
	h.admitUser(t, admin, bob, roomID)

	require.NoError(t, h.roomSvc.Leave(ctx, "admin", roomID))

	leave := bob.last().Payload.(domain.UserLeavePayload)
	assert.True(t, leave.IsAdmin)
	room, _ := h.rooms.GetByID(ctx, roomID)
	assert.False(t, room.IsActive)
	assert.False(t, room.HasParticipant("admin"))
}

func TestLeave_Errors(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	admin := h.connect("admin")
	roomID := h.createRoom(t, admin, "")

	assert.ErrorIs(t, h.roomSvc.Leave(context.Background(), "admin", "missing"), domain.ErrRoomNotFound)
	assert.ErrorIs(t, h.roomSvc.Leave(context.Background(), "ghost", roomID), domain.ErrNotConnected)
}

func TestLeave_RequiresMembership(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")
	bob := h.connect("bob")
	mallory := h.connect("mallory")
	roomID := h.createRoom(t, admin, "")
	h.admitUser(t, admin, bob, roomID)

	assert.ErrorIs(t, h.roomSvc.Leave(ctx, "mallory", roomID), domain.ErrNotRoomMember)
	assert.Empty(t, admin.names())
	assert.Empty(t, bob.names())
	assert.Empty(t, mallory.names())

	room, err := h.rooms.GetByID(ctx, roomID)
	require.NoError(t, err)
	assert.True(t, room.IsActive)
	assert.Len(t, room.Participants, 2)
}

func TestLeave_PersistedParticipantOutsideGroup(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")
	bob := h.connect("bob")
	roomID := h.createRoom(t, admin, "")
	h.admitUser(t, admin, bob, roomID)
	h.groups.Leave(RoomGroup(roomID), bob.ID())

	require.NoError(t, h.roomSvc.Leave(ctx, "bob", roomID))
	assert.Equal(t, []string{domain.EventUserLeave}, admin.names())
	room, err := h.rooms.GetByID(ctx, roomID)
	require.NoError(t, err)
	assert.False(t, room.HasParticipant("bob"))
}

func TestLeave_PersistFailureStillEvicts(t *testing.T) {
	rooms := &MockRoomRepository{}
	h := newHarness(t, rooms, RoomConfig{})
	admin := h.connect("admin")
	bob := h.connect("bob")
	h.groups.Join(RoomGroup("r1"), admin)
	h.groups.Join(RoomGroup("r1"), bob)

	room := domain.NewRoom("r1", "admin", time.Now())
	room.Participants = append(room.Participants, "bob")
	rooms.On("GetByID", mock.Anything, domain.RoomID("r1")).Return(room, nil)
	rooms.On("RemoveParticipant", mock.Anything, domain.RoomID("r1"), domain.UserID("bob")).
		Return(nil, errors.New("write timeout"))

	err := h.roomSvc.Leave(context.Background(), "bob", "r1")
	assert.ErrorIs(t, err, domain.ErrReconciliation)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, []string{domain.EventUserLeave}, admin.names())
	assert.False(t, h.groups.IsMember(RoomGroup("r1"), bob.ID()))
}

func TestKick_PruneOnKick(t *testing.T) {
	for _, prune := range []bool{true, false} {
		name := "keep participant"
		if prune {
			name = "prune participant"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil, RoomConfig{PruneOnKick: prune})
			ctx := context.Background()
			admin := h.connect("admin")
			bob := h.connect("bob")
			carol := h.connect("carol")
			roomID := h.createRoom(t, admin, "")
			h.admitUser(t, admin, bob, roomID)
			h.admitUser(t, admin, carol, roomID)
			bob.reset()

			require.NoError(t, h.roomSvc.Kick(ctx, "admin", "bob", roomID))

			require.Equal(t, []string{domain.EventRoomKicked}, bob.names())
			kicked := bob.last().Payload.(domain.RoomKickedPayload)
			assert.Equal(t, domain.UserID("admin"), kicked.By)
			assert.Equal(t, []string{domain.EventUserKicked}, carol.names())
			assert.Equal(t, []string{domain.EventUserKicked}, admin.names())
			assert.False(t, h.groups.IsMember(RoomGroup(roomID), bob.ID()))

			room, err := h.rooms.GetByID(ctx, roomID)
			require.NoError(t, err)
			assert.Equal(t, !prune, room.HasParticipant("bob"))

			// without pruning the kicked user rejoins through the reconnection path
			res, err := h.admission.RequestJoin(ctx, identity(bob), JoinRequest{RoomID: roomID})
			require.NoError(t, err)
			if prune {
				assert.Equal(t, AdmissionPending, res.Status)
			} else {
				assert.Equal(t, AdmissionApproved, res.Status)
			}
		})
	}
}

func TestKick_Errors(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{PruneOnKick: true})
	ctx := context.Background()
	admin := h.connect("admin")
	bob := h.connect("bob")
	roomID := h.createRoom(t, admin, "")
	h.admitUser(t, admin, bob, roomID)

	assert.ErrorIs(t, h.roomSvc.Kick(ctx, "admin", "bob", "missing"), domain.ErrRoomNotFound)
	assert.ErrorIs(t, h.roomSvc.Kick(ctx, "bob", "admin", roomID), domain.ErrNotAuthorized)
	assert.ErrorIs(t, h.roomSvc.Kick(ctx, "admin", "admin", roomID), domain.ErrCannotKickAdmin)
	assert.ErrorIs(t, h.roomSvc.Kick(ctx, "admin", "ghost", roomID), domain.ErrTargetUnreachable)
	assert.Empty(t, bob.names())
}

func TestKick_TargetMustBeInRoom(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{PruneOnKick: true})
	ctx := context.Background()
	admin := h.connect("admin")
	bob := h.connect("bob")
	mallory := h.connect("mallory")
	roomID := h.createRoom(t, admin, "")
	h.admitUser(t, admin, bob, roomID)

	assert.ErrorIs(t, h.roomSvc.Kick(ctx, "admin", "mallory", roomID), domain.ErrNotRoomMember)
	assert.Empty(t, mallory.names())
	assert.Empty(t, bob.names())
	assert.Empty(t, admin.names())
}

func TestKick_DropsPendingRequest(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{PruneOnKick: true})
	ctx := context.Background()
	admin := h.connect("admin")
	bob := h.connect("bob")
	roomID := h.createRoom(t, admin, "")

	_, err := h.admission.RequestJoin(ctx, identity(bob), JoinRequest{RoomID: roomID})
	require.NoError(t, err)
	require.NoError(t, h.roomSvc.Kick(ctx, "admin", "bob", roomID))

	assert.ErrorIs(t, h.admission.Decide(ctx, "admin", roomID, "bob", true), domain.ErrNoPendingRequest)
}

func TestFanout(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")
	bob := h.connect("bob")
	roomID := h.createRoom(t, admin, "")
	h.admitUser(t, admin, bob, roomID)

	body := json.RawMessage(`{"text":"hi"}`)
	res, err := h.roomSvc.Fanout(ctx, bob, roomID, domain.EventChatMessage, body)
	require.NoError(t, err)
	assert.Equal(t, PublishResult{Delivered: 1}, res)
	assert.Empty(t, bob.names())

	got := admin.last()
	assert.Equal(t, domain.EventChatMessage, got.Name)
	payload := got.Payload.(domain.FanoutPayload)
	assert.Equal(t, roomID, payload.RoomID)
	assert.Equal(t, domain.UserID("bob"), payload.FromUser)
	assert.Equal(t, body, payload.Payload)

	_, err = h.roomSvc.Fanout(ctx, bob, roomID, domain.EventMediaUpdate, json.RawMessage(`{"audio":false}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventParticipantMedia, admin.last().Name)
}

func TestFanout_MembershipAndKinds(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")
	outsider := h.connect("outsider")
	roomID := h.createRoom(t, admin, "")

	_, err := h.roomSvc.Fanout(ctx, outsider, roomID, domain.EventTyping, nil)
	assert.ErrorIs(t, err, domain.ErrNotRoomMember)
	assert.Empty(t, admin.names())

	_, err = h.roomSvc.Fanout(ctx, admin, roomID, "room:delete", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)

	_, err = h.roomSvc.Fanout(ctx, admin, "", domain.EventTyping, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFanout_ChatDisabled(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")
	bob := h.connect("bob")
	roomID := h.createRoom(t, admin, "")
	h.admitUser(t, admin, bob, roomID)

	_, err := h.roomSvc.SetChatEnabled(ctx, "admin", roomID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.EventChatUpdated, bob.last().Name)
	assert.Equal(t, domain.EventChatUpdated, admin.last().Name)

	_, err = h.roomSvc.Fanout(ctx, bob, roomID, domain.EventChatMessage, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrChatDisabled)

	_, err = h.roomSvc.Fanout(ctx, bob, roomID, domain.EventTyping, nil)
	assert.NoError(t, err)
}

func TestAdminSettings_RequireAdmin(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")
	roomID := h.createRoom(t, admin, "")

	_, err := h.roomSvc.SetChatEnabled(ctx, "bob", roomID, false)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.ErrorIs(t, h.roomSvc.SetPassword(ctx, "bob", roomID, "secret123"), domain.ErrNotAuthorized)
	_, err = h.roomSvc.Invite(ctx, "bob", roomID, "carol")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestSetPassword(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")
	roomID := h.createRoom(t, admin, "")

	require.NoError(t, h.roomSvc.SetPassword(ctx, "admin", roomID, "secret123"))
	room, _ := h.rooms.GetByID(ctx, roomID)
	assert.Equal(t, "h:secret123", room.PasswordHash)

	require.NoError(t, h.roomSvc.SetPassword(ctx, "admin", roomID, ""))
	room, _ = h.rooms.GetByID(ctx, roomID)
	assert.False(t, room.HasPassword())
}

func TestInvite(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{InviteLinkBase: "https://meet.example.com/join"})
	ctx := context.Background()
	admin := h.connect("admin")
	roomID := h.createRoom(t, admin, "")

	link, err := h.roomSvc.Invite(ctx, "admin", roomID, "carol")
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com/join?roomId="+string(roomID), link)

	room, _ := h.rooms.GetByID(ctx, roomID)
	assert.True(t, room.IsInvited("carol"))

	_, err = h.roomSvc.Invite(ctx, "admin", roomID, "bad/user")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetRoom(t *testing.T) {
	h := newHarness(t, nil, RoomConfig{})
	ctx := context.Background()
	admin := h.connect("admin")
	bob := h.connect("bob")
	roomID := h.createRoom(t, admin, "secret123")
	_, err := h.admission.RequestJoin(ctx, identity(bob), JoinRequest{RoomID: roomID, Password: "secret123"})
	require.NoError(t, err)
	require.NoError(t, h.admission.Decide(ctx, "admin", roomID, "bob", true))

	view, err := h.roomSvc.GetRoom(ctx, "bob", roomID)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"admin"}, view.Participants)
	assert.True(t, view.HasPassword)
	assert.False(t, view.IsAdmin)
	assert.Empty(t, view.InviteLink)

	view, err = h.roomSvc.GetRoom(ctx, "admin", roomID)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob"}, view.Participants)
	assert.True(t, view.IsAdmin)
	assert.NotEmpty(t, view.InviteLink)

	_, err = h.roomSvc.GetRoom(ctx, "admin", "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}
