package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/utils"
	"roomrelay/pkg/validation"

	"go.uber.org/zap"
)

// fanoutEvents maps inbound room-scoped kinds to the event name peers see.
var fanoutEvents = map[string]string{
	domain.EventChatMessage: domain.EventChatMessage,
	domain.EventTyping:      domain.EventTyping,
	domain.EventStopTyping:  domain.EventStopTyping,
	domain.EventReaction:    domain.EventReaction,
	domain.EventHandRaise:   domain.EventHandRaise,
	domain.EventMediaUpdate: domain.EventParticipantMedia,
}

func IsFanoutKind(kind string) bool {
	_, ok := fanoutEvents[kind]
	return ok
}

func isChatKind(kind string) bool {
	return kind == domain.EventChatMessage
}

type RoomConfig struct {
	PruneOnKick    bool
	InviteLinkBase string
}

type CreateRoomOptions struct {
	Password string
}

// RoomView is the caller-facing projection of a room.
type RoomView struct {
	RoomID        domain.RoomID   `json:"room_id"`
	AdminID       domain.UserID   `json:"admin_id"`
	Participants  []domain.UserID `json:"participants"`
	IsActive      bool            `json:"is_active"`
	IsChatEnabled bool            `json:"is_chat_enabled"`
	HasPassword   bool            `json:"has_password"`
	IsAdmin       bool            `json:"is_admin"`
	InviteLink    string          `json:"invite_link,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type RoomService struct {
	rooms     ports.RoomRepository
	registry  *ConnectionRegistry
	groups    *BroadcastGroups
	admission *AdmissionService
	verifier  ports.PasswordVerifier
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger
	cfg       RoomConfig
	newID     func() domain.RoomID
	now       func() time.Time
}

func NewRoomService(
	rooms ports.RoomRepository,
	registry *ConnectionRegistry,
	groups *BroadcastGroups,
	admission *AdmissionService,
	verifier ports.PasswordVerifier,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
	cfg RoomConfig,
) *RoomService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &RoomService{
		rooms:     rooms,
		registry:  registry,
		groups:    groups,
		admission: admission,
		verifier:  verifier,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		newID:     func() domain.RoomID { return domain.RoomID(utils.GenerateRoomID()) },
		now:       time.Now,
	}
}

func (s *RoomService) CreateRoom(ctx context.Context, creator domain.Identity, opts CreateRoomOptions) (*domain.Room, error) {
	conn, ok := s.registry.Resolve(creator.UserID)
	if !ok {
		return nil, domain.ErrConnectionRequired
	}

	room := domain.NewRoom(s.newID(), creator.UserID, s.now())
	if opts.Password != "" {
		if err := validation.ValidateRoomPassword(opts.Password); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		hash, err := s.verifier.Hash(opts.Password)
		if err != nil {
			return nil, fmt.Errorf("hash room password: %w", err)
		}
		room.PasswordHash = hash
	}

	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, storeError("create room", err)
	}

	s.groups.Join(RoomGroup(room.ID), conn)
	if err := conn.Send(domain.Event{
		Name: domain.EventRoomCreated,
		Payload: domain.RoomCreatedPayload{
			RoomID:     room.ID,
			InviteLink: domain.InviteLink(s.cfg.InviteLinkBase, room.ID),
		},
	}); err != nil {
		s.logger.Warnw("Failed to deliver room created", "room_id", room.ID, "error", err)
	}

	s.metrics.RecordRoomCreated()
	s.logger.Infow("Room created", "room_id", room.ID, "admin_id", creator.UserID, "has_password", room.HasPassword())
	return room, nil
}

// Leave removes user from the room. Peers are told first; a failed persist
// still evicts the connection and reports a reconciliation failure.
func (s *RoomService) Leave(ctx context.Context, user domain.UserID, roomID domain.RoomID) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return storeError("get room", err)
	}
	conn, ok := s.registry.Resolve(user)
	if !ok {
		return domain.ErrNotConnected
	}
	if !s.groups.IsMember(RoomGroup(roomID), conn.ID()) && !room.HasParticipant(user) {
		return domain.ErrNotRoomMember
	}

	isAdmin := room.IsAdmin(user)
	s.groups.Emit(RoomGroup(roomID), domain.Event{
		Name:    domain.EventUserLeave,
		Payload: domain.UserLeavePayload{RoomID: roomID, UserID: user, IsAdmin: isAdmin},
	}, user)

	var persistErr error
	if isAdmin {
		if _, err := s.rooms.SetActive(ctx, roomID, false); err != nil {
			persistErr = reconcileError("deactivate room", err)
		}
	}
	if persistErr == nil {
		if _, err := s.rooms.RemoveParticipant(ctx, roomID, user); err != nil {
			persistErr = reconcileError("remove participant", err)
		}
	}

	s.groups.Leave(RoomGroup(roomID), conn.ID())
	s.admission.forget(roomID, user)

	if persistErr != nil {
		s.logger.Errorw("Leave broadcast but not persisted", "room_id", roomID, "user_id", user, "error", persistErr)
		return persistErr
	}
	if isAdmin {
		s.metrics.RecordRoomClosed()
	}
	s.logger.Infow("User left room", "room_id", roomID, "user_id", user, "is_admin", isAdmin)
	return nil
}

func (s *RoomService) Kick(ctx context.Context, admin, target domain.UserID, roomID domain.RoomID) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return storeError("get room", err)
	}
	if !room.IsAdmin(admin) {
		return domain.ErrNotAuthorized
	}
	if room.IsAdmin(target) {
		return domain.ErrCannotKickAdmin
	}
	conn, ok := s.registry.Resolve(target)
	if !ok {
		return domain.ErrTargetUnreachable
	}
	// a pending requester may be kicked before the decision
	if !s.groups.IsMember(RoomGroup(roomID), conn.ID()) && !room.HasParticipant(target) && !s.admission.hasPending(roomID, target) {
		return domain.ErrNotRoomMember
	}

	if err := conn.Send(domain.Event{
		Name:    domain.EventRoomKicked,
		Payload: domain.RoomKickedPayload{RoomID: roomID, By: admin},
	}); err != nil {
		s.logger.Warnw("Failed to notify kicked user", "room_id", roomID, "user_id", target, "error", err)
	}
	s.groups.Emit(RoomGroup(roomID), domain.Event{
		Name:    domain.EventUserKicked,
		Payload: domain.UserKickedPayload{RoomID: roomID, UserID: target},
	}, target)
	s.groups.Leave(RoomGroup(roomID), conn.ID())
	s.admission.forget(roomID, target)

	s.logger.Infow("User kicked from room", "room_id", roomID, "user_id", target, "admin_id", admin)

	if s.cfg.PruneOnKick {
		if _, err := s.rooms.RemoveParticipant(ctx, roomID, target); err != nil {
			return reconcileError("remove participant", err)
		}
	}
	return nil
}

// Fanout delivers a room-scoped event from sender to every other member.
func (s *RoomService) Fanout(ctx context.Context, sender ports.Connection, roomID domain.RoomID, kind string, payload json.RawMessage) (PublishResult, error) {
	name, ok := fanoutEvents[kind]
	if !ok {
		return PublishResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, kind)
	}
	if roomID == "" {
		return PublishResult{}, fmt.Errorf("%w: room id is required", domain.ErrValidation)
	}
	if !s.groups.IsMember(RoomGroup(roomID), sender.ID()) {
		return PublishResult{}, domain.ErrNotRoomMember
	}

	if isChatKind(kind) {
		room, err := s.rooms.GetByID(ctx, roomID)
		if err != nil {
			return PublishResult{}, storeError("get room", err)
		}
		if !room.IsChatEnabled {
			return PublishResult{}, domain.ErrChatDisabled
		}
	}

	res := s.groups.Emit(RoomGroup(roomID), domain.Event{
		Name:    name,
		Payload: domain.FanoutPayload{RoomID: roomID, FromUser: sender.UserID(), Payload: payload},
	}, sender.UserID())
	s.metrics.RecordFanout(kind, res.Delivered, res.Dropped)
	return res, nil
}

func (s *RoomService) SetChatEnabled(ctx context.Context, admin domain.UserID, roomID domain.RoomID, enabled bool) (*domain.Room, error) {
	if _, err := s.requireAdmin(ctx, admin, roomID); err != nil {
		return nil, err
	}
	room, err := s.rooms.SetChatEnabled(ctx, roomID, enabled)
	if err != nil {
		return nil, storeError("set chat enabled", err)
	}

	s.groups.Emit(RoomGroup(roomID), domain.Event{
		Name:    domain.EventChatUpdated,
		Payload: domain.ChatUpdatedPayload{RoomID: roomID, Enabled: enabled},
	}, "")
	s.logger.Infow("Room chat toggled", "room_id", roomID, "enabled", enabled)
	return room, nil
}

// SetPassword replaces the room secret. An empty password clears it.
func (s *RoomService) SetPassword(ctx context.Context, admin domain.UserID, roomID domain.RoomID, password string) error {
	if _, err := s.requireAdmin(ctx, admin, roomID); err != nil {
		return err
	}

	hash := ""
	if password != "" {
		var err error
		if hash, err = s.verifier.Hash(password); err != nil {
			return fmt.Errorf("hash room password: %w", err)
		}
	}
	if _, err := s.rooms.SetPassword(ctx, roomID, hash); err != nil {
		return storeError("set password", err)
	}
	s.logger.Infow("Room password updated", "room_id", roomID, "cleared", hash == "")
	return nil
}

// Invite exempts invitee from the password gate and returns the join link.
func (s *RoomService) Invite(ctx context.Context, admin domain.UserID, roomID domain.RoomID, invitee domain.UserID) (string, error) {
	if _, err := s.requireAdmin(ctx, admin, roomID); err != nil {
		return "", err
	}
	if err := validation.ValidateUserID(string(invitee)); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if _, err := s.rooms.AddInvite(ctx, roomID, invitee); err != nil {
		return "", storeError("add invite", err)
	}
	return domain.InviteLink(s.cfg.InviteLinkBase, roomID), nil
}

func (s *RoomService) GetRoom(ctx context.Context, caller domain.UserID, roomID domain.RoomID) (*RoomView, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, storeError("get room", err)
	}

	view := &RoomView{
		RoomID:        room.ID,
		AdminID:       room.AdminID,
		Participants:  room.ParticipantsExcept(caller),
		IsActive:      room.IsActive,
		IsChatEnabled: room.IsChatEnabled,
		HasPassword:   room.HasPassword(),
		IsAdmin:       room.IsAdmin(caller),
		CreatedAt:     room.CreatedAt,
	}
	if view.IsAdmin {
		view.InviteLink = domain.InviteLink(s.cfg.InviteLinkBase, room.ID)
	}
	return view, nil
}

func (s *RoomService) requireAdmin(ctx context.Context, admin domain.UserID, roomID domain.RoomID) (*domain.Room, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, storeError("get room", err)
	}
	if !room.IsAdmin(admin) {
		return nil, domain.ErrNotAuthorized
	}
	return room, nil
}
