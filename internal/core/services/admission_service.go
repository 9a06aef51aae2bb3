package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/tracing"

	"go.uber.org/zap"
)

type AdmissionStatus string

const (
	AdmissionApproved AdmissionStatus = "approved"
	AdmissionPending  AdmissionStatus = "pending"
)

// JoinRequest names the room either directly or through an invite link.
type JoinRequest struct {
	RoomID     domain.RoomID
	InviteLink string
	Password   string
}

type AdmissionResult struct {
	Status AdmissionStatus
	RoomID domain.RoomID
}

// PendingRequest is a join request awaiting the admin's decision.
type PendingRequest struct {
	RoomID      domain.RoomID `json:"room_id"`
	UserID      domain.UserID `json:"user_id"`
	Username    string        `json:"username"`
	RequestedAt time.Time     `json:"requested_at"`
	ExpiresAt   time.Time     `json:"expires_at"`

	// abandoned is set when the requester's connection goes away.
	abandoned bool
}

type pendingKey struct {
	room domain.RoomID
	user domain.UserID
}

type AdmissionConfig struct {
	PendingTTL time.Duration
}

type AdmissionService struct {
	rooms    ports.RoomRepository
	registry *ConnectionRegistry
	groups   *BroadcastGroups
	locker   ports.RoomLocker
	verifier ports.PasswordVerifier
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[pendingKey]PendingRequest
}

func NewAdmissionService(
	rooms ports.RoomRepository,
	registry *ConnectionRegistry,
	groups *BroadcastGroups,
	locker ports.RoomLocker,
	verifier ports.PasswordVerifier,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
	cfg AdmissionConfig,
) *AdmissionService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 2 * time.Minute
	}
	return &AdmissionService{
		rooms:    rooms,
		registry: registry,
		groups:   groups,
		locker:   locker,
		verifier: verifier,
		metrics:  metrics,
		logger:   logger,
		ttl:      cfg.PendingTTL,
		now:      time.Now,
		pending:  make(map[pendingKey]PendingRequest),
	}
}

func (s *AdmissionService) RequestJoin(ctx context.Context, requester domain.Identity, req JoinRequest) (AdmissionResult, error) {
	roomID, viaInvite, err := resolveJoinTarget(req)
	if err != nil {
		return AdmissionResult{}, err
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return AdmissionResult{}, storeError("get room", err)
	}

	conn, ok := s.registry.Resolve(requester.UserID)
	if !ok {
		return AdmissionResult{}, domain.ErrNotConnected
	}

	if room.IsAdmin(requester.UserID) {
		if !room.IsActive {
			if _, err := s.rooms.SetActive(ctx, roomID, true); err != nil {
				return AdmissionResult{}, storeError("reactivate room", err)
			}
			s.logger.Infow("Room reactivated by admin", "room_id", roomID, "user_id", requester.UserID)
		}
		if err := s.admit(ctx, roomID, conn); err != nil {
			return AdmissionResult{}, err
		}
		return AdmissionResult{Status: AdmissionApproved, RoomID: roomID}, nil
	}

	if !room.IsActive {
		return AdmissionResult{}, domain.ErrRoomInactive
	}

	if room.HasPassword() && !viaInvite && !room.IsInvited(requester.UserID) {
		if req.Password == "" {
			return AdmissionResult{}, domain.ErrPasswordRequired
		}
		if !s.verifier.Verify(req.Password, room.PasswordHash) {
			s.metrics.RecordAdmission("denied")
			return AdmissionResult{}, domain.ErrInvalidPassword
		}
	}

	if room.HasParticipant(requester.UserID) {
		if err := s.admit(ctx, roomID, conn); err != nil {
			return AdmissionResult{}, err
		}
		return AdmissionResult{Status: AdmissionApproved, RoomID: roomID}, nil
	}

	if _, ok := s.registry.Resolve(room.AdminID); !ok {
		return AdmissionResult{}, domain.ErrAdminUnresolved
	}

	now := s.now()
	entry := PendingRequest{
		RoomID:      roomID,
		UserID:      requester.UserID,
		Username:    requester.Username,
		RequestedAt: now,
		ExpiresAt:   now.Add(s.ttl),
	}
	s.mu.Lock()
	s.pending[pendingKey{roomID, requester.UserID}] = entry
	s.mu.Unlock()

	s.groups.Emit(UserGroup(room.AdminID), domain.Event{
		Name: domain.EventJoinRequest,
		Payload: domain.JoinRequestPayload{
			RoomID:   roomID,
			UserID:   requester.UserID,
			Username: requester.Username,
		},
	}, "")
	s.notify(conn, domain.Event{Name: domain.EventJoinPending, Payload: domain.RoomPayload{RoomID: roomID}})

	s.metrics.RecordAdmission(string(AdmissionPending))
	s.logger.Infow("Join request pending admin decision",
		"room_id", roomID,
		"user_id", requester.UserID,
		"admin_id", room.AdminID,
	)
	return AdmissionResult{Status: AdmissionPending, RoomID: roomID}, nil
}

func resolveJoinTarget(req JoinRequest) (domain.RoomID, bool, error) {
	hasID := strings.TrimSpace(string(req.RoomID)) != ""
	hasLink := strings.TrimSpace(req.InviteLink) != ""
	if hasID == hasLink {
		return "", false, fmt.Errorf("%w: exactly one of room id or invite link is required", domain.ErrValidation)
	}
	if hasID {
		return req.RoomID, false, nil
	}
	id, err := domain.RoomIDFromInvite(req.InviteLink)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// admit records conn's user as a participant and announces it to the room.
func (s *AdmissionService) admit(ctx context.Context, roomID domain.RoomID, conn ports.Connection) error {
	if _, err := s.rooms.AddParticipant(ctx, roomID, conn.UserID()); err != nil {
		return storeError("add participant", err)
	}

	s.groups.Join(RoomGroup(roomID), conn)
	s.notify(conn, domain.Event{Name: domain.EventJoinApproved, Payload: domain.RoomPayload{RoomID: roomID}})
	s.groups.Emit(RoomGroup(roomID), domain.Event{
		Name: domain.EventUserJoined,
		Payload: domain.UserJoinedPayload{
			RoomID:       roomID,
			UserID:       conn.UserID(),
			Username:     conn.Username(),
			ConnectionID: conn.ID(),
		},
	}, conn.UserID())

	s.metrics.RecordAdmission(string(AdmissionApproved))
	s.logger.Infow("User admitted to room", "room_id", roomID, "user_id", conn.UserID(), "connection_id", conn.ID())
	return nil
}

// Decide resolves a pending request. Calls for the same room are serialized.
func (s *AdmissionService) Decide(ctx context.Context, admin domain.UserID, roomID domain.RoomID, requester domain.UserID, approve bool) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "decide", string(roomID))
	defer span.End()

	unlock, err := s.locker.Lock(ctx, roomID)
	if err != nil {
		return fmt.Errorf("lock room %s: %w", roomID, err)
	}
	defer unlock()

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return storeError("get room", err)
	}
	if !room.IsAdmin(admin) {
		return domain.ErrNotAuthorized
	}

	key := pendingKey{roomID, requester}
	s.mu.Lock()
	entry, ok := s.pending[key]
	s.mu.Unlock()
	if !ok {
		return domain.ErrNoPendingRequest
	}

	conn, connected := s.registry.Resolve(requester)

	if !s.now().Before(entry.ExpiresAt) {
		s.drop(key)
		if connected {
			s.notify(conn, domain.Event{Name: domain.EventJoinExpired, Payload: domain.RoomPayload{RoomID: roomID}})
		}
		s.metrics.RecordAdmission("expired")
		return domain.ErrRequestExpired
	}

	if entry.abandoned || !connected {
		s.drop(key)
		s.metrics.RecordAdmission("abandoned")
		return domain.ErrRequesterUnresolved
	}

	if !approve {
		s.drop(key)
		s.notify(conn, domain.Event{
			Name:    domain.EventJoinRejected,
			Payload: domain.JoinRejectedPayload{RoomID: roomID, Message: domain.RejectedMessage},
		})
		s.metrics.RecordAdmission("rejected")
		s.logger.Infow("Join request rejected", "room_id", roomID, "user_id", requester, "admin_id", admin)
		return nil
	}

	// The entry survives a failed add so the admin can retry.
	if err := s.admit(ctx, roomID, conn); err != nil {
		return err
	}
	s.drop(key)
	return nil
}

func (s *AdmissionService) drop(key pendingKey) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

// Pending lists the outstanding requests for a room. Only the admin may ask.
func (s *AdmissionService) Pending(ctx context.Context, caller domain.UserID, roomID domain.RoomID) ([]PendingRequest, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, storeError("get room", err)
	}
	if !room.IsAdmin(caller) {
		return nil, domain.ErrNotAuthorized
	}

	now := s.now()
	s.mu.Lock()
	out := make([]PendingRequest, 0)
	for key, entry := range s.pending {
		if key.room == roomID && !entry.abandoned && now.Before(entry.ExpiresAt) {
			out = append(out, entry)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// AbandonRequester marks every open request made by user as abandoned. The
// entries stay until decided or expired so the admin learns the requester
// is gone.
func (s *AdmissionService) AbandonRequester(user domain.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, entry := range s.pending {
		if key.user == user && !entry.abandoned {
			entry.abandoned = true
			s.pending[key] = entry
			n++
		}
	}
	return n
}

func (s *AdmissionService) hasPending(roomID domain.RoomID, user domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[pendingKey{roomID, user}]
	return ok && !entry.abandoned
}

func (s *AdmissionService) forget(roomID domain.RoomID, user domain.UserID) {
	s.drop(pendingKey{roomID, user})
}

// Sweep removes requests that expired at or before now and tells each
// connected requester.
func (s *AdmissionService) Sweep(now time.Time) []PendingRequest {
	s.mu.Lock()
	var expired []PendingRequest
	for key, entry := range s.pending {
		if !now.Before(entry.ExpiresAt) {
			expired = append(expired, entry)
			delete(s.pending, key)
		}
	}
	s.mu.Unlock()

	for _, entry := range expired {
		if conn, ok := s.registry.Resolve(entry.UserID); ok {
			s.notify(conn, domain.Event{Name: domain.EventJoinExpired, Payload: domain.RoomPayload{RoomID: entry.RoomID}})
		}
		s.metrics.RecordAdmission("expired")
	}
	if len(expired) > 0 {
		s.logger.Debugw("Expired pending join requests", "count", len(expired))
	}
	return expired
}

// Run sweeps expired requests every interval until ctx is done.
func (s *AdmissionService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

func (s *AdmissionService) notify(conn ports.Connection, event domain.Event) {
	if err := conn.Send(event); err != nil {
		s.logger.Warnw("Failed to deliver event",
			"event", event.Name,
			"user_id", conn.UserID(),
			"connection_id", conn.ID(),
			"error", err,
		)
	}
}
