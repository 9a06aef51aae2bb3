package signal

import (
	"context"
	"fmt"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/services"
	"roomrelay/pkg/tracing"
	"roomrelay/pkg/validation"

	"go.opentelemetry.io/otel/codes"
)

type handlerFunc func(ctx context.Context, conn *WSConnection, msg InboundMessage) error

func (s *WebSocketServer) buildHandlers() map[string]handlerFunc {
	handlers := map[string]handlerFunc{
		domain.EventCreateRoom:  s.handleCreateRoom,
		domain.EventJoinRoom:    s.handleJoinRoom,
		domain.EventApproveUser: s.handleDecision(true),
		domain.EventRejectUser:  s.handleDecision(false),
		domain.EventKickUser:    s.handleKick,
		domain.EventLeaveRoom:   s.handleLeave,
	}
	for _, kind := range []string{domain.EventOffer, domain.EventAnswer, domain.EventICECandidate} {
		handlers[kind] = s.handleRelay
	}
	for _, kind := range []string{
		domain.EventChatMessage,
		domain.EventTyping,
		domain.EventStopTyping,
		domain.EventReaction,
		domain.EventHandRaise,
		domain.EventMediaUpdate,
	} {
		handlers[kind] = s.handleFanout
	}
	return handlers
}

// dispatch runs the handler for msg inside a span. Handler errors go back
// to the sender and never end the connection.
func (s *WebSocketServer) dispatch(ctx context.Context, conn *WSConnection, msg InboundMessage) {
	handler, ok := s.handlers[msg.Type]
	if !ok {
		s.sendError(conn, msg.Type, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, msg.Type))
		return
	}

	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, string(conn.UserID()))
	defer span.End()
	tracing.AddSpanAttributes(ctx,
		tracing.ConnectionIDKey.String(string(conn.ID())),
		tracing.RoomIDKey.String(string(msg.RoomID)),
	)

	defer func() {
		if r := recover(); r != nil {
			conn.logger.Errorw("websocket handler panicked", "event", msg.Type, "panic", r)
			s.sendError(conn, msg.Type, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if err := handler(ctx, conn, msg); err != nil {
		tracing.RecordError(ctx, err)
		conn.logger.Infow("websocket handler failed",
			"event", msg.Type,
			"room_id", msg.RoomID,
			"error", err,
		)
		s.sendError(conn, msg.Type, err)
		return
	}
	tracing.SetSpanStatus(ctx, codes.Ok, "")
}

func requireRoomID(id domain.RoomID) error {
	if err := validation.ValidateRoomID(string(id)); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}
	return nil
}

func requireTarget(id domain.UserID) error {
	if err := validation.ValidateUserID(string(id)); err != nil {
		return fmt.Errorf("%w: target: %s", domain.ErrValidation, err.Error())
	}
	return nil
}

func (s *WebSocketServer) handleCreateRoom(ctx context.Context, conn *WSConnection, msg InboundMessage) error {
	var payload createRoomPayload
	if err := decodePayload(msg.Payload, &payload); err != nil {
		return fmt.Errorf("%w: room:create payload", domain.ErrInvalidMessage)
	}
	_, err := s.rooms.CreateRoom(ctx, conn.identity, services.CreateRoomOptions{Password: payload.Password})
	return err
}

func (s *WebSocketServer) handleJoinRoom(ctx context.Context, conn *WSConnection, msg InboundMessage) error {
	var payload joinRoomPayload
	if err := decodePayload(msg.Payload, &payload); err != nil {
		return fmt.Errorf("%w: room:join-request payload", domain.ErrInvalidMessage)
	}
	_, err := s.admission.RequestJoin(ctx, conn.identity, services.JoinRequest{
		RoomID:     msg.RoomID,
		InviteLink: payload.InviteLink,
		Password:   payload.Password,
	})
	return err
}

func (s *WebSocketServer) handleDecision(approve bool) handlerFunc {
	return func(ctx context.Context, conn *WSConnection, msg InboundMessage) error {
		if err := requireRoomID(msg.RoomID); err != nil {
			return err
		}
		if err := requireTarget(msg.Target); err != nil {
			return err
		}
		return s.admission.Decide(ctx, conn.UserID(), msg.RoomID, msg.Target, approve)
	}
}

func (s *WebSocketServer) handleKick(ctx context.Context, conn *WSConnection, msg InboundMessage) error {
	if err := requireRoomID(msg.RoomID); err != nil {
		return err
	}
	if err := requireTarget(msg.Target); err != nil {
		return err
	}
	return s.rooms.Kick(ctx, conn.UserID(), msg.Target, msg.RoomID)
}

func (s *WebSocketServer) handleLeave(ctx context.Context, conn *WSConnection, msg InboundMessage) error {
	if err := requireRoomID(msg.RoomID); err != nil {
		return err
	}
	return s.rooms.Leave(ctx, conn.UserID(), msg.RoomID)
}

func (s *WebSocketServer) handleRelay(ctx context.Context, conn *WSConnection, msg InboundMessage) error {
	return s.relay.Relay(ctx, conn, msg.Target, msg.Type, msg.Payload, msg.Metadata)
}

func (s *WebSocketServer) handleFanout(ctx context.Context, conn *WSConnection, msg InboundMessage) error {
	if err := requireRoomID(msg.RoomID); err != nil {
		return err
	}
	_, err := s.rooms.Fanout(ctx, conn, msg.RoomID, msg.Type, msg.Payload)
	return err
}
