package domain

import "encoding/json"

// Event is the outbound envelope written to a connection.
type Event struct {
	Name    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Outbound event names.
const (
	EventConnected   = "connected"
	EventSocketError = "socket:error"
	EventError       = "error"

	EventRoomCreated      = "room:created"
	EventJoinRequest      = "admin:user-join-request"
	EventJoinPending      = "room:join:pending"
	EventJoinApproved     = "room:join:approved"
	EventJoinRejected     = "room:join:rejected"
	EventJoinExpired      = "room:join:expired"
	EventUserJoined       = "user:joined"
	EventUserLeave        = "user:leave"
	EventRoomKicked       = "room:kicked"
	EventUserKicked       = "user:kicked"
	EventChatUpdated      = "room:chat:updated"
	EventParticipantMedia = "participant:media-update"
)

// Inbound event names.
const (
	EventCreateRoom  = "room:create"
	EventJoinRoom    = "room:join-request"
	EventApproveUser = "admin:approve-user"
	EventRejectUser  = "admin:reject-user"
	EventKickUser    = "admin:kick-user"
	EventLeaveRoom   = "leave-room"

	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"

	EventChatMessage = "chat:message"
	EventTyping      = "typing"
	EventStopTyping  = "stop-typing"
	EventReaction    = "reaction"
	EventHandRaise   = "hand-raise"
	EventMediaUpdate = "user:media-update"
)

// RejectedMessage is delivered to a requester the admin declined.
const RejectedMessage = "Your join request was declined by the admin."

type ConnectedPayload struct {
	UserID       UserID       `json:"user_id"`
	ConnectionID ConnectionID `json:"connection_id"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

type RoomCreatedPayload struct {
	RoomID     RoomID `json:"room_id"`
	InviteLink string `json:"invite_link,omitempty"`
}

type JoinRequestPayload struct {
	RoomID   RoomID `json:"room_id"`
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
}

type RoomPayload struct {
	RoomID RoomID `json:"room_id"`
}

type JoinRejectedPayload struct {
	RoomID  RoomID `json:"room_id"`
	Message string `json:"message"`
}

type UserJoinedPayload struct {
	RoomID       RoomID       `json:"room_id"`
	UserID       UserID       `json:"user_id"`
	Username     string       `json:"username,omitempty"`
	ConnectionID ConnectionID `json:"connection_id"`
}

type UserLeavePayload struct {
	RoomID  RoomID `json:"room_id"`
	UserID  UserID `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

type RoomKickedPayload struct {
	RoomID RoomID `json:"room_id"`
	By     UserID `json:"by"`
}

type UserKickedPayload struct {
	RoomID RoomID `json:"room_id"`
	UserID UserID `json:"user_id"`
}

type ChatUpdatedPayload struct {
	RoomID  RoomID `json:"room_id"`
	Enabled bool   `json:"enabled"`
}

// RelayPayload carries negotiation data between two connections. Payload and
// Metadata are forwarded verbatim.
type RelayPayload struct {
	FromUser       UserID          `json:"from_user"`
	FromConnection ConnectionID    `json:"from_connection"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type FanoutPayload struct {
	RoomID   RoomID          `json:"room_id"`
	FromUser UserID          `json:"from_user"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
