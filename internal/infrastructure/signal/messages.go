package signal

import (
	"encoding/json"

	"roomrelay/internal/core/domain"
)

// InboundMessage is the client envelope. Room events carry room_id, relay
// events carry target.
type InboundMessage struct {
	Type     string          `json:"type"`
	RoomID   domain.RoomID   `json:"room_id,omitempty"`
	Target   domain.UserID   `json:"target,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type createRoomPayload struct {
	Password string `json:"password,omitempty"`
}

type joinRoomPayload struct {
	InviteLink string `json:"invite_link,omitempty"`
	Password   string `json:"password,omitempty"`
}

// decodePayload tolerates an absent payload.
func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
