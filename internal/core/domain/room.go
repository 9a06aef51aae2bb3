package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type RoomID string

type Room struct {
	ID            RoomID    `json:"room_id"`
	AdminID       UserID    `json:"admin_id"`
	Participants  []UserID  `json:"participants"`
	Invites       []UserID  `json:"invites"`
	PasswordHash  string    `json:"-"`
	IsActive      bool      `json:"is_active"`
	IsChatEnabled bool      `json:"is_chat_enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewRoom returns an active room with chat enabled and the admin as the
// only participant.
func NewRoom(id RoomID, admin UserID, now time.Time) *Room {
	return &Room{
		ID:            id,
		AdminID:       admin,
		Participants:  []UserID{admin},
		Invites:       []UserID{},
		IsActive:      true,
		IsChatEnabled: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r *Room) IsAdmin(u UserID) bool {
	return r.AdminID == u
}

func (r *Room) HasParticipant(u UserID) bool {
	return containsUser(r.Participants, u)
}

func (r *Room) IsInvited(u UserID) bool {
	return containsUser(r.Invites, u)
}

func (r *Room) HasPassword() bool {
	return r.PasswordHash != ""
}

// ParticipantsExcept returns the participant list without u.
func (r *Room) ParticipantsExcept(u UserID) []UserID {
	out := make([]UserID, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p != u {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy so callers never share slices with a store.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Participants = append([]UserID(nil), r.Participants...)
	c.Invites = append([]UserID(nil), r.Invites...)
	if c.Participants == nil {
		c.Participants = []UserID{}
	}
	if c.Invites == nil {
		c.Invites = []UserID{}
	}
	return &c
}

// AddUnique appends u to set unless already present.
func AddUnique(set []UserID, u UserID) []UserID {
	if containsUser(set, u) {
		return set
	}
	return append(set, u)
}

// RemoveUser returns set without u.
func RemoveUser(set []UserID, u UserID) []UserID {
	out := set[:0:0]
	for _, v := range set {
		if v != u {
			out = append(out, v)
		}
	}
	return out
}

func containsUser(set []UserID, u UserID) bool {
	for _, v := range set {
		if v == u {
			return true
		}
	}
	return false
}

// RoomIDFromInvite extracts the room identifier carried after the last '='
// of an invite token.
func RoomIDFromInvite(token string) (RoomID, error) {
	token = strings.TrimSpace(token)
	idx := strings.LastIndex(token, "=")
	if idx < 0 || idx == len(token)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidInvite, token)
	}
	return RoomID(token[idx+1:]), nil
}

// InviteLink builds the shareable join link for a room.
func InviteLink(base string, id RoomID) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "roomId=" + url.QueryEscape(string(id))
}
