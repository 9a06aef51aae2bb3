package domain

type UserID string

type ConnectionID string

// Identity is the verified result of a handshake.
type Identity struct {
	UserID   UserID
	Username string
}
