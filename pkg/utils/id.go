package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoomIDLength is the length of generated room identifiers.
const RoomIDLength = 12

// userNamespace scopes name-derived user IDs.
var userNamespace = uuid.MustParse("9c4c8f1e-5b6a-4d1f-9a63-2f0f6c1d7e42")

// GenerateRoomID returns a short random room identifier.
func GenerateRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:RoomIDLength]
}

// GenerateConnectionID returns a unique identifier for a live connection.
func GenerateConnectionID() string {
	return "conn_" + uuid.NewString()
}

// UserIDFromName derives a stable user ID from a username.
func UserIDFromName(username string) string {
	return uuid.NewSHA1(userNamespace, []byte(strings.ToLower(username))).String()
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", timestamp, hex.EncodeToString(b))
}
