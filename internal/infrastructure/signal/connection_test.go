package signal

import (
	"testing"

	"roomrelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWSConnection_SendBackpressureAndClose(t *testing.T) {
	opts := testOptions()
	opts.SendBuffer = 1
	conn := newWSConnection(nil, "conn_1", domain.Identity{UserID: "u1", Username: "alice"}, opts, zap.NewNop().Sugar())

	assert.Equal(t, domain.ConnectionID("conn_1"), conn.ID())
	assert.Equal(t, domain.UserID("u1"), conn.UserID())
	assert.Equal(t, "alice", conn.Username())

	assert.NoError(t, conn.Send(domain.Event{Name: "a"}))
	assert.ErrorIs(t, conn.Send(domain.Event{Name: "b"}), ErrBackpressure)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(domain.Event{Name: "c"}), ErrConnectionClosed)
}

func TestWSConnection_SendRejectsUnencodablePayload(t *testing.T) {
	conn := newWSConnection(nil, "conn_1", domain.Identity{UserID: "u1"}, testOptions(), zap.NewNop().Sugar())
	assert.Error(t, conn.Send(domain.Event{Name: "bad", Payload: make(chan int)}))
}
