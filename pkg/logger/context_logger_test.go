package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLogger_WithContextAddsKnownFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "u1")
	cl.LogRequest(ctx, "GET", "/api/v1/rooms/abc", 200, 12)

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "u1", fields["user_id"])
		assert.Equal(t, int64(200), fields["status_code"])
		assert.NotContains(t, fields, "trace_id")
	}
}

func TestContextLogger_LogError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	cl.LogError(WithTraceID(context.Background(), "t-1"), errors.New("boom"), "store failed")

	entries := logs.FilterMessage("error_occurred").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "t-1", fields["trace_id"])
		assert.Equal(t, "store failed", fields["message"])
		assert.Equal(t, "boom", fields["error"])
	}
}

func TestNew_FallsBackOnUnknownLevel(t *testing.T) {
	l := New("verbose")
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	l = New("debug", "console")
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}
