package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs an in-memory provider for the duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func attrs(span tracesdk.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "roomrelay", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_DisabledReturnsNoopProvider(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestHelpersWithoutProviderAreSafe(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "noop")
	AddSpanAttributes(ctx, attribute.String("k", "v"))
	RecordError(ctx, errors.New("ignored"))
	SetSpanStatus(ctx, codes.Ok, "")
	MeasureDuration(ctx, time.Now(), "noop")
	span.End()
}

func TestTraceWebSocketMessage(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := TraceWebSocketMessage(context.Background(), "room:join-request", "user-123")
	AddSpanAttributes(ctx, RoomIDKey.String("a1b2c3d4e5f6"))
	SetSpanStatus(ctx, codes.Ok, "")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "websocket.room:join-request", ended[0].Name())
	a := attrs(ended[0])
	assert.Equal(t, "room:join-request", a[EventKey].AsString())
	assert.Equal(t, "user-123", a[UserIDKey].AsString())
	assert.Equal(t, "a1b2c3d4e5f6", a[RoomIDKey].AsString())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
}

func TestRecordError_MarksSpan(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := TraceRoomOperation(context.Background(), "decide", "room1")
	RecordError(ctx, errors.New("no pending join request"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "room.decide", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "no pending join request", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "exception", ended[0].Events()[0].Name)
}

func TestTraceHTTPRequestAndDatabaseOperation(t *testing.T) {
	recorder := recordSpans(t)

	ctx, parent := TraceHTTPRequest(context.Background(), "GET", "/api/v1/rooms/:id")
	_, child := TraceDatabaseOperation(ctx, "get", "rooms")
	MeasureDuration(ctx, time.Now().Add(-5*time.Millisecond), "get")
	child.End()
	parent.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "db.get", ended[0].Name())
	assert.Equal(t, "http.GET", ended[1].Name())
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())

	a := attrs(ended[1])
	assert.Equal(t, "get", a["operation"].AsString())
	assert.GreaterOrEqual(t, a[DurationKey].AsInt64(), int64(5))
}
