package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *publisherMock) Close() error { return nil }

func capture(pub *publisherMock, key string, out *AuditEnvelope) {
	pub.On("Publish", mock.Anything, key, mock.AnythingOfType("telemetry.AuditEnvelope")).
		Run(func(args mock.Arguments) { *out = args.Get(2).(AuditEnvelope) }).
		Return(nil).Once()
}

func TestEmitBuildsEnvelope(t *testing.T) {
	pub := new(publisherMock)
	var got AuditEnvelope
	capture(pub, "audit.chatsync", &got)

	e := NewAuditEmitter(pub, "audit.chatsync", "chat-sync", "test", nil)
	e.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	e.Emit(context.Background(), Event{
		Action:    EventFriendAdded,
		Text:      "friend added",
		RequestID: "req-1",
		UserID:    "U1",
		Fields:    map[string]string{"friend_id": "U2"},
	})

	pub.AssertExpectations(t)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "U1", *got.UserID)
	assert.Equal(t, "audit_log", got.EventType)
	assert.Equal(t, "2024-03-01T12:00:00Z", got.OccurredAt)
	assert.Equal(t, "info", got.Payload.Level)
	assert.Equal(t, EventFriendAdded, got.Payload.Action)
	assert.Equal(t, "U2", got.Payload.Fields["friend_id"])
	assert.Equal(t, "req-1", got.RequestID)
	assert.Empty(t, got.TraceID)
}

func TestEmitOmitsBlankUser(t *testing.T) {
	pub := new(publisherMock)
	var got AuditEnvelope
	capture(pub, "audit", &got)

	NewAuditEmitter(pub, "audit", "chat-sync", "test", nil).
		Emit(context.Background(), Event{Level: "error", Action: EventFeedDegraded})

	assert.Nil(t, got.UserID)
	assert.Equal(t, "error", got.Payload.Level)
}

func TestEmitCarriesTraceID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	pub := new(publisherMock)
	var got AuditEnvelope
	capture(pub, "audit", &got)

	NewAuditEmitter(pub, "audit", "chat-sync", "test", nil).Emit(ctx, Event{Action: EventSignedOut})
	assert.Equal(t, span.SpanContext().TraceID().String(), got.TraceID)
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	pub := new(publisherMock)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)
	e := NewAuditEmitter(pub, "audit", "chat-sync", "test", nil)
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), Event{Level: "warn", Action: EventSendFailed})
	})

	var nilEmitter *AuditEmitter
	assert.NotPanics(t, func() {
		nilEmitter.Emit(context.Background(), Event{Action: EventSignedOut})
	})
}
