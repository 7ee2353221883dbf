package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audit actions.
const (
	EventFriendAdded   = "friend_added"
	EventFriendRemoved = "friend_removed"
	EventSignedOut     = "signed_out"
	EventSendFailed    = "send_failed"
	EventFeedDegraded  = "feed_degraded"
	EventAuditTest     = "audit_test"
)

// Event is what callers hand to Emit. Level defaults to "info".
type Event struct {
	Level     string
	Action    string
	Text      string
	RequestID string
	UserID    string
	Fields    map[string]string
}

// AuditEnvelope is the wire shape published to the audit routing key.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string            `json:"level"`
	Action string            `json:"action"`
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`
}

type AuditEmitter struct {
	publisher  Publisher
	routingKey string
	service    string
	env        string
	log        *zap.Logger
	now        func() time.Time
}

func NewAuditEmitter(publisher Publisher, routingKey, service, env string, log *zap.Logger) *AuditEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditEmitter{publisher: publisher, routingKey: routingKey, service: service, env: env, log: log, now: time.Now}
}

// Emit publishes ev. Publish failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.publisher == nil {
		return
	}
	env := e.envelope(ctx, ev)
	e.log.Debug("audit emit", zap.String("action", ev.Action), zap.String("request_id", ev.RequestID))
	if err := e.publisher.Publish(ctx, e.routingKey, env); err != nil {
		e.log.Warn("audit publish failed", zap.String("action", ev.Action), zap.Error(err))
	}
}

func (e *AuditEmitter) envelope(ctx context.Context, ev Event) AuditEnvelope {
	level := ev.Level
	if level == "" {
		level = "info"
	}
	var user *string
	if ev.UserID != "" {
		id := ev.UserID
		user = &id
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	return AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.env,
		RequestID:     ev.RequestID,
		TraceID:       traceID,
		UserID:        user,
		Payload:       AuditPayload{Level: level, Action: ev.Action, Text: ev.Text, Fields: ev.Fields},
	}
}
