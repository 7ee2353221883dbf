package feed

import (
	"context"

	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// Publisher delivers one row to the per-user stream of userID.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, userID string, msg models.Message) error
}

// Relay is a Sink that republishes every row to both participants. It lets
// clients without database access follow the feed over Redis, AMQP or the
// push hub.
type Relay struct {
	publishers []Publisher
	log        *zap.Logger
}

func NewRelay(log *zap.Logger, publishers ...Publisher) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{publishers: publishers, log: log}
}

func (r *Relay) HandleFeed(ctx context.Context, ev models.FeedEvent) {
	targets := []string{ev.Message.SenderID}
	if ev.Message.ReceiverID != ev.Message.SenderID {
		targets = append(targets, ev.Message.ReceiverID)
	}
	for _, p := range r.publishers {
		for _, userID := range targets {
			if err := p.Publish(ctx, userID, ev.Message); err != nil {
				observability.IncRelayError(p.Name())
				r.log.Warn("relay publish failed",
					zap.String("publisher", p.Name()),
					zap.String("user_id", userID),
					zap.String("message_id", ev.Message.ID),
					zap.Error(err))
			}
		}
	}
}

// Reconcile is a no-op: rows missed while disconnected are recovered by each
// client's own reconcile.
func (r *Relay) Reconcile(context.Context) error { return nil }

func (r *Relay) Degraded(err error) {
	r.log.Error("relay feed degraded", zap.Error(err))
}

func (r *Relay) Recovered() {
	r.log.Info("relay feed recovered")
}
