package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"chat-sync/internal/db"
)

// PGSource listens for rows announced by the messages_notify trigger.
type PGSource struct {
	dsn            string
	channel        string
	connectTimeout time.Duration
	log            *zap.Logger
}

func NewPGSource(dsn string, log *zap.Logger) *PGSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &PGSource{dsn: dsn, channel: db.NotifyChannel, connectTimeout: 10 * time.Second, log: log}
}

func (s *PGSource) Name() string { return "postgres" }

func (s *PGSource) Subscribe(ctx context.Context, localID string) (Subscription, error) {
	sub := newSubscription()
	listener := pq.NewListener(s.dsn, 500*time.Millisecond, 10*time.Second, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			sub.fail(fmt.Errorf("postgres listener disconnected: %w", err))
		case pq.ListenerEventConnectionAttemptFailed:
			s.log.Debug("postgres listener connect attempt failed", zap.Error(err))
		}
	})

	listened := make(chan error, 1)
	go func() { listened <- listener.Listen(s.channel) }()
	timeout := time.NewTimer(s.connectTimeout)
	defer timeout.Stop()
	select {
	case err := <-listened:
		if err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("listen %s: %w", s.channel, err)
		}
	case <-timeout.C:
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: connect timeout", s.channel)
	case <-ctx.Done():
		_ = listener.Close()
		return nil, ctx.Err()
	}
	sub.closeFn = listener.Close

	go func() {
		ping := time.NewTicker(60 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-sub.done:
				return
			case <-ping.C:
				go func() { _ = listener.Ping() }()
			case n, ok := <-listener.Notify:
				if !ok {
					sub.fail(ErrSubscriptionClosed)
					return
				}
				// nil marks a reconnect; the disconnect was already reported
				if n == nil {
					continue
				}
				msg, err := Decode([]byte(n.Extra))
				if err != nil {
					s.log.Warn("dropping postgres notification", zap.Error(err))
					continue
				}
				if localID != "" && !msg.Involves(localID) {
					continue
				}
				if !sub.deliver(msg) {
					return
				}
			}
		}
	}()
	return sub, nil
}
