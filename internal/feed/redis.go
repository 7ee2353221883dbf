package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"chat-sync/internal/models"
)

// RedisSource subscribes to the per-user channel the relay publishes on.
type RedisSource struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisSource(client *redis.Client, log *zap.Logger) *RedisSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisSource{client: client, log: log}
}

func (s *RedisSource) Name() string { return "redis" }

func (s *RedisSource) Subscribe(ctx context.Context, localID string) (Subscription, error) {
	if localID == "" {
		return nil, errors.New("redis feed needs a user id")
	}
	ps := s.client.Subscribe(ctx, RedisChannel(localID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", RedisChannel(localID), err)
	}

	sub := newSubscription()
	sub.closeFn = ps.Close
	ch := ps.ChannelWithSubscriptions(ctx, 64)

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case m, ok := <-ch:
				if !ok {
					sub.fail(ErrSubscriptionClosed)
					return
				}
				switch v := m.(type) {
				case *redis.Subscription:
					// the client re-subscribed after a dropped connection
					sub.fail(fmt.Errorf("redis pubsub reconnected (%s)", v.Kind))
					return
				case *redis.Message:
					msg, err := Decode([]byte(v.Payload))
					if err != nil {
						s.log.Warn("dropping redis message", zap.String("channel", v.Channel), zap.Error(err))
						continue
					}
					if !sub.deliver(msg) {
						return
					}
				}
			}
		}
	}()
	return sub, nil
}

// RedisPublisher fans rows out to per-user channels.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, userID string, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, RedisChannel(userID), data).Err()
}
