package feed

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/rabbitmq"
)

// AMQPSource consumes rows from an exclusive queue bound to the user's
// routing key on the relay's topic exchange.
type AMQPSource struct {
	url      string
	exchange string
	log      *zap.Logger
}

func NewAMQPSource(url, exchange string, log *zap.Logger) *AMQPSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &AMQPSource{url: url, exchange: exchange, log: log}
}

func (s *AMQPSource) Name() string { return "amqp" }

func (s *AMQPSource) Subscribe(ctx context.Context, localID string) (Subscription, error) {
	if localID == "" {
		return nil, errors.New("amqp feed needs a user id")
	}
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	closeAll := func() error {
		_ = ch.Close()
		return conn.Close()
	}

	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("declare exchange %s: %w", s.exchange, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, AMQPRoutingKey(localID), s.exchange, false, nil); err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	sub := newSubscription()
	sub.closeFn = closeAll
	go func() {
		for {
			select {
			case <-sub.done:
				return
			case amqpErr := <-closed:
				sub.fail(fmt.Errorf("amqp connection closed: %v", amqpErr))
				return
			case d, ok := <-deliveries:
				if !ok {
					sub.fail(ErrSubscriptionClosed)
					return
				}
				msg, err := Decode(d.Body)
				if err != nil {
					s.log.Warn("dropping amqp delivery", zap.String("routing_key", d.RoutingKey), zap.Error(err))
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

// AMQPPublisher fans rows out on the relay exchange, one routing key per user.
type AMQPPublisher struct {
	publisher rabbitmq.Publisher
}

func NewAMQPPublisher(p rabbitmq.Publisher) *AMQPPublisher {
	return &AMQPPublisher{publisher: p}
}

func (p *AMQPPublisher) Name() string { return "amqp" }

func (p *AMQPPublisher) Publish(ctx context.Context, userID string, msg models.Message) error {
	return p.publisher.Publish(ctx, AMQPRoutingKey(userID), msg)
}
