// Package rabbitmq publishes JSON events on a topic exchange: audit
// envelopes, websocket connection events and relayed message rows.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chat-sync/internal/observability"
)

// Publisher publishes JSON events on a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// HeaderPublisher is implemented by publishers that can attach headers.
type HeaderPublisher interface {
	PublishWithHeaders(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

var errClosed = errors.New("rabbitmq publisher closed")

// NewPublisher dials amqpURL and declares exchange. Without a URL, or when
// the broker is unreachable at startup, it returns a publisher that drops
// events so the caller keeps working.
func NewPublisher(amqpURL, exchange string, log *zap.Logger) Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	if amqpURL == "" {
		return newNoop("empty amqp url", log)
	}

	p := &amqpPublisher{url: amqpURL, exchange: exchange, log: log}
	if err := p.connect(); err != nil {
		return newNoop(err.Error(), log)
	}
	log.Info("rabbitmq connected", zap.String("exchange", exchange))
	return p
}

type amqpPublisher struct {
	url      string
	exchange string
	log      *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// connect opens a connection and channel and declares the exchange. The
// caller holds mu or owns p exclusively.
func (p *amqpPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return p.PublishWithHeaders(ctx, routingKey, event, nil)
}

// PublishWithHeaders sends one persistent JSON message. A channel the broker
// has closed is reopened once before giving up.
func (p *amqpPublisher) PublishWithHeaders(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      table,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errClosed
	}
	if p.ch == nil || p.ch.IsClosed() {
		if err := p.reconnect(); err != nil {
			observability.IncAMQPPublishError()
			return err
		}
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		if rerr := p.reconnect(); rerr == nil {
			err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
		}
	}
	if err != nil {
		observability.IncAMQPPublishError()
		p.log.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) reconnect() error {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	if err := p.connect(); err != nil {
		p.log.Warn("rabbitmq reconnect failed", zap.Error(err))
		return err
	}
	p.log.Info("rabbitmq reconnected", zap.String("exchange", p.exchange))
	return nil
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	log    *zap.Logger
}

func newNoop(reason string, log *zap.Logger) *noopPublisher {
	log.Warn("rabbitmq disabled, dropping events", zap.String("reason", reason))
	return &noopPublisher{reason: reason, log: log}
}

func (p *noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return p.PublishWithHeaders(ctx, routingKey, event, nil)
}

func (p *noopPublisher) PublishWithHeaders(_ context.Context, routingKey string, _ any, headers map[string]string) error {
	p.log.Debug("rabbitmq noop publish", zap.String("routing_key", routingKey), zap.String("request_id", headers["x-request-id"]))
	return nil
}

func (*noopPublisher) Close() error { return nil }

// PublisherMode reports "amqp" or "noop" for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case *noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason says why p drops events, or "" when it does not.
func PublisherNoopReason(p Publisher) string {
	if n, ok := p.(*noopPublisher); ok {
		return n.reason
	}
	return ""
}
