// Package feed turns live insert notifications on the messages table into
// normalized events for the sync engine and keeps the subscription alive.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chat-sync/internal/models"
)

// Source opens a live subscription to inserted messages touching localID.
// An empty localID subscribes to every row where the transport allows it.
type Source interface {
	Name() string
	Subscribe(ctx context.Context, localID string) (Subscription, error)
}

// Subscription delivers events until it fails or is closed. A value on Err,
// or Err being closed, means the subscription is gone.
type Subscription interface {
	Events() <-chan models.FeedEvent
	Err() <-chan error
	Close() error
}

var (
	ErrSubscriptionClosed = errors.New("feed subscription closed")
	ErrNotMessage         = errors.New("payload is not a message row")
)

// RedisChannel is the pub/sub channel carrying rows for userID.
func RedisChannel(userID string) string { return "chat:user:" + userID }

// AMQPRoutingKey is the topic routing key carrying rows for userID.
func AMQPRoutingKey(userID string) string { return "messages." + userID }

type row struct {
	Type       string          `json:"type"`
	Message    json.RawMessage `json:"message"`
	ID         string          `json:"id"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Content    string          `json:"content"`
	CreatedAt  string          `json:"created_at"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// Decode normalizes a row payload. It accepts the bare row emitted by the
// Postgres trigger and the {"type":"message","message":{...}} frame used by
// the push hub.
func Decode(payload []byte) (models.Message, error) {
	var r row
	if err := json.Unmarshal(payload, &r); err != nil {
		return models.Message{}, fmt.Errorf("decode feed payload: %w", err)
	}
	if len(r.Message) > 0 && r.ID == "" {
		if r.Type != "" && r.Type != "message" {
			return models.Message{}, ErrNotMessage
		}
		return Decode(r.Message)
	}
	if r.ID == "" || r.SenderID == "" || r.ReceiverID == "" {
		return models.Message{}, ErrNotMessage
	}
	at, err := parseTime(r.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:         r.ID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Body:       r.Content,
		CreatedAt:  at,
		Status:     models.StatusConfirmed,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("decode feed payload: bad created_at %q", s)
}

// subscription is the channel plumbing shared by every source.
type subscription struct {
	events  chan models.FeedEvent
	errs    chan error
	done    chan struct{}
	once    sync.Once
	closeFn func() error
}

func newSubscription() *subscription {
	return &subscription{
		events: make(chan models.FeedEvent, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *subscription) Events() <-chan models.FeedEvent { return s.events }
func (s *subscription) Err() <-chan error              { return s.errs }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}

func (s *subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) deliver(msg models.Message) bool {
	select {
	case s.events <- models.FeedEvent{Message: msg}:
		return true
	case <-s.done:
		return false
	}
}

func (s *subscription) fail(err error) {
	if s.closed() {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}
