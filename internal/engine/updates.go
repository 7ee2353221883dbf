package engine

import (
	"context"

	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/thread"
)

type UpdateKind string

const (
	UpdateConversations UpdateKind = "conversations"
	UpdateThread        UpdateKind = "thread"
	UpdateFriends       UpdateKind = "friends"
	UpdateFeedStatus    UpdateKind = "feed_status"
)

// Update is a change notification for UI clients.
type Update struct {
	Kind          UpdateKind                   `json:"type"`
	Peer          string                       `json:"peer,omitempty"`
	Thread        thread.Thread                `json:"thread,omitempty"`
	Conversations []models.ConversationSummary `json:"conversations,omitempty"`
	Friends       []models.User                `json:"friends,omitempty"`
	Status        *Status                      `json:"status,omitempty"`
}

const subscriberBuffer = 64

// Subscribe registers for updates. The returned function unsubscribes; the
// channel is also closed when the engine stops.
func (e *Engine) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	var id int
	if err := e.do(context.Background(), func() {
		id = e.nextSub
		e.nextSub++
		e.subs[id] = ch
	}); err != nil {
		close(ch)
		return ch, func() {}
	}
	return ch, func() {
		_ = e.do(context.Background(), func() {
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

func (e *Engine) emit(u Update) {
	for id, ch := range e.subs {
		select {
		case ch <- u:
		default:
			e.log.Warn("update subscriber lagging, dropping update", zap.Int("subscriber", id), zap.String("kind", string(u.Kind)))
		}
	}
}

func (e *Engine) emitConversations() {
	if len(e.subs) == 0 {
		return
	}
	e.emit(Update{Kind: UpdateConversations, Conversations: e.index.List()})
}

func (e *Engine) emitThread(peer string) {
	if len(e.subs) == 0 {
		return
	}
	th, ok := e.threads.Thread(peer)
	if !ok {
		return
	}
	e.emit(Update{Kind: UpdateThread, Peer: peer, Thread: th})
}

func (e *Engine) emitFriends() {
	if len(e.subs) == 0 {
		return
	}
	e.emit(Update{Kind: UpdateFriends, Friends: e.friendList()})
}

func (e *Engine) emitStatus() {
	if len(e.subs) == 0 {
		return
	}
	s := e.status()
	e.emit(Update{Kind: UpdateFeedStatus, Status: &s})
}
