package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"chat-sync/internal/apperrors"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/thread"
)

func (e *Engine) checkPeer(peer string) error {
	if peer == "" {
		return &apperrors.ValidationError{Field: "peer", Reason: "required"}
	}
	if peer == e.cfg.LocalID {
		return &apperrors.ValidationError{Field: "peer", Reason: "cannot open a conversation with yourself"}
	}
	return nil
}

// Open marks peer as the conversation on screen, clears its unread count
// and loads its history. If the user navigates away before the load
// returns, the result is still merged but peer is not reopened.
func (e *Engine) Open(ctx context.Context, peer string) (thread.Thread, error) {
	if err := e.checkPeer(peer); err != nil {
		return nil, err
	}
	ctx, span := observability.Tracer().Start(ctx, "engine.open")
	defer span.End()
	span.SetAttributes(attribute.String("peer", peer))

	if err := e.do(ctx, func() {
		e.open = peer
		e.index.MarkOpened(peer, e.cfg.Now())
		e.emitConversations()
	}); err != nil {
		return nil, err
	}

	msgs, err := e.threads.Fetch(ctx, peer)
	if err != nil {
		observability.IncFetchError("load_thread")
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	var th thread.Thread
	if err := e.do(e.runCtx, func() {
		th = e.mergeLoaded(peer, msgs)
	}); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("messages", len(th)))
	return th, nil
}

// mergeLoaded folds a history snapshot into the thread and the index.
// Loaded messages count as read only while the thread is still on screen;
// messages from before the last open never count.
func (e *Engine) mergeLoaded(peer string, msgs []models.Message) thread.Thread {
	before := len(msgs)
	open := e.open == peer
	th := e.threads.Merge(peer, msgs)
	for _, m := range th {
		e.index.Observe(m, peer, open)
	}
	if !open {
		e.log.Debug("applied stale thread load", zap.String("peer", peer), zap.Int("messages", before))
	}
	e.emitThread(peer)
	e.emitConversations()
	return th
}

// Close stops treating peer as on screen. Its thread stays cached.
func (e *Engine) Close(ctx context.Context, peer string) error {
	return e.do(ctx, func() {
		if e.open == peer {
			e.open = ""
		}
	})
}

// Evict drops peer's cached thread; the next Open re-fetches it.
func (e *Engine) Evict(ctx context.Context, peer string) error {
	return e.do(ctx, func() {
		e.threads.Evict(peer)
		if e.open == peer {
			e.open = ""
		}
	})
}

// Send appends body to peer's thread right away and persists it in the
// background. A failed write leaves the entry marked failed for Resend.
func (e *Engine) Send(ctx context.Context, peer, body string) (models.Message, error) {
	if err := e.checkPeer(peer); err != nil {
		return models.Message{}, err
	}
	var (
		prov models.Message
		err  error
	)
	if doErr := e.do(ctx, func() {
		prov, err = thread.NewProvisional(e.cfg.LocalID, peer, body, e.cfg.Now().UTC())
		if err != nil {
			return
		}
		e.threads.Append(peer, prov)
		e.index.Observe(prov, peer, true)
		e.emitThread(peer)
		e.emitConversations()
	}); doErr != nil {
		return models.Message{}, doErr
	}
	if err != nil {
		return models.Message{}, err
	}
	e.persist(ctx, peer, prov)
	return prov, nil
}

// Resend retries a failed entry.
func (e *Engine) Resend(ctx context.Context, peer, id string) (models.Message, error) {
	var (
		msg models.Message
		ok  bool
	)
	if err := e.do(ctx, func() {
		msg, ok = e.threads.Retry(peer, id)
		if ok {
			e.index.Observe(msg, peer, true)
			e.emitThread(peer)
			e.emitConversations()
		}
	}); err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, &apperrors.NotFoundError{Kind: "failed message", Key: id}
	}
	e.persist(ctx, peer, msg)
	return msg, nil
}

func (e *Engine) persist(reqCtx context.Context, peer string, prov models.Message) {
	requestID, _ := reqCtx.Value(requestIDKey{}).(string)
	e.async(func(ctx context.Context) func() {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
		defer cancel()
		ctx, span := observability.Tracer().Start(ctx, "engine.persist")
		defer span.End()

		stored, err := e.messages.CreateMessage(ctx, prov.SenderID, prov.ReceiverID, prov.Body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist failed")
			observability.IncSend("failed")
			e.log.Warn("message persist failed", zap.String("peer", peer), zap.String("client_id", prov.ID), zap.Error(err))
			e.audit.Emit(ctx, telemetry.Event{
				Level:     "warn",
				Action:    telemetry.EventSendFailed,
				Text:      "message send failed",
				RequestID: requestID,
				UserID:    e.cfg.LocalID,
				Fields:    map[string]string{"peer": peer, "client_id": prov.ID, "error": err.Error()},
			})
			return func() {
				if e.threads.MarkFailed(peer, prov.ID) {
					failed := prov
					failed.Status = models.StatusFailed
					e.index.Observe(failed, peer, true)
					e.emitThread(peer)
					e.emitConversations()
				}
			}
		}
		observability.IncSend("ok")
		stored.ClientID = prov.ID
		return func() {
			e.applyMessage(peer, stored)
		}
	})
}

// applyMessage routes one authoritative message to the thread (when cached)
// and the index.
func (e *Engine) applyMessage(peer string, msg models.Message) {
	open := e.open == peer
	changed := false
	if e.threads.Materialized(peer) {
		res := e.threads.Append(peer, msg)
		observability.IncThreadAppend(res.String())
		switch res {
		case thread.Replaced:
			stored, _ := e.threads.Get(peer, msg.ID)
			changed = e.index.Replace(stored.ClientID, stored)
			e.emitThread(peer)
		case thread.Inserted:
			changed = e.index.Observe(msg, peer, open)
			e.emitThread(peer)
		default:
			changed = e.index.Observe(msg, peer, open)
		}
	} else {
		changed = e.index.Observe(msg, peer, open)
	}
	if changed {
		e.emitConversations()
	}

	if _, known := e.dir.Lookup(peer); !known && !e.resolving[peer] {
		e.resolving[peer] = true
		e.resolvePeer(peer)
	}
}

// resolvePeer fetches a profile for a peer seen only through a message.
// An unknown user is not retried; a failed read is retried on the next
// message from that peer.
func (e *Engine) resolvePeer(peer string) {
	e.async(func(ctx context.Context) func() {
		u, err := e.dir.FetchUser(ctx, peer)
		if errors.Is(err, apperrors.ErrNotFound) {
			e.log.Debug("message from unknown user", zap.String("peer", peer))
			return nil
		}
		if err != nil {
			e.log.Debug("peer lookup failed", zap.String("peer", peer), zap.Error(err))
			return func() { delete(e.resolving, peer) }
		}
		return func() {
			delete(e.resolving, peer)
			e.dir.Announce(u)
			e.index.Announce(u)
			e.emitConversations()
		}
	})
}

// Thread returns the cached thread for peer.
func (e *Engine) Thread(ctx context.Context, peer string) (thread.Thread, bool, error) {
	var (
		th thread.Thread
		ok bool
	)
	err := e.do(ctx, func() { th, ok = e.threads.Thread(peer) })
	return th, ok, err
}

// Conversations lists the summaries in display order.
func (e *Engine) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	err := e.do(ctx, func() { out = e.index.List() })
	return out, err
}

// Search filters conversations by peer label without touching any state.
func (e *Engine) Search(ctx context.Context, query string) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	err := e.do(ctx, func() { out = e.index.Search(query) })
	return out, err
}

// SetOnline records a peer's online flag.
func (e *Engine) SetOnline(ctx context.Context, peer string, online bool) error {
	var found bool
	err := e.do(ctx, func() {
		if !e.dir.SetOnline(peer, online) {
			return
		}
		found = true
		u, _ := e.dir.Lookup(peer)
		e.index.Announce(u)
		e.emitConversations()
	})
	if err != nil {
		return err
	}
	if !found {
		return &apperrors.NotFoundError{Kind: "user", Key: peer}
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID tags ctx so background work started from it can be
// correlated in audit events.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Status describes the live feed.
type Status struct {
	Degraded   bool      `json:"degraded"`
	Error      string    `json:"error,omitempty"`
	Open       string    `json:"open,omitempty"`
	LastFeedAt time.Time `json:"last_feed_at,omitempty"`
	Reconciles int       `json:"reconciles"`
	Cached     []string  `json:"cached,omitempty"`
}

func (e *Engine) status() Status {
	s := Status{Open: e.open, LastFeedAt: e.lastFeedAt, Reconciles: e.reconciles, Cached: e.threads.Peers()}
	if e.degraded != nil {
		s.Degraded = true
		s.Error = e.degraded.Error()
	}
	return s
}

// Status reports the feed state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var s Status
	err := e.do(ctx, func() { s = e.status() })
	return s, err
}
