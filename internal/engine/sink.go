package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chat-sync/internal/apperrors"
	"chat-sync/internal/feed"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/telemetry"
)

var _ feed.Sink = (*Engine)(nil)

// HandleFeed applies one live event.
func (e *Engine) HandleFeed(ctx context.Context, ev models.FeedEvent) {
	peer := ev.Peer
	if peer == "" {
		peer = models.PeerOf(e.cfg.LocalID, ev.Message)
	}
	err := e.do(ctx, func() {
		if ev.Message.CreatedAt.After(e.lastFeedAt) {
			e.lastFeedAt = ev.Message.CreatedAt
		}
		e.applyMessage(peer, ev.Message)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warn("feed event dropped", zap.String("message_id", ev.Message.ID), zap.Error(err))
	}
}

// Reconcile closes a gap in the feed: it refreshes the directory and the
// friend list, replays messages stored since the last event seen (minus
// the dedup tolerance) and reloads the open thread. Whatever was fetched is
// applied even when another fetch failed.
func (e *Engine) Reconcile(ctx context.Context) error {
	ctx, span := observability.Tracer().Start(ctx, "engine.reconcile")
	defer span.End()

	var open string
	var since time.Time
	if err := e.do(ctx, func() {
		open = e.open
		since = e.lastFeedAt
		if since.IsZero() {
			since = e.startedAt
		}
		since = since.Add(-e.cfg.DedupTolerance)
	}); err != nil {
		return err
	}

	users, dirErr := e.dir.Fetch(ctx)
	friendList, friendErr := e.registry.List(ctx)
	missed, missedErr := e.messages.ListSince(ctx, e.cfg.LocalID, since)
	missedErr = wrapFetch("messages since", missedErr)
	var history []models.Message
	var openErr error
	if open != "" {
		history, openErr = e.threads.Fetch(ctx, open)
	}

	applyErr := e.do(e.runCtx, func() {
		if dirErr == nil {
			e.dir.Replace(users)
			e.resolving = make(map[string]bool)
		}
		if friendErr == nil {
			e.setFriends(friendList)
			e.emitFriends()
		}
		if dirErr == nil || friendErr == nil {
			e.ensureVisible()
		}
		if missedErr == nil {
			for _, m := range missed {
				if m.CreatedAt.After(e.lastFeedAt) {
					e.lastFeedAt = m.CreatedAt
				}
				e.applyMessage(models.PeerOf(e.cfg.LocalID, m), m)
			}
		}
		if open != "" && openErr == nil {
			e.mergeLoaded(open, history)
		}
		e.reconciles++
		e.emitConversations()
	})

	err := errors.Join(dirErr, friendErr, missedErr, openErr, applyErr)
	if err != nil {
		observability.IncFetchError("reconcile")
		span.RecordError(err)
	}
	e.log.Debug("reconciled", zap.Int("missed", len(missed)), zap.String("open", open), zap.Error(err))
	return err
}

// Degraded records that the feed fell back to polling.
func (e *Engine) Degraded(err error) {
	_ = e.do(e.runCtx, func() {
		e.degraded = err
		e.emitStatus()
	})
	e.audit.Emit(e.runCtx, telemetry.Event{
		Level:  "error",
		Action: telemetry.EventFeedDegraded,
		Text:   "live feed degraded to polling",
		UserID: e.cfg.LocalID,
		Fields: map[string]string{"error": err.Error()},
	})
}

// Recovered clears the degraded state.
func (e *Engine) Recovered() {
	_ = e.do(e.runCtx, func() {
		e.degraded = nil
		e.emitStatus()
	})
}

func wrapFetch(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *apperrors.FetchError
	if errors.As(err, &fe) {
		return err
	}
	return apperrors.Fetch(op, err)
}
