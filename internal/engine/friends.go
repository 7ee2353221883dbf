package engine

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"chat-sync/internal/apperrors"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/telemetry"
)

// Friends returns the cached friend list ordered by label.
func (e *Engine) Friends(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := e.do(ctx, func() { out = e.friendList() })
	return out, err
}

func (e *Engine) friendList() []models.User {
	out := make([]models.User, 0, len(e.friendSet))
	for id, u := range e.friendSet {
		if known, ok := e.dir.Lookup(id); ok {
			u = known
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Label()), strings.ToLower(out[j].Label())
		if li != lj {
			return li < lj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AddFriend befriends the user registered under email. An existing
// friendship returns the friend with an AlreadyExistsError.
func (e *Engine) AddFriend(ctx context.Context, email string) (models.User, error) {
	ctx, span := observability.Tracer().Start(ctx, "engine.add_friend")
	defer span.End()

	friend, err := e.registry.Add(ctx, email)
	if err != nil && !errors.Is(err, apperrors.ErrAlreadyExists) {
		span.RecordError(err)
		return models.User{}, err
	}
	span.SetAttributes(attribute.String("friend_id", friend.ID))

	if doErr := e.do(e.runCtx, func() {
		e.friendSet[friend.ID] = friend
		e.dir.Announce(friend)
		if e.cfg.FriendGating {
			e.ensureVisible()
			e.emitConversations()
		}
		e.emitFriends()
	}); doErr != nil {
		return models.User{}, doErr
	}
	if err == nil {
		e.auditFriend(ctx, telemetry.EventFriendAdded, "friend added", friend.ID)
	}
	return friend, err
}

// RemoveFriend drops the friendship with friendID. Removing a stranger
// succeeds.
func (e *Engine) RemoveFriend(ctx context.Context, friendID string) error {
	ctx, span := observability.Tracer().Start(ctx, "engine.remove_friend")
	defer span.End()
	span.SetAttributes(attribute.String("friend_id", friendID))

	if err := e.registry.Remove(ctx, friendID); err != nil {
		span.RecordError(err)
		return err
	}
	if err := e.do(e.runCtx, func() {
		delete(e.friendSet, friendID)
		if e.cfg.FriendGating {
			e.ensureVisible()
			e.emitConversations()
		}
		e.emitFriends()
	}); err != nil {
		return err
	}
	e.auditFriend(ctx, telemetry.EventFriendRemoved, "friend removed", friendID)
	return nil
}

func (e *Engine) auditFriend(ctx context.Context, action, text, friendID string) {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	e.audit.Emit(ctx, telemetry.Event{
		Action:    action,
		Text:      text,
		RequestID: requestID,
		UserID:    e.cfg.LocalID,
		Fields:    map[string]string{"friend_id": friendID},
	})
}
