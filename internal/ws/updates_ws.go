package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-sync/internal/engine"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// UpdateSource is the part of the engine the UI stream reads.
type UpdateSource interface {
	LocalID() string
	Subscribe() (<-chan engine.Update, func())
	Conversations(ctx context.Context) ([]models.ConversationSummary, error)
	Status(ctx context.Context) (engine.Status, error)
}

// UpdatesHandler streams engine updates to the local UI.
type UpdatesHandler struct {
	hub    *Hub
	engine UpdateSource
	log    *zap.Logger
}

func NewUpdatesHandler(hub *Hub, src UpdateSource, log *zap.Logger) *UpdatesHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &UpdatesHandler{hub: hub, engine: src, log: log}
}

// Pump forwards every engine update to the local user's room until the
// engine stops or ctx is done.
func (h *UpdatesHandler) Pump(ctx context.Context) {
	updates, cancel := h.engine.Subscribe()
	defer cancel()
	room := h.engine.LocalID()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.hub.Broadcast(KindUpdates, room, u)
		}
	}
}

// Handle upgrades the connection, sends the current conversation list and
// feed status, then registers the client for live updates.
func (h *UpdatesHandler) Handle(c *gin.Context) {
	ctx, span := observability.Tracer().Start(c.Request.Context(), "ws.updates.handshake")
	defer span.End()

	list, err := h.engine.Conversations(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}
	status, err := h.engine.Status(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	room := h.engine.LocalID()
	info := newConnInfo(c, room, span.SpanContext().TraceID().String())
	cl := &client{conn: conn, info: info}
	for _, u := range []engine.Update{
		{Kind: engine.UpdateConversations, Conversations: list},
		{Kind: engine.UpdateFeedStatus, Status: &status},
	} {
		if err := writeJSON(cl, u); err != nil {
			h.log.Debug("initial update write failed", zap.Error(err))
			conn.Close()
			return
		}
	}
	h.hub.attach(KindUpdates, room, conn, info)
}
