package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// FeedFrame is the wire shape of one relayed row.
type FeedFrame struct {
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

// FeedHandler serves a user's relayed message stream to remote engines.
type FeedHandler struct {
	hub *Hub
}

func NewFeedHandler(hub *Hub) *FeedHandler {
	return &FeedHandler{hub: hub}
}

// Handle upgrades /ws/feed?user_id=. The caller may only follow its own
// stream.
func (h *FeedHandler) Handle(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if authed := c.GetString("userID"); authed != "" && authed != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for feed"})
		return
	}

	_, span := observability.Tracer().Start(c.Request.Context(), "ws.feed.handshake")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h.hub.attach(KindFeed, userID, conn, newConnInfo(c, userID, span.SpanContext().TraceID().String()))
}

// Publisher pushes relayed rows to feed rooms. It is a feed.Publisher.
type Publisher struct {
	hub *Hub
}

func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub}
}

func (p *Publisher) Name() string { return "websocket" }

func (p *Publisher) Publish(_ context.Context, userID string, msg models.Message) error {
	p.hub.Broadcast(KindFeed, userID, FeedFrame{Type: "message", Message: msg})
	return nil
}

func writeJSON(cl *client, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return cl.write(payload)
}
