package ws

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat-sync/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ConnInfo identifies one websocket connection in published events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

func newConnInfo(c *gin.Context, userID, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

// attach registers conn in room and keeps it until the peer goes away.
// Clients only listen; anything they send is discarded.
func (h *Hub) attach(kind, room string, conn *websocket.Conn, info ConnInfo) {
	h.AddClient(kind, room, conn, info)
	observability.IncWSActive(kind)
	h.publishConnEvent(kind, room, info, "ws_connect", "")

	go func() {
		var closeReason string
		defer func() {
			h.RemoveClient(kind, room, conn)
			observability.DecWSActive(kind)
			h.publishConnEvent(kind, room, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.publishConnEvent(kind, room, info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}
