package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
)

// Room kinds.
const (
	KindUpdates = "updates"
	KindFeed    = "feed"
)

const writeTimeout = 10 * time.Second

type client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	if c.conn == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains active websocket rooms. A room is one user's stream of a
// given kind.
type Hub struct {
	rooms  map[string]map[string]map[*websocket.Conn]*client
	events rabbitmq.HeaderPublisher
	log    *zap.Logger
	mu     sync.RWMutex
}

// NewHub creates an empty hub. Connection events go to events when set.
func NewHub(events rabbitmq.HeaderPublisher, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[string]map[*websocket.Conn]*client),
		events: events,
		log:    log,
	}
}

// AddClient registers a websocket connection to room.
func (h *Hub) AddClient(kind, room string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byRoom, ok := h.rooms[kind]
	if !ok {
		byRoom = make(map[string]map[*websocket.Conn]*client)
		h.rooms[kind] = byRoom
	}
	if _, ok := byRoom[room]; !ok {
		byRoom[room] = make(map[*websocket.Conn]*client)
	}
	byRoom[room][conn] = &client{conn: conn, info: info}
}

// RemoveClient removes a websocket connection.
func (h *Hub) RemoveClient(kind, room string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byRoom, ok := h.rooms[kind]
	if !ok {
		return
	}
	if conns, ok := byRoom[room]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(byRoom, room)
		}
	}
	if len(byRoom) == 0 {
		delete(h.rooms, kind)
	}
}

// Count returns the number of connections in room.
func (h *Hub) Count(kind, room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[kind][room])
}

// Broadcast sends event as JSON to every client in room. Clients that fail
// the write are dropped.
func (h *Hub) Broadcast(kind, room string, event any) int {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("websocket event encode failed", zap.String("kind", kind), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[kind][room]))
	for _, cl := range h.rooms[kind][room] {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()

	sent := 0
	for _, cl := range clients {
		if err := cl.write(payload); err != nil {
			h.log.Warn("websocket write error", zap.String("kind", kind), zap.String("room", room), zap.Error(err))
			cl.conn.Close()
			h.RemoveClient(kind, room, cl.conn)
			h.publishConnEvent(kind, room, cl.info, "ws_error", err.Error())
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) publishConnEvent(kind, room string, info ConnInfo, event, reason string) {
	observability.IncWSEvent(kind, event)
	if h.events == nil {
		return
	}
	payload := map[string]interface{}{
		"event_type": "ws_events",
		"event_name": event,
		"payload": map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        kind,
				"room":        room,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	if err := h.events.PublishWithHeaders(context.Background(), wsRoutingKey(kind), payload, headers); err != nil {
		h.log.Debug("ws event publish failed", zap.String("event", event), zap.Error(err))
	}
}

func wsRoutingKey(kind string) string {
	return "ws_events." + kind
}
