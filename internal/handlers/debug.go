package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/engine"
	"chat-sync/internal/models"
	"chat-sync/internal/telemetry"
)

type debugEngine interface {
	Conversations(ctx context.Context) ([]models.ConversationSummary, error)
	Status(ctx context.Context) (engine.Status, error)
}

// RegisterDebugRoutes wires debug-only endpoints. Either dependency may be nil.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, eng debugEngine, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.Event{
			Action:    telemetry.EventAuditTest,
			Text:      "audit test",
			RequestID: requestIDFromContext(c),
			UserID:    userIDFromContext(c),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// engine snapshot: feed state plus unread totals
	router.GET("/debug/engine", func(c *gin.Context) {
		if eng == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not running"})
			return
		}
		status, err := eng.Status(c.Request.Context())
		if err != nil {
			respondError(c, err, "engine unavailable")
			return
		}
		list, err := eng.Conversations(c.Request.Context())
		if err != nil {
			respondError(c, err, "engine unavailable")
			return
		}
		unread, withMessages := 0, 0
		for _, s := range list {
			unread += s.UnreadCount
			if s.LastMessage != nil {
				withMessages++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        status,
			"conversations": len(list),
			"with_messages": withMessages,
			"unread_total":  unread,
		})
	})
}
