package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/session"
	"chat-sync/internal/telemetry"
)

// Sessions resolves and revokes bearer tokens.
type Sessions interface {
	Current(ctx context.Context, raw string) (session.Session, error)
	SignOut(ctx context.Context, raw string) error
}

type SessionHandler struct {
	sessions Sessions
	audit    *telemetry.AuditEmitter
}

func NewSessionHandler(sessions Sessions, audit *telemetry.AuditEmitter) *SessionHandler {
	return &SessionHandler{sessions: sessions, audit: audit}
}

// Me returns the signed-in user's profile.
func (h *SessionHandler) Me(c *gin.Context) {
	s, err := h.sessions.Current(c.Request.Context(), c.GetString("token"))
	if errors.Is(err, session.ErrInvalidToken) || errors.Is(err, session.ErrRevoked) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": s.User, "avatar": s.User.Avatar(), "expires_at": s.Expires})
}

// SignOut revokes the caller's token.
func (h *SessionHandler) SignOut(c *gin.Context) {
	if err := h.sessions.SignOut(c.Request.Context(), c.GetString("token")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign out"})
		return
	}
	h.audit.Emit(c.Request.Context(), telemetry.Event{
		Action:    telemetry.EventSignedOut,
		Text:      "user signed out",
		RequestID: requestIDFromContext(c),
		UserID:    userIDFromContext(c),
	})
	c.Status(http.StatusNoContent)
}
