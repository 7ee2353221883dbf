package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/engine"
	"chat-sync/internal/models"
	"chat-sync/internal/thread"
)

// Engine is the sync engine as seen by the local API.
type Engine interface {
	Conversations(ctx context.Context) ([]models.ConversationSummary, error)
	Search(ctx context.Context, query string) ([]models.ConversationSummary, error)
	Open(ctx context.Context, peer string) (thread.Thread, error)
	Close(ctx context.Context, peer string) error
	Thread(ctx context.Context, peer string) (thread.Thread, bool, error)
	Send(ctx context.Context, peer, body string) (models.Message, error)
	Resend(ctx context.Context, peer, id string) (models.Message, error)
	SetOnline(ctx context.Context, peer string, online bool) error
	Friends(ctx context.Context) ([]models.User, error)
	AddFriend(ctx context.Context, email string) (models.User, error)
	RemoveFriend(ctx context.Context, friendID string) error
	Status(ctx context.Context) (engine.Status, error)
	Reconcile(ctx context.Context) error
}

// SyncHandler serves conversation and thread endpoints.
type SyncHandler struct {
	engine Engine
}

func NewSyncHandler(e Engine) *SyncHandler {
	return &SyncHandler{engine: e}
}

// ListConversations returns the conversation list in display order.
func (h *SyncHandler) ListConversations(c *gin.Context) {
	list, err := h.engine.Conversations(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to load conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// SearchConversations filters the list by peer name. An empty query returns everything.
func (h *SyncHandler) SearchConversations(c *gin.Context) {
	list, err := h.engine.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, err, "failed to search conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// OpenThread selects a conversation and returns its loaded history.
func (h *SyncHandler) OpenThread(c *gin.Context) {
	th, err := h.engine.Open(requestContext(c), c.Param("peer_id"))
	if err != nil {
		respondError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messagesOrEmpty(th)})
}

func (h *SyncHandler) CloseThread(c *gin.Context) {
	if err := h.engine.Close(c.Request.Context(), c.Param("peer_id")); err != nil {
		respondError(c, err, "failed to close conversation")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetThread returns the cached thread without fetching.
func (h *SyncHandler) GetThread(c *gin.Context) {
	th, loaded, err := h.engine.Thread(c.Request.Context(), c.Param("peer_id"))
	if err != nil {
		respondError(c, err, "failed to read thread")
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": loaded, "messages": messagesOrEmpty(th)})
}

// PostMessage sends optimistically. The response carries the provisional
// entry; its confirmation arrives over the updates stream.
func (h *SyncHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.engine.Send(requestContext(c), c.Param("peer_id"), req.Content)
	if err != nil {
		respondError(c, err, "failed to send message")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}

// ResendMessage retries a failed send.
func (h *SyncHandler) ResendMessage(c *gin.Context) {
	msg, err := h.engine.Resend(requestContext(c), c.Param("peer_id"), c.Param("message_id"))
	if err != nil {
		respondError(c, err, "failed to resend message")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}

// SetPresence records a peer's online flag.
func (h *SyncHandler) SetPresence(c *gin.Context) {
	var req struct {
		Online *bool `json:"online" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.SetOnline(c.Request.Context(), c.Param("user_id"), *req.Online); err != nil {
		respondError(c, err, "failed to update presence")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SyncHandler) GetStatus(c *gin.Context) {
	status, err := h.engine.Status(c.Request.Context())
	if err != nil {
		respondError(c, err, "engine unavailable")
		return
	}
	c.JSON(http.StatusOK, status)
}

// Sync forces a reconcile, the manual refresh of the list view.
func (h *SyncHandler) Sync(c *gin.Context) {
	if err := h.engine.Reconcile(c.Request.Context()); err != nil {
		respondError(c, err, "sync incomplete")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func messagesOrEmpty(th thread.Thread) []models.Message {
	if th == nil {
		return []models.Message{}
	}
	return th
}
