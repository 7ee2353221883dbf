package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/apperrors"
)

// FriendHandler serves the friend list endpoints.
type FriendHandler struct {
	engine Engine
}

func NewFriendHandler(e Engine) *FriendHandler {
	return &FriendHandler{engine: e}
}

func (h *FriendHandler) ListFriends(c *gin.Context) {
	friends, err := h.engine.Friends(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to load friends")
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// AddFriend befriends a user by email. An existing friendship is not an
// error for the caller: it gets the friend back with a notice.
func (h *FriendHandler) AddFriend(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	friend, err := h.engine.AddFriend(requestContext(c), req.Email)
	var exists *apperrors.AlreadyExistsError
	switch {
	case errors.As(err, &exists):
		c.JSON(http.StatusOK, gin.H{"friend": friend, "notice": exists.Error()})
	case err != nil:
		respondError(c, err, "failed to add friend")
	default:
		c.JSON(http.StatusCreated, gin.H{"friend": friend})
	}
}

func (h *FriendHandler) RemoveFriend(c *gin.Context) {
	if err := h.engine.RemoveFriend(requestContext(c), c.Param("friend_id")); err != nil {
		respondError(c, err, "failed to remove friend")
		return
	}
	c.Status(http.StatusNoContent)
}
