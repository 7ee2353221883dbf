package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/session"
)

// TokenValidator checks a bearer token.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*session.Claims, error)
}

// AuthMiddleware validates the Authorization header (or the token query
// parameter used by websocket clients). When localID is set only that user
// may call the API.
func AuthMiddleware(validator TokenValidator, localID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := validator.Validate(c.Request.Context(), raw)
		if errors.Is(err, session.ErrRevoked) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session signed out"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if localID != "" && claims.UserID != localID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token belongs to another user"})
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("token", raw)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("token"); q != "" {
			return q, true
		}
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
