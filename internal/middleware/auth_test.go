package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"chat-sync/internal/session"
)

type validatorFunc func(ctx context.Context, raw string) (*session.Claims, error)

func (f validatorFunc) Validate(ctx context.Context, raw string) (*session.Claims, error) {
	return f(ctx, raw)
}

func setupRouter(v TokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(v, "U1"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("userID")})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	v := validatorFunc(func(ctx context.Context, raw string) (*session.Claims, error) {
		switch raw {
		case "good":
			return &session.Claims{UserID: "U1"}, nil
		case "other":
			return &session.Claims{UserID: "U2"}, nil
		case "revoked":
			return nil, session.ErrRevoked
		default:
			return nil, session.ErrInvalidToken
		}
	})
	router := setupRouter(v)

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"header", "/me", "Bearer good", http.StatusOK},
		{"query", "/me?token=good", "", http.StatusOK},
		{"missing", "/me", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic good", http.StatusUnauthorized},
		{"invalid", "/me", "Bearer nope", http.StatusUnauthorized},
		{"revoked", "/me", "Bearer revoked", http.StatusUnauthorized},
		{"other user", "/me", "Bearer other", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
