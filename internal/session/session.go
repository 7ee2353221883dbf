// Package session issues and validates the bearer tokens that identify the
// local user, and resolves them to a profile.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrRevoked      = errors.New("session signed out")
)

const DefaultTTL = 24 * time.Hour

// Claims is the JWT payload of a session token.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Session is a validated token plus the profile it belongs to.
type Session struct {
	TokenID string      `json:"-"`
	User    models.User `json:"user"`
	Expires time.Time   `json:"expires_at"`
}

type Manager struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	sessions repositories.SessionRepository
	users    repositories.UserRepository
	now      func() time.Time
}

func NewManager(secret, issuer string, ttl time.Duration, sessions repositories.SessionRepository, users repositories.UserRepository) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		secret:   []byte(secret),
		issuer:   issuer,
		ttl:      ttl,
		sessions: sessions,
		users:    users,
		now:      time.Now,
	}
}

// Issue signs a new HS256 token for userID.
func (m *Manager) Issue(userID string) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses raw and rejects expired, forged or signed-out tokens.
func (m *Manager) Validate(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuer(m.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	revoked, err := m.sessions.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

// Current validates raw and loads the session's profile.
func (m *Manager) Current(ctx context.Context, raw string) (Session, error) {
	claims, err := m.Validate(ctx, raw)
	if err != nil {
		return Session{}, err
	}
	user, err := m.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return Session{}, fmt.Errorf("load profile: %w", err)
	}
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return Session{TokenID: claims.ID, User: user, Expires: expires}, nil
}

// SignOut revokes the token. Signing out twice succeeds.
func (m *Manager) SignOut(ctx context.Context, raw string) error {
	claims, err := m.Validate(ctx, raw)
	if errors.Is(err, ErrRevoked) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.sessions.Revoke(ctx, claims.ID)
}
