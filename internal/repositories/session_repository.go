package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// SessionRepository records signed-out session tokens.
type SessionRepository interface {
	Revoke(ctx context.Context, tokenID string) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// SessionRepo is a sqlx implementation of SessionRepository.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Revoke invalidates a token id. Revoking twice is a no-op.
func (r *SessionRepo) Revoke(ctx context.Context, tokenID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO revoked_sessions (token_id, revoked_at) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		tokenID, time.Now().UTC())
	return err
}

// IsRevoked checks whether a token id was signed out.
func (r *SessionRepo) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM revoked_sessions WHERE token_id=?)`), tokenID)
	return exists, err
}
