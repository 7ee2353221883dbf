package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

// FriendRepository stores friend edges. Pair operations touch both directions.
type FriendRepository interface {
	AddPair(ctx context.Context, userID, friendID string) error
	RemovePair(ctx context.Context, userID, friendID string) error
	EdgeState(ctx context.Context, userID, friendID string) (forward bool, backward bool, err error)
	ListFriends(ctx context.Context, userID string) ([]models.User, error)
}

// FriendRepo is a sqlx implementation of FriendRepository.
type FriendRepo struct {
	db *sqlx.DB
}

// NewFriendRepo constructs a FriendRepo.
func NewFriendRepo(db *sqlx.DB) *FriendRepo {
	return &FriendRepo{db: db}
}

// AddPair inserts (user, friend) and (friend, user) atomically. Directions
// that already exist are left untouched, which also repairs a half edge.
func (r *FriendRepo) AddPair(ctx context.Context, userID, friendID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	insert := tx.Rebind(`INSERT INTO friends (user_id, friend_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`)
	if _, err = tx.ExecContext(ctx, insert, userID, friendID, now); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, insert, friendID, userID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// RemovePair deletes both directions in one statement. Missing rows are not an error.
func (r *FriendRepo) RemovePair(ctx context.Context, userID, friendID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM friends
        WHERE (user_id=? AND friend_id=?) OR (user_id=? AND friend_id=?)`),
		userID, friendID, friendID, userID)
	return err
}

// EdgeState reports which directions of the edge exist.
func (r *FriendRepo) EdgeState(ctx context.Context, userID, friendID string) (bool, bool, error) {
	var edges []models.FriendEdge
	err := r.db.SelectContext(ctx, &edges, r.db.Rebind(`SELECT user_id, friend_id, created_at FROM friends
        WHERE (user_id=? AND friend_id=?) OR (user_id=? AND friend_id=?)`),
		userID, friendID, friendID, userID)
	if err != nil {
		return false, false, err
	}
	var forward, backward bool
	for _, e := range edges {
		if e.UserID == userID {
			forward = true
		} else {
			backward = true
		}
	}
	return forward, backward, nil
}

// ListFriends returns the users the given user is friends with.
func (r *FriendRepo) ListFriends(ctx context.Context, userID string) ([]models.User, error) {
	users := []models.User{}
	err := r.db.SelectContext(ctx, &users, r.db.Rebind(`SELECT u.id, u.display_name, u.email, u.avatar_url FROM friends f
        INNER JOIN users u ON u.id = f.friend_id
        WHERE f.user_id=? ORDER BY u.display_name ASC, u.email ASC`), userID)
	return users, err
}
