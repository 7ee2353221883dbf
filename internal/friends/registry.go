// Package friends maintains the local user's symmetric friend edges.
package friends

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"chat-sync/internal/apperrors"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

// Registry adds, removes and lists friends of one local user.
type Registry struct {
	localID string
	friends repositories.FriendRepository
	users   repositories.UserRepository
	log     *zap.Logger
}

func NewRegistry(localID string, friends repositories.FriendRepository, users repositories.UserRepository, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{localID: localID, friends: friends, users: users, log: log}
}

// Add befriends the user registered under email. An edge that already
// exists in both directions yields an AlreadyExistsError carrying the friend;
// an edge found in one direction only is repaired.
func (r *Registry) Add(ctx context.Context, email string) (models.User, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return models.User{}, &apperrors.ValidationError{Field: "email", Reason: "malformed address"}
	}

	friend, err := r.users.GetUserByEmail(ctx, addr.Address)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, &apperrors.NotFoundError{Kind: "user", Key: addr.Address}
	}
	if err != nil {
		return models.User{}, apperrors.Fetch("get user by email", err)
	}
	if friend.ID == r.localID {
		return models.User{}, &apperrors.SelfReferenceError{UserID: r.localID}
	}

	forward, backward, err := r.friends.EdgeState(ctx, r.localID, friend.ID)
	if err != nil {
		return models.User{}, apperrors.Fetch("friend edge state", err)
	}
	if forward && backward {
		return friend, &apperrors.AlreadyExistsError{UserID: r.localID, FriendID: friend.ID}
	}
	if forward != backward {
		r.log.Warn("repairing half friend edge",
			zap.String("user_id", r.localID),
			zap.String("friend_id", friend.ID),
			zap.Bool("forward", forward))
	}
	if err := r.friends.AddPair(ctx, r.localID, friend.ID); err != nil {
		return models.User{}, fmt.Errorf("add friend pair: %w", err)
	}
	return friend, nil
}

// Remove drops both directions. Removing an absent edge is not an error.
func (r *Registry) Remove(ctx context.Context, friendID string) error {
	if strings.TrimSpace(friendID) == "" {
		return &apperrors.ValidationError{Field: "friend_id", Reason: "required"}
	}
	if err := r.friends.RemovePair(ctx, r.localID, friendID); err != nil {
		return fmt.Errorf("remove friend pair: %w", err)
	}
	return nil
}

// List returns the local user's friends.
func (r *Registry) List(ctx context.Context) ([]models.User, error) {
	users, err := r.friends.ListFriends(ctx, r.localID)
	if err != nil {
		return nil, apperrors.Fetch("list friends", err)
	}
	return users, nil
}
