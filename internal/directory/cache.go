// Package directory caches the peers known to the local user.
package directory

import (
	"context"
	"errors"
	"sort"
	"strings"

	"chat-sync/internal/apperrors"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

// UserFetcher is the slice of the user directory the cache reads from.
type UserFetcher interface {
	ListUsersExcept(ctx context.Context, userID string) ([]models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// Cache holds peers by id. It is not safe for concurrent use.
type Cache struct {
	localID string
	users   UserFetcher
	peers   map[string]models.User
}

// NewCache builds an empty cache for localID.
func NewCache(localID string, users UserFetcher) *Cache {
	return &Cache{localID: localID, users: users, peers: make(map[string]models.User)}
}

// Fetch reads all peers from storage without touching the cache.
func (c *Cache) Fetch(ctx context.Context) ([]models.User, error) {
	users, err := c.users.ListUsersExcept(ctx, c.localID)
	if err != nil {
		return nil, apperrors.Fetch("list users", err)
	}
	return users, nil
}

// Replace swaps the cache contents for users, keeping known online flags.
func (c *Cache) Replace(users []models.User) {
	next := make(map[string]models.User, len(users))
	for _, u := range users {
		if u.ID == c.localID {
			continue
		}
		if prev, ok := c.peers[u.ID]; ok && !u.Online {
			u.Online = prev.Online
		}
		next[u.ID] = u
	}
	c.peers = next
}

// Announce adds or updates a single peer.
func (c *Cache) Announce(u models.User) {
	if u.ID == "" || u.ID == c.localID {
		return
	}
	if prev, ok := c.peers[u.ID]; ok && !u.Online {
		u.Online = prev.Online
	}
	c.peers[u.ID] = u
}

// FetchUser reads one peer from storage without touching the cache. The
// caller announces the result.
func (c *Cache) FetchUser(ctx context.Context, id string) (models.User, error) {
	u, err := c.users.GetUser(ctx, id)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, &apperrors.NotFoundError{Kind: "user", Key: id}
	}
	if err != nil {
		return models.User{}, apperrors.Fetch("get user "+id, err)
	}
	return u, nil
}

// Lookup returns a cached peer.
func (c *Cache) Lookup(id string) (models.User, bool) {
	u, ok := c.peers[id]
	return u, ok
}

// SetOnline records the online flag supplied by the session layer.
func (c *Cache) SetOnline(id string, online bool) bool {
	u, ok := c.peers[id]
	if !ok {
		return false
	}
	u.Online = online
	c.peers[id] = u
	return true
}

// All returns the peers ordered by label.
func (c *Cache) All() []models.User {
	out := make([]models.User, 0, len(c.peers))
	for _, u := range c.peers {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Label()), strings.ToLower(out[j].Label())
		if li != lj {
			return li < lj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
