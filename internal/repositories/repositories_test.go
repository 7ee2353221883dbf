package repositories

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-sync/internal/db"
	"chat-sync/internal/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	database, err := db.Connect(context.Background(), db.DriverSQLite, filepath.Join(t.TempDir(), "chat.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func seedUsers(t *testing.T, repo *UserRepo, users ...models.User) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, repo.CreateUser(context.Background(), u))
	}
}

var (
	alice = models.User{ID: "u1", DisplayName: "Alice", Email: "alice@example.com"}
	bob   = models.User{ID: "u2", DisplayName: "Bob", Email: "Bob@Example.com"}
	carol = models.User{ID: "u3", DisplayName: "Carol", Email: "carol@example.com"}
)

func TestUserRepoLookups(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(newTestDB(t))
	seedUsers(t, repo, alice, bob, carol)

	others, err := repo.ListUsersExcept(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, others, 2)
	assert.Equal(t, "Bob", others[0].DisplayName)
	assert.Equal(t, "Carol", others[1].DisplayName)

	got, err := repo.GetUserByEmail(ctx, "BOB@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.ID)

	_, err = repo.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = repo.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMessageRepoConversationOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepo(newTestDB(t))
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	m1, err := repo.CreateMessage(ctx, "u1", "u2", "hi")
	require.NoError(t, err)
	_, err = repo.CreateMessage(ctx, "u3", "u1", "other thread")
	require.NoError(t, err)
	m3, err := repo.CreateMessage(ctx, "u2", "u1", "hello back")
	require.NoError(t, err)

	msgs, err := repo.ListConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m1.ID, msgs[0].ID)
	assert.Equal(t, m3.ID, msgs[1].ID)
	assert.True(t, msgs[0].CreatedAt.Equal(m1.CreatedAt))

	empty, err := repo.ListConversation(ctx, "u2", "u3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMessageRepoLastMessagesAndSince(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepo(newTestDB(t))
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	_, err := repo.CreateMessage(ctx, "u1", "u2", "first")
	require.NoError(t, err)
	_, err = repo.CreateMessage(ctx, "u2", "u1", "second")
	require.NoError(t, err)
	_, err = repo.CreateMessage(ctx, "u3", "u1", "from carol")
	require.NoError(t, err)

	last, err := repo.LastMessages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "from carol", last[0].Body)
	assert.Equal(t, "second", last[1].Body)

	since, err := repo.ListSince(ctx, "u1", base.Add(90*time.Second))
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "second", since[0].Body)
	assert.Equal(t, "from carol", since[1].Body)
}

func TestFriendRepoPairLifecycle(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	users := NewUserRepo(database)
	seedUsers(t, users, alice, bob)
	repo := NewFriendRepo(database)

	require.NoError(t, repo.AddPair(ctx, "u1", "u2"))
	require.NoError(t, repo.AddPair(ctx, "u1", "u2"))

	var rows int
	require.NoError(t, database.GetContext(ctx, &rows, `SELECT COUNT(*) FROM friends`))
	assert.Equal(t, 2, rows)

	forward, backward, err := repo.EdgeState(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, forward)
	assert.True(t, backward)

	friends, err := repo.ListFriends(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "u1", friends[0].ID)

	require.NoError(t, repo.RemovePair(ctx, "u2", "u1"))
	forward, backward, err = repo.EdgeState(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, forward)
	assert.False(t, backward)

	require.NoError(t, repo.RemovePair(ctx, "u1", "u2"))
}

func TestFriendRepoRepairsHalfEdge(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	repo := NewFriendRepo(database)

	_, err := database.ExecContext(ctx, `INSERT INTO friends (user_id, friend_id, created_at) VALUES (?, ?, ?)`, "u1", "u2", time.Now().UTC())
	require.NoError(t, err)

	forward, backward, err := repo.EdgeState(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, forward)
	assert.False(t, backward)

	require.NoError(t, repo.AddPair(ctx, "u1", "u2"))
	forward, backward, err = repo.EdgeState(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, forward)
	assert.True(t, backward)
}

func TestSessionRepoRevoke(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepo(newTestDB(t))

	revoked, err := repo.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, repo.Revoke(ctx, "tok-1"))
	require.NoError(t, repo.Revoke(ctx, "tok-1"))

	revoked, err = repo.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}
