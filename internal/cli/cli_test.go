package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-sync/internal/config"
	"chat-sync/internal/mocks"
	"chat-sync/internal/session"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "relay", "migrate", "token"}, names)
}

func TestBuildSource(t *testing.T) {
	cases := map[string]string{
		config.FeedPostgres: "postgres",
		config.FeedAMQP:     "amqp",
		config.FeedWS:       "ws",
	}
	for driver, name := range cases {
		src, err := buildSource(config.Config{FeedDriver: driver, FeedWSURL: "ws://relay/ws/feed"}, nil, zap.NewNop())
		require.NoError(t, err, driver)
		assert.Equal(t, name, src.Name())
	}

	src, err := buildSource(config.Config{FeedDriver: config.FeedNone}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, src)

	_, err = buildSource(config.Config{FeedDriver: config.FeedRedis}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestResolveLocalUser(t *testing.T) {
	sessions := new(mocks.SessionRepositoryMock)
	sessions.On("IsRevoked", mock.Anything, mock.Anything).Return(false, nil)
	mgr := session.NewManager("s3cret", "chat-sync", time.Hour, sessions, new(mocks.UserRepositoryMock))
	token, err := mgr.Issue("U1")
	require.NoError(t, err)
	ctx := context.Background()

	id, err := resolveLocalUser(ctx, config.Config{LocalUserID: "U7"}, mgr)
	require.NoError(t, err)
	assert.Equal(t, "U7", id)

	id, err = resolveLocalUser(ctx, config.Config{SessionToken: token}, mgr)
	require.NoError(t, err)
	assert.Equal(t, "U1", id)

	_, err = resolveLocalUser(ctx, config.Config{SessionToken: token, LocalUserID: "U2"}, mgr)
	assert.Error(t, err)

	_, err = resolveLocalUser(ctx, config.Config{}, mgr)
	assert.Error(t, err)
}
