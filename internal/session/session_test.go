package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

func newManager() (*Manager, *mocks.SessionRepositoryMock, *mocks.UserRepositoryMock) {
	sessions := new(mocks.SessionRepositoryMock)
	users := new(mocks.UserRepositoryMock)
	return NewManager("test-secret", "chat-sync", time.Hour, sessions, users), sessions, users
}

func TestIssueAndCurrent(t *testing.T) {
	m, sessions, users := newManager()
	sessions.On("IsRevoked", mock.Anything, mock.Anything).Return(false, nil)
	users.On("GetUser", mock.Anything, "U1").Return(models.User{ID: "U1", DisplayName: "Alice"}, nil)

	token, err := m.Issue("U1")
	require.NoError(t, err)

	s, err := m.Current(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Alice", s.User.DisplayName)
	assert.NotEmpty(t, s.TokenID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.Expires, time.Minute)
}

func TestValidateRejects(t *testing.T) {
	m, sessions, _ := newManager()
	sessions.On("IsRevoked", mock.Anything, mock.Anything).Return(false, nil)

	_, err := m.Validate(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewManager("other-secret", "chat-sync", time.Hour, sessions, nil)
	forged, err := other.Issue("U1")
	require.NoError(t, err)
	_, err = m.Validate(context.Background(), forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := m.Issue("U1")
	require.NoError(t, err)
	m.now = time.Now
	_, err = m.Validate(context.Background(), expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignOutRevokes(t *testing.T) {
	m, sessions, _ := newManager()
	token, err := m.Issue("U1")
	require.NoError(t, err)

	sessions.On("IsRevoked", mock.Anything, mock.Anything).Return(false, nil).Once()
	sessions.On("Revoke", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, m.SignOut(context.Background(), token))

	sessions.On("IsRevoked", mock.Anything, mock.Anything).Return(true, nil)
	_, err = m.Validate(context.Background(), token)
	assert.ErrorIs(t, err, ErrRevoked)

	// second sign-out is a no-op
	require.NoError(t, m.SignOut(context.Background(), token))
	sessions.AssertNumberOfCalls(t, "Revoke", 1)
}
