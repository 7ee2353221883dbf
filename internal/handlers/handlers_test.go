package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/apperrors"
	"chat-sync/internal/engine"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/session"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/thread"
)

func setupRouter(e Engine, s Sessions, audit *telemetry.AuditEmitter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	auth := func(c *gin.Context) {
		c.Set("userID", "U1")
		c.Set("token", "tok")
		c.Next()
	}
	RegisterRoutes(r, auth, NewSyncHandler(e), NewFriendHandler(e), NewSessionHandler(s, audit))
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListConversationsSuccess(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("Conversations", mock.Anything).Return([]models.ConversationSummary{{Peer: models.User{ID: "U2"}, UnreadCount: 3}}, nil).Once()

	rec := do(r, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, 3, resp.Conversations[0].UnreadCount)
	e.AssertExpectations(t)
}

func TestSearchPassesQuery(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("Search", mock.Anything, "bo").Return([]models.ConversationSummary{}, nil).Once()

	rec := do(r, http.MethodGet, "/api/conversations/search?q=bo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	e.AssertExpectations(t)
}

func TestOpenThreadFetchErrorIsBadGateway(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("Open", mock.Anything, "U2").Return(nil, apperrors.Fetch("load thread U2", assert.AnError)).Once()

	rec := do(r, http.MethodPost, "/api/threads/U2/open", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	e.AssertExpectations(t)
}

func TestOpenThreadReturnsMessages(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("Open", mock.Anything, "U2").Return(thread.Thread{{ID: "m1", SenderID: "U2", ReceiverID: "U1", Body: "hi"}}, nil).Once()

	rec := do(r, http.MethodPost, "/api/threads/U2/open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hi", resp.Messages[0].Body)
}

func TestGetThreadNotLoaded(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("Thread", mock.Anything, "U2").Return(nil, false, nil).Once()

	rec := do(r, http.MethodGet, "/api/threads/U2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"loaded":false,"messages":[]}`, rec.Body.String())
}

func TestPostMessageAccepted(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("Send", mock.Anything, "U2", "hello").Return(models.Message{ID: "local-1", Status: models.StatusPending}, nil).Once()

	rec := do(r, http.MethodPost, "/api/threads/U2/messages", `{"content":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "local-1")
	e.AssertExpectations(t)
}

func TestPostMessageValidation(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("Send", mock.Anything, "U2", " ").Return(nil, &apperrors.ValidationError{Field: "body", Reason: "message is empty"}).Once()

	rec := do(r, http.MethodPost, "/api/threads/U2/messages", `{"content":" "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"body"`)

	rec = do(r, http.MethodPost, "/api/threads/U2/messages", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResendUnknownIsNotFound(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("Resend", mock.Anything, "U2", "local-9").Return(nil, &apperrors.NotFoundError{Kind: "failed message", Key: "local-9"}).Once()

	rec := do(r, http.MethodPost, "/api/threads/U2/messages/local-9/resend", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetPresenceRequiresFlag(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("SetOnline", mock.Anything, "U2", false).Return(nil).Once()

	rec := do(r, http.MethodPut, "/api/users/U2/presence", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(r, http.MethodPut, "/api/users/U2/presence", `{"online":false}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	e.AssertExpectations(t)
}

func TestStatusAndSync(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("Status", mock.Anything).Return(engine.Status{Degraded: true, Error: "feed down"}, nil).Once()
	e.On("Reconcile", mock.Anything).Return(apperrors.Fetch("messages since", assert.AnError)).Once()

	rec := do(r, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded":true`)

	rec = do(r, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	e.AssertExpectations(t)
}

func TestAddFriendOutcomes(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	bob := models.User{ID: "U2", Email: "bob@example.com"}
	e.On("AddFriend", mock.Anything, "bob@example.com").Return(bob, nil).Once()
	e.On("AddFriend", mock.Anything, "bob@example.com").Return(bob, &apperrors.AlreadyExistsError{UserID: "U1", FriendID: "U2"}).Once()
	e.On("AddFriend", mock.Anything, "me@example.com").Return(nil, &apperrors.SelfReferenceError{UserID: "U1"}).Once()
	e.On("AddFriend", mock.Anything, "ghost@example.com").Return(nil, &apperrors.NotFoundError{Kind: "user", Key: "ghost@example.com"}).Once()

	rec := do(r, http.MethodPost, "/api/friends", `{"email":"bob@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(r, http.MethodPost, "/api/friends", `{"email":"bob@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"notice"`)

	rec = do(r, http.MethodPost, "/api/friends", `{"email":"me@example.com"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(r, http.MethodPost, "/api/friends", `{"email":"ghost@example.com"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodPost, "/api/friends", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e.AssertExpectations(t)
}

func TestRemoveFriendAndList(t *testing.T) {
	e := new(engineMock)
	r := setupRouter(e, nil, nil)
	e.On("RemoveFriend", mock.Anything, "U2").Return(nil).Once()
	e.On("Friends", mock.Anything).Return(nil, apperrors.Fetch("list friends", assert.AnError)).Once()

	rec := do(r, http.MethodDelete, "/api/friends/U2", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(r, http.MethodGet, "/api/friends", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	e.AssertExpectations(t)
}

func TestSessionMe(t *testing.T) {
	s := new(sessionsMock)
	r := setupRouter(new(engineMock), s, nil)
	s.On("Current", mock.Anything, "tok").Return(session.Session{User: models.User{ID: "U1", DisplayName: "Alice"}}, nil).Once()
	s.On("Current", mock.Anything, "tok").Return(nil, session.ErrRevoked).Once()

	rec := do(r, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ui-avatars.com")

	rec = do(r, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	s.AssertExpectations(t)
}

func TestSignOutEmitsAudit(t *testing.T) {
	s := new(sessionsMock)
	pub := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(pub, "audit.chat", "chat-sync", "test", nil)
	r := setupRouter(new(engineMock), s, audit)

	s.On("SignOut", mock.Anything, "tok").Return(nil).Once()
	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == telemetry.EventSignedOut && env.UserID != nil && *env.UserID == "U1"
	})).Return(nil).Once()

	rec := do(r, http.MethodPost, "/api/session/sign-out", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	s.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDebugRoutes(t *testing.T) {
	r := gin.New()
	RegisterDebugRoutes(r, nil, nil, false)
	rec := do(r, http.MethodGet, "/debug/audit-test", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e := new(engineMock)
	e.On("Status", mock.Anything).Return(engine.Status{}, nil).Once()
	e.On("Conversations", mock.Anything).Return([]models.ConversationSummary{
		{Peer: models.User{ID: "U2"}, UnreadCount: 2, LastMessage: &models.Message{ID: "m1"}},
		{Peer: models.User{ID: "U3"}},
	}, nil).Once()

	r = gin.New()
	RegisterDebugRoutes(r, nil, e, true)
	rec = do(r, http.MethodGet, "/debug/audit-test", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(r, http.MethodGet, "/debug/engine", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.EqualValues(t, 2, resp["conversations"])
	assert.EqualValues(t, 1, resp["with_messages"])
	assert.EqualValues(t, 2, resp["unread_total"])
	e.AssertExpectations(t)
}
