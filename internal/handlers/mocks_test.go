package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/engine"
	"chat-sync/internal/models"
	"chat-sync/internal/session"
	"chat-sync/internal/thread"
)

type engineMock struct {
	mock.Mock
}

func (m *engineMock) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]models.ConversationSummary)
	return list, args.Error(1)
}

func (m *engineMock) Search(ctx context.Context, query string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, query)
	list, _ := args.Get(0).([]models.ConversationSummary)
	return list, args.Error(1)
}

func (m *engineMock) Open(ctx context.Context, peer string) (thread.Thread, error) {
	args := m.Called(ctx, peer)
	th, _ := args.Get(0).(thread.Thread)
	return th, args.Error(1)
}

func (m *engineMock) Close(ctx context.Context, peer string) error {
	return m.Called(ctx, peer).Error(0)
}

func (m *engineMock) Thread(ctx context.Context, peer string) (thread.Thread, bool, error) {
	args := m.Called(ctx, peer)
	th, _ := args.Get(0).(thread.Thread)
	return th, args.Bool(1), args.Error(2)
}

func (m *engineMock) Send(ctx context.Context, peer, body string) (models.Message, error) {
	args := m.Called(ctx, peer, body)
	msg, _ := args.Get(0).(models.Message)
	return msg, args.Error(1)
}

func (m *engineMock) Resend(ctx context.Context, peer, id string) (models.Message, error) {
	args := m.Called(ctx, peer, id)
	msg, _ := args.Get(0).(models.Message)
	return msg, args.Error(1)
}

func (m *engineMock) SetOnline(ctx context.Context, peer string, online bool) error {
	return m.Called(ctx, peer, online).Error(0)
}

func (m *engineMock) Friends(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]models.User)
	return users, args.Error(1)
}

func (m *engineMock) AddFriend(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(models.User)
	return u, args.Error(1)
}

func (m *engineMock) RemoveFriend(ctx context.Context, friendID string) error {
	return m.Called(ctx, friendID).Error(0)
}

func (m *engineMock) Status(ctx context.Context) (engine.Status, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(engine.Status)
	return s, args.Error(1)
}

func (m *engineMock) Reconcile(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type sessionsMock struct {
	mock.Mock
}

func (m *sessionsMock) Current(ctx context.Context, raw string) (session.Session, error) {
	args := m.Called(ctx, raw)
	s, _ := args.Get(0).(session.Session)
	return s, args.Error(1)
}

func (m *sessionsMock) SignOut(ctx context.Context, raw string) error {
	return m.Called(ctx, raw).Error(0)
}
