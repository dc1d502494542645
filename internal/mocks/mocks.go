package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chatroom-service/internal/models"
	"chatroom-service/internal/repositories"
)

type SessionStoreMock struct {
	mock.Mock
}

func (m *SessionStoreMock) Register(ctx context.Context, username, accessCode string) (models.User, error) {
	args := m.Called(ctx, username, accessCode)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *SessionStoreMock) Login(ctx context.Context, username, credential string) (models.Session, error) {
	args := m.Called(ctx, username, credential)
	var session models.Session
	if val := args.Get(0); val != nil {
		session = val.(models.Session)
	}
	return session, args.Error(1)
}

func (m *SessionStoreMock) Validate(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *SessionStoreMock) Logout(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *SessionStoreMock) UserExists(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

func (m *SessionStoreMock) ListUsernames(ctx context.Context, exclude string) ([]string, error) {
	args := m.Called(ctx, exclude)
	var names []string
	if val := args.Get(0); val != nil {
		names = val.([]string)
	}
	return names, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, author, text, kind string, scope models.Scope, recipient string) (models.Message, error) {
	args := m.Called(ctx, author, text, kind, scope, recipient)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Edit(ctx context.Context, messageID int64, newText string) error {
	args := m.Called(ctx, messageID, newText)
	return args.Error(0)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID int64) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) Recent(ctx context.Context, q repositories.RecentQuery) ([]models.Message, error) {
	args := m.Called(ctx, q)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) GetByID(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, reader, sender string) (int64, error) {
	args := m.Called(ctx, reader, sender)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCountFor(ctx context.Context, username string) (int, error) {
	args := m.Called(ctx, username)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCountsPerSender(ctx context.Context, username string) (map[string]int, error) {
	args := m.Called(ctx, username)
	var counts map[string]int
	if val := args.Get(0); val != nil {
		counts = val.(map[string]int)
	}
	return counts, args.Error(1)
}

func (m *MessageRepositoryMock) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// ReadNotifierMock stands in for the websocket gateway in HTTP handler tests.
type ReadNotifierMock struct {
	mock.Mock
}

func (m *ReadNotifierMock) MarkRead(ctx context.Context, reader, sender string) (int64, error) {
	args := m.Called(ctx, reader, sender)
	return args.Get(0).(int64), args.Error(1)
}

var _ repositories.SessionStore = (*SessionStoreMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
