package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatroom-service/internal/mocks"
	"chatroom-service/internal/models"
)

func TestBroadcastOnlineUsersReachesEveryConnection(t *testing.T) {
	hub := NewHub()
	alice := newTestClient("alice", ClientOptions{})
	bob := newTestClient("bob", ClientOptions{})
	hub.Register(alice, "alice")
	hub.Register(bob, "bob")

	NewPresence(hub, &mocks.MessageRepositoryMock{}).BroadcastOnlineUsers()

	for _, client := range []*Client{alice, bob} {
		frames := drain(client)
		require.Len(t, frames, 1)
		var event models.OnlineUsersEvent
		require.NoError(t, json.Unmarshal([]byte(frames[0]), &event))
		assert.Equal(t, models.EventOnlineUsers, event.Type)
		assert.Equal(t, []string{"alice", "bob"}, event.Users)
	}
}

func TestPushUnreadCountsTargetsOnlyThatUser(t *testing.T) {
	hub := NewHub()
	alice := newTestClient("alice", ClientOptions{})
	bob := newTestClient("bob", ClientOptions{})
	hub.Register(alice, "alice")
	hub.Register(bob, "bob")

	repo := &mocks.MessageRepositoryMock{}
	repo.On("UnreadCountsPerSender", mock.Anything, "bob").Return(map[string]int{"alice": 2}, nil).Once()

	require.NoError(t, NewPresence(hub, repo).PushUnreadCounts(context.Background(), "bob"))

	assert.Empty(t, drain(alice))
	frames := drain(bob)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"type":"unread_counts","counts":{"alice":2}}`, frames[0])
	repo.AssertExpectations(t)
}

func TestPushUnreadCountsSkipsOfflineUser(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	require.NoError(t, NewPresence(NewHub(), repo).PushUnreadCounts(context.Background(), "carol"))
	repo.AssertNotCalled(t, "UnreadCountsPerSender", mock.Anything, mock.Anything)
}

func TestPushUnreadCountsReportsStorageError(t *testing.T) {
	hub := NewHub()
	bob := newTestClient("bob", ClientOptions{})
	hub.Register(bob, "bob")

	repo := &mocks.MessageRepositoryMock{}
	repo.On("UnreadCountsPerSender", mock.Anything, "bob").Return(nil, errors.New("disk gone"))

	err := NewPresence(hub, repo).PushUnreadCounts(context.Background(), "bob")
	assert.Error(t, err)
	assert.Empty(t, drain(bob))
}

func TestConnectReplaysHistoryWhenUnreadCountsFail(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	repo.On("UnreadCountsPerSender", mock.Anything, "alice").Return(nil, errors.New("db down")).Once()
	repo.On("Recent", mock.Anything, mock.Anything).Return([]models.Message{
		{ID: 1, Author: "bob", Text: "earlier", Scope: models.ScopeGroup},
	}, nil).Once()

	gateway := NewGateway(NewHub(), nil, repo, nil, Options{})
	alice := newTestClient("alice", ClientOptions{})
	require.NoError(t, gateway.connect(context.Background(), alice))

	frames := drain(alice)
	require.Len(t, frames, 2)
	assert.Contains(t, frames[0], models.EventOnlineUsers)

	var replay models.ChatEvent
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &replay))
	assert.Equal(t, models.EventChat, replay.Type)
	repo.AssertExpectations(t)
}
