package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatroom-service/internal/middleware"
	"chatroom-service/internal/mocks"
	"chatroom-service/internal/models"
	"chatroom-service/internal/repositories"
)

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UsernameKey, "alice")
		c.Next()
	})
	r.GET("/api/users", handler.ListUsers)
	r.GET("/api/messages", handler.GetMessages)
	r.GET("/api/unread-counts", handler.GetUnreadCounts)
	r.POST("/api/mark-read", handler.MarkRead)
	return r
}

func TestListUsersExcludesCaller(t *testing.T) {
	store := new(mocks.SessionStoreMock)
	router := setupChatRouter(NewChatHandler(store, nil, nil, 100))
	store.On("ListUsernames", mock.Anything, "alice").Return([]string{"bob", "carol"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["bob","carol"]`, rec.Body.String())
	store.AssertExpectations(t)
}

func TestListUsersStorageError(t *testing.T) {
	store := new(mocks.SessionStoreMock)
	router := setupChatRouter(NewChatHandler(store, nil, nil, 100))
	store.On("ListUsernames", mock.Anything, "alice").Return(nil, assert.AnError).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetMessagesDefaultsToGroup(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(nil, repo, nil, 100))
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.On("Recent", mock.Anything, repositories.RecentQuery{Scope: models.ScopeGroup, Limit: 100}).
		Return([]models.Message{{ID: 1, Author: "bob", Text: "hi", Kind: "text", Scope: models.ScopeGroup, CreatedAt: created}}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob", msgs[0]["username"])
	assert.Equal(t, "group", msgs[0]["chatType"])
	assert.Nil(t, msgs[0]["recipient"])
	repo.AssertExpectations(t)
}

func TestGetMessagesPrivateThread(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(nil, repo, nil, 100))
	repo.On("Recent", mock.Anything, repositories.RecentQuery{
		Scope:     models.ScopePrivate,
		Recipient: "bob",
		Requester: "alice",
		Limit:     100,
	}).Return(nil, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages?chatType=private&withUser=bob", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	repo.AssertExpectations(t)
}

func TestGetMessagesValidation(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(nil, repo, nil, 100))

	for _, target := range []string{"/api/messages?chatType=private", "/api/messages?chatType=channel"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	repo.AssertNotCalled(t, "Recent", mock.Anything, mock.Anything)
}

func TestGetUnreadCounts(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(nil, repo, nil, 100))
	repo.On("UnreadCountsPerSender", mock.Anything, "alice").Return(map[string]int{"bob": 3}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unread-counts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bob":3}`, rec.Body.String())
}

func TestMarkReadDelegatesToNotifier(t *testing.T) {
	notifier := new(mocks.ReadNotifierMock)
	router := setupChatRouter(NewChatHandler(nil, nil, notifier, 100))
	notifier.On("MarkRead", mock.Anything, "alice", "bob").Return(int64(2), nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/mark-read", bytes.NewBufferString(`{"sender":"bob"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"markedCount":2}`, rec.Body.String())
	notifier.AssertExpectations(t)
}

func TestMarkReadRequiresSender(t *testing.T) {
	notifier := new(mocks.ReadNotifierMock)
	router := setupChatRouter(NewChatHandler(nil, nil, notifier, 100))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/mark-read", bytes.NewBufferString(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	notifier.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}
