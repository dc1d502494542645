package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatroom-service/internal/models"
	"chatroom-service/internal/repositories"
)

// ReadNotifier marks messages read and notifies live connections; ws.Gateway implements it.
type ReadNotifier interface {
	MarkRead(ctx context.Context, reader, sender string) (int64, error)
}

// ChatHandler serves the read side of the chat over HTTP.
type ChatHandler struct {
	sessions     repositories.SessionStore
	messages     repositories.MessageRepository
	notifier     ReadNotifier
	historyLimit int
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(sessions repositories.SessionStore, messages repositories.MessageRepository, notifier ReadNotifier, historyLimit int) *ChatHandler {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &ChatHandler{
		sessions:     sessions,
		messages:     messages,
		notifier:     notifier,
		historyLimit: historyLimit,
	}
}

// ListUsers returns every other registered username.
func (h *ChatHandler) ListUsers(c *gin.Context) {
	users, err := h.sessions.ListUsernames(c.Request.Context(), usernameFromContext(c))
	if err != nil {
		log.Printf("list users: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetMessages returns the most recent messages of a thread, oldest first.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	username := usernameFromContext(c)
	scope := models.Scope(c.DefaultQuery("chatType", string(models.ScopeGroup)))
	if !scope.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chatType"})
		return
	}

	query := repositories.RecentQuery{Scope: scope, Limit: h.historyLimit}
	if scope == models.ScopePrivate {
		withUser := c.Query("withUser")
		if withUser == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "withUser is required for private chats"})
			return
		}
		query.Recipient = withUser
		query.Requester = username
	}

	msgs, err := h.messages.Recent(c.Request.Context(), query)
	if err != nil {
		log.Printf("load messages user=%s scope=%s: %v", username, scope, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// GetUnreadCounts returns the caller's unread private messages per sender.
func (h *ChatHandler) GetUnreadCounts(c *gin.Context) {
	counts, err := h.messages.UnreadCountsPerSender(c.Request.Context(), usernameFromContext(c))
	if err != nil {
		log.Printf("unread counts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread counts"})
		return
	}
	if counts == nil {
		counts = map[string]int{}
	}
	c.JSON(http.StatusOK, counts)
}

// MarkRead marks the sender's messages to the caller as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	var req struct {
		Sender string `json:"sender" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, "sender is required")
		return
	}

	count, err := h.notifier.MarkRead(c.Request.Context(), usernameFromContext(c), req.Sender)
	if err != nil {
		log.Printf("mark read sender=%s: %v", req.Sender, err)
		failure(c, http.StatusInternalServerError, "server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "markedCount": count})
}
