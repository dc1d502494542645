package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chatroom-service/internal/repositories"
)

// UsernameKey is the gin context key holding the authenticated username.
const UsernameKey = "username"

// SessionValidator resolves a session token to its username.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// SessionAuth accepts the session cookie, or a bearer token for non-browser clients.
func SessionAuth(sessions SessionValidator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c, cookieName)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		username, err := sessions.Validate(c.Request.Context(), token)
		if errors.Is(err, repositories.ErrSessionNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}
		if err != nil {
			log.Printf("session lookup failed: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server error"})
			return
		}

		c.Set(UsernameKey, username)
		c.Next()
	}
}

// SessionToken reads the session cookie, falling back to an Authorization bearer header.
func SessionToken(c *gin.Context, cookieName string) string {
	if token, err := c.Cookie(cookieName); err == nil && token != "" {
		return token
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
