package handlers

import (
	"github.com/gin-gonic/gin"

	"chatroom-service/internal/middleware"
	"chatroom-service/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	return observability.RequestID(c)
}

func usernameFromContext(c *gin.Context) string {
	return c.GetString(middleware.UsernameKey)
}
