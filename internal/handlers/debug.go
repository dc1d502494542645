package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatroom-service/internal/telemetry"
)

// PresenceReporter is satisfied by ws.Presence.
type PresenceReporter interface {
	OnlineUsers() []string
	Connections() int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, presence PresenceReporter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.LevelInfo, "audit_test", "audit test", requestIDFromContext(c), usernameFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/presence", func(c *gin.Context) {
		if presence == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"online_users": presence.OnlineUsers(),
			"connections":  presence.Connections(),
		})
	})
}
