package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatroom-service/internal/middleware"
	"chatroom-service/internal/repositories"
	"chatroom-service/internal/telemetry"
)

// CookieSettings controls the session cookie issued at login.
type CookieSettings struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

// AuthHandler serves registration, login and session endpoints.
type AuthHandler struct {
	sessions repositories.SessionStore
	audit    *telemetry.AuditEmitter
	cookie   CookieSettings
}

// NewAuthHandler builds an AuthHandler. audit may be nil.
func NewAuthHandler(sessions repositories.SessionStore, audit *telemetry.AuditEmitter, cookie CookieSettings) *AuthHandler {
	return &AuthHandler{sessions: sessions, audit: audit, cookie: cookie}
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

func failure(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// Register consumes an access code and creates the account.
func (h *AuthHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, "username and code are required")
		return
	}

	user, err := h.sessions.Register(c.Request.Context(), req.Username, req.Code)
	switch {
	case errors.Is(err, repositories.ErrInvalidUsername):
		failure(c, http.StatusBadRequest, "invalid username")
		return
	case errors.Is(err, repositories.ErrInvalidCode):
		h.audit.Emit(c.Request.Context(), telemetry.LevelWarn, "register", "invalid access code", requestIDFromContext(c), req.Username)
		failure(c, http.StatusBadRequest, "invalid or used access code")
		return
	case errors.Is(err, repositories.ErrUserExists):
		failure(c, http.StatusConflict, "username already taken")
		return
	case err != nil:
		log.Printf("register user=%s: %v", req.Username, err)
		failure(c, http.StatusInternalServerError, "server error")
		return
	}

	h.audit.Emit(c.Request.Context(), telemetry.LevelInfo, "register", "user registered", requestIDFromContext(c), user.Username)
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "registration complete", "username": user.Username})
}

// Login checks the access code and sets the session cookie.
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, "username and code are required")
		return
	}

	session, err := h.sessions.Login(c.Request.Context(), req.Username, req.Code)
	if errors.Is(err, repositories.ErrUserNotFound) || errors.Is(err, repositories.ErrCredentialMismatch) {
		h.audit.Emit(c.Request.Context(), telemetry.LevelWarn, "login", "login rejected", requestIDFromContext(c), req.Username)
		failure(c, http.StatusUnauthorized, "invalid username or code")
		return
	}
	if err != nil {
		log.Printf("login user=%s: %v", req.Username, err)
		failure(c, http.StatusInternalServerError, "server error")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, session.Token, int(h.cookie.MaxAge.Seconds()), "/", "", h.cookie.Secure, true)
	h.audit.Emit(c.Request.Context(), telemetry.LevelInfo, "login", "session issued", requestIDFromContext(c), session.Username)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "logged in",
		"sessionId": session.Token,
		"username":  session.Username,
	})
}

// Logout ends the caller's session and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.SessionToken(c, h.cookie.Name)
	if token == "" {
		failure(c, http.StatusBadRequest, "session not found")
		return
	}

	username, _ := h.sessions.Validate(c.Request.Context(), token)
	if _, err := h.sessions.Logout(c.Request.Context(), token); err != nil {
		log.Printf("logout: %v", err)
		failure(c, http.StatusInternalServerError, "server error")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", "", h.cookie.Secure, true)
	h.audit.Emit(c.Request.Context(), telemetry.LevelInfo, "logout", "session ended", requestIDFromContext(c), username)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CheckSession reports whether the caller holds a live session.
func (h *AuthHandler) CheckSession(c *gin.Context) {
	token := middleware.SessionToken(c, h.cookie.Name)
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"loggedIn": false})
		return
	}
	username, err := h.sessions.Validate(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, repositories.ErrSessionNotFound) {
			log.Printf("check session: %v", err)
		}
		c.JSON(http.StatusOK, gin.H{"loggedIn": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loggedIn": true, "username": username})
}
