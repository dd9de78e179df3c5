package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/bloomworks/bloom/internal/auth"
	"github.com/bloomworks/bloom/internal/server/middleware"
)

// SessionHandler manages admin login sessions.
type SessionHandler struct {
	authSvc    *auth.Service
	sessionTTL time.Duration
}

func NewSessionHandler(authSvc *auth.Service, sessionTTL time.Duration) *SessionHandler {
	return &SessionHandler{authSvc: authSvc, sessionTTL: sessionTTL}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}

// Login authenticates a staff account and returns a session JWT.
// POST /api/v1/session
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	session, user, err := h.authSvc.Login(r.Context(), req.Username, req.Password, middleware.SourceIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrAccountLocked) {
			writeError(w, http.StatusTooManyRequests, "account temporarily locked, try again later")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     session,
		TokenType: "bearer",
		ExpiresIn: int(h.sessionTTL.Seconds()),
		UserID:    user.ID,
		Username:  user.Username,
		Name:      user.Name,
		Role:      string(user.Role),
	})
}

// Logout ends a session. Sessions are stateless JWTs, so this is a server
// side no-op; clients discard their token.
// DELETE /api/v1/session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "session ended, discard your token",
	})
}
