package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"time"
	"unicode/utf8"

	"github.com/bloomworks/bloom/internal/auth"
	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/server/middleware"
	"github.com/bloomworks/bloom/internal/store"
	"github.com/bloomworks/bloom/internal/token"
)

// Token lifetime bounds applied at creation.
const (
	defaultTokenTTL = 90 * 24 * time.Hour
	maxTokenTTL     = 365 * 24 * time.Hour
	maxRateLimit    = 10000
)

// TokenHandler manages API tokens: creation, listing, revocation, and the
// diagnostic validate endpoint.
type TokenHandler struct {
	store   *store.Store
	authSvc *auth.Service
	logger  *slog.Logger
}

func NewTokenHandler(st *store.Store, authSvc *auth.Service, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{store: st, authSvc: authSvc, logger: logger}
}

type createTokenRequest struct {
	Name        string             `json:"name"`
	Permissions []model.Permission `json:"permissions"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	ExpiresIn   *int               `json:"expires_in_days,omitempty"` // convenience alias for expires_at
	IPAllowlist []string           `json:"ip_allowlist,omitempty"`
	RateLimit   int                `json:"rate_limit,omitempty"`
}

type createTokenResponse struct {
	Token   model.APIToken `json:"token"`
	Raw     string         `json:"raw_token"`
	Warning string         `json:"warning"`
}

// Create issues a new API token for the authenticated principal. The raw
// token appears in this response and nowhere else; only its hash is stored.
// POST /api/v1/tokens
func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req createTokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if n := utf8.RuneCountInString(req.Name); n < 1 || n > 100 {
		writeError(w, http.StatusBadRequest, "name must be 1-100 characters")
		return
	}
	if len(req.Permissions) == 0 {
		writeError(w, http.StatusBadRequest, "at least one permission is required")
		return
	}
	for _, p := range req.Permissions {
		if !model.ValidPermission(p) {
			writeError(w, http.StatusBadRequest, "unknown permission: "+string(p))
			return
		}
	}
	for _, ip := range req.IPAllowlist {
		if _, err := netip.ParseAddr(ip); err != nil {
			writeError(w, http.StatusBadRequest, "invalid IP address: "+ip)
			return
		}
	}
	if req.RateLimit < 0 || req.RateLimit > maxRateLimit {
		writeError(w, http.StatusBadRequest, "rate_limit must be 0-10000")
		return
	}

	now := time.Now().UTC()
	expiresAt := now.Add(defaultTokenTTL)
	switch {
	case req.ExpiresAt != nil && req.ExpiresIn != nil:
		writeError(w, http.StatusBadRequest, "specify either expires_at or expires_in_days, not both")
		return
	case req.ExpiresAt != nil:
		if !req.ExpiresAt.After(now) {
			writeError(w, http.StatusBadRequest, "expires_at must be in the future")
			return
		}
		if req.ExpiresAt.After(now.Add(maxTokenTTL)) {
			writeError(w, http.StatusBadRequest, "expires_at must be within 365 days")
			return
		}
		expiresAt = req.ExpiresAt.UTC()
	case req.ExpiresIn != nil:
		if *req.ExpiresIn < 1 {
			writeError(w, http.StatusBadRequest, "expires_in_days must be positive")
			return
		}
		ttl := time.Duration(*req.ExpiresIn) * 24 * time.Hour
		if ttl > maxTokenTTL {
			writeError(w, http.StatusBadRequest, "expires_in_days must not exceed 365")
			return
		}
		expiresAt = now.Add(ttl)
	}

	cred, err := token.Generate()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	tok := &model.APIToken{
		UserID:      principal.User.ID,
		Name:        req.Name,
		TokenHash:   cred.Hash,
		TokenPrefix: cred.Prefix,
		Permissions: req.Permissions,
		IsActive:    true,
		ExpiresAt:   expiresAt,
		IPAllowlist: req.IPAllowlist,
		RateLimit:   req.RateLimit,
	}
	if err := h.store.CreateAPIToken(r.Context(), tok); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store token")
		return
	}

	h.audit(r, model.AuditTokenCreated, principal.User.ID, true, "token "+tok.TokenPrefix)

	writeJSON(w, http.StatusCreated, createTokenResponse{
		Token:   *tok,
		Raw:     cred.Raw,
		Warning: "store this token now; it cannot be retrieved again",
	})
}

// List returns the caller's own tokens. Only metadata is returned; hashes
// never leave the store.
// GET /api/v1/tokens
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	tokens, err := h.store.ListAPITokensByUser(r.Context(), principal.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": tokens})
}

// ListAll returns every token in the system, for the admin console.
// GET /api/v1/admin/tokens
func (h *TokenHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.store.ListAPITokens(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": tokens})
}

// Revoke soft-revokes a token. Revoking an already-revoked token is a
// no-op that still returns 200, so retries are safe. Owners may revoke
// their own tokens; super admins may revoke anyone's.
// DELETE /api/v1/tokens/{id}
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	tok, err := h.store.GetAPIToken(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "token not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load token")
		return
	}

	isOwner := tok.UserID == principal.User.ID
	isSuperAdmin := principal.Kind == auth.KindSession && principal.User.Role == model.RoleSuperAdmin
	if !isOwner && !isSuperAdmin {
		writeError(w, http.StatusForbidden, "cannot revoke another user's token")
		return
	}

	if err := h.store.RevokeAPIToken(r.Context(), id, principal.User.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "token not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	h.audit(r, model.AuditTokenRevoked, principal.User.ID, true, "token "+tok.TokenPrefix)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"token_prefix": tok.TokenPrefix,
	})
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

// Validate checks a raw token through the full authentication path and
// returns its metadata. This is a diagnostic endpoint for token holders;
// note that a successful check counts as a use and bumps the usage counter,
// exactly as a real request would.
// POST /api/v1/tokens/validate
func (h *TokenHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateTokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	principal, err := h.authSvc.ValidateAPIToken(r.Context(), req.Token, middleware.SourceIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrIPNotAllowed) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"valid":  false,
				"reason": "ip not allowed",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid":  false,
			"reason": "invalid or expired token",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":       true,
		"token":       principal.Token,
		"permissions": principal.Token.Permissions,
	})
}

// audit appends a security event best-effort.
func (h *TokenHandler) audit(r *http.Request, eventType string, userID int64, success bool, detail string) {
	e := &model.SecurityEvent{
		EventType: eventType,
		UserID:    &userID,
		SourceIP:  middleware.SourceIP(r),
		Success:   success,
		Detail:    detail,
	}
	if err := h.store.AppendSecurityEvent(r.Context(), e); err != nil {
		h.logger.Warn("append security event", "event_type", eventType, "error", err)
	}
}
