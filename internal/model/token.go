package model

import (
	"encoding/json"
	"net/netip"
	"time"
)

// Permission is the fixed vocabulary of API token permissions. Tokens carry
// an explicit subset; there is no implication between members (admin does
// not imply write).
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// ValidPermission reports whether p is one of the known permissions.
func ValidPermission(p Permission) bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return true
	}
	return false
}

// APIToken represents a long-lived, permission-scoped, revocable credential.
// The raw token is never stored; only a SHA-256 hash and a short prefix for
// identification are persisted.
type APIToken struct {
	ID          int64        `json:"id" db:"id"`
	UserID      int64        `json:"user_id" db:"user_id"`
	Name        string       `json:"name" db:"name"`
	TokenHash   string       `json:"-" db:"token_hash"`          // SHA-256 hash, never expose
	TokenPrefix string       `json:"token_prefix" db:"token_prefix"` // tk_ + 8 hex chars, displayable
	Permissions []Permission `json:"permissions"`
	IsActive    bool         `json:"is_active" db:"is_active"`
	ExpiresAt   time.Time    `json:"expires_at" db:"expires_at"`
	RevokedAt   *time.Time   `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokedBy   *int64       `json:"revoked_by,omitempty" db:"revoked_by"`
	IPAllowlist []string     `json:"ip_allowlist,omitempty"`
	RateLimit   int          `json:"rate_limit" db:"rate_limit"` // requests per window, 0 = unlimited
	UsageCount  int64        `json:"usage_count" db:"usage_count"`
	LastUsed    *time.Time   `json:"last_used,omitempty" db:"last_used"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// Usable reports whether the token itself is valid at the given time. IP
// restrictions and owner state are checked separately by the authenticator.
func (t *APIToken) Usable(now time.Time) bool {
	return t.IsActive && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// HasPermission reports whether the token's permission set contains p.
func (t *APIToken) HasPermission(p Permission) bool {
	for _, have := range t.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// AllowsIP reports whether the caller address passes the token's IP
// allowlist. An empty allowlist means unrestricted.
func (t *APIToken) AllowsIP(addr string) bool {
	if len(t.IPAllowlist) == 0 {
		return true
	}
	caller, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	for _, entry := range t.IPAllowlist {
		allowed, err := netip.ParseAddr(entry)
		if err != nil {
			continue
		}
		if caller == allowed {
			return true
		}
	}
	return false
}

// MarshalPermissions serializes the permission set as an ordered JSON list
// for storage.
func MarshalPermissions(perms []Permission) (string, error) {
	b, err := json.Marshal(perms)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalPermissions deserializes a stored permission list.
func UnmarshalPermissions(raw string) ([]Permission, error) {
	if raw == "" || raw == "[]" {
		return []Permission{}, nil
	}
	var perms []Permission
	if err := json.Unmarshal([]byte(raw), &perms); err != nil {
		return nil, err
	}
	return perms, nil
}
