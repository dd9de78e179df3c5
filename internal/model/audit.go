package model

import "time"

// Security audit event types.
const (
	AuditTokenCreated       = "token_created"
	AuditTokenUsed          = "token_used"
	AuditTokenRevoked       = "token_revoked"
	AuditLoginSuccess       = "login_success"
	AuditLoginFailure       = "login_failure"
	AuditUnauthorizedAccess = "unauthorized_access"
)

// SecurityEvent is one append-only audit log entry. Entries are written
// best-effort and never updated or deleted.
type SecurityEvent struct {
	ID        int64     `json:"id" db:"id"`
	EventType string    `json:"event_type" db:"event_type"`
	UserID    *int64    `json:"user_id,omitempty" db:"user_id"` // nil for anonymous attempts
	SourceIP  string    `json:"source_ip" db:"source_ip"`
	Success   bool      `json:"success" db:"success"`
	Detail    string    `json:"detail" db:"detail"` // reason class, never the raw credential
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
