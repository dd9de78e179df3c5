package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bloomworks/bloom/internal/model"
)

// tokenRow is a flat struct that maps 1:1 to the api_tokens table columns.
// Permissions and the IP allowlist are stored as JSON-encoded lists.
type tokenRow struct {
	ID              int64      `db:"id"`
	UserID          int64      `db:"user_id"`
	Name            string     `db:"name"`
	TokenHash       string     `db:"token_hash"`
	TokenPrefix     string     `db:"token_prefix"`
	PermissionsJSON string     `db:"permissions_json"`
	IsActive        bool       `db:"is_active"`
	ExpiresAt       time.Time  `db:"expires_at"`
	RevokedAt       *time.Time `db:"revoked_at"`
	RevokedBy       *int64     `db:"revoked_by"`
	IPAllowlistJSON string     `db:"ip_allowlist_json"`
	RateLimit       int        `db:"rate_limit"`
	UsageCount      int64      `db:"usage_count"`
	LastUsed        *time.Time `db:"last_used"`
	CreatedAt       time.Time  `db:"created_at"`
}

func tokenRowFromModel(t *model.APIToken) (tokenRow, error) {
	permsJSON, err := model.MarshalPermissions(t.Permissions)
	if err != nil {
		return tokenRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	ips := t.IPAllowlist
	if ips == nil {
		ips = []string{}
	}
	ipsJSON, err := json.Marshal(ips)
	if err != nil {
		return tokenRow{}, fmt.Errorf("marshal ip allowlist: %w", err)
	}
	return tokenRow{
		ID:              t.ID,
		UserID:          t.UserID,
		Name:            t.Name,
		TokenHash:       t.TokenHash,
		TokenPrefix:     t.TokenPrefix,
		PermissionsJSON: permsJSON,
		IsActive:        t.IsActive,
		ExpiresAt:       t.ExpiresAt,
		RevokedAt:       t.RevokedAt,
		RevokedBy:       t.RevokedBy,
		IPAllowlistJSON: string(ipsJSON),
		RateLimit:       t.RateLimit,
		UsageCount:      t.UsageCount,
		LastUsed:        t.LastUsed,
		CreatedAt:       t.CreatedAt,
	}, nil
}

func (r tokenRow) toModel() (model.APIToken, error) {
	perms, err := model.UnmarshalPermissions(r.PermissionsJSON)
	if err != nil {
		return model.APIToken{}, fmt.Errorf("unmarshal permissions: %w", err)
	}
	var ips []string
	if r.IPAllowlistJSON != "" && r.IPAllowlistJSON != "[]" {
		if err := json.Unmarshal([]byte(r.IPAllowlistJSON), &ips); err != nil {
			return model.APIToken{}, fmt.Errorf("unmarshal ip allowlist: %w", err)
		}
	}
	return model.APIToken{
		ID:          r.ID,
		UserID:      r.UserID,
		Name:        r.Name,
		TokenHash:   r.TokenHash,
		TokenPrefix: r.TokenPrefix,
		Permissions: perms,
		IsActive:    r.IsActive,
		ExpiresAt:   r.ExpiresAt,
		RevokedAt:   r.RevokedAt,
		RevokedBy:   r.RevokedBy,
		IPAllowlist: ips,
		RateLimit:   r.RateLimit,
		UsageCount:  r.UsageCount,
		LastUsed:    r.LastUsed,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// CreateAPIToken inserts a new token record. The token_hash must already be
// set by the issuer; hash uniqueness is enforced by the database. The ID and
// CreatedAt fields are populated after insert.
func (s *Store) CreateAPIToken(ctx context.Context, t *model.APIToken) error {
	t.CreatedAt = time.Now().UTC()

	row, err := tokenRowFromModel(t)
	if err != nil {
		return err
	}

	const q = `INSERT INTO api_tokens
		(user_id, name, token_hash, token_prefix, permissions_json, is_active,
		 expires_at, revoked_at, revoked_by, ip_allowlist_json, rate_limit,
		 usage_count, last_used, created_at)
		VALUES
		(:user_id, :name, :token_hash, :token_prefix, :permissions_json, :is_active,
		 :expires_at, :revoked_at, :revoked_by, :ip_allowlist_json, :rate_limit,
		 :usage_count, :last_used, :created_at)`

	id, err := s.insert(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert api token: %w", err)
	}
	t.ID = id
	return nil
}

// GetAPIToken returns a token by ID.
func (s *Store) GetAPIToken(ctx context.Context, id int64) (*model.APIToken, error) {
	var row tokenRow
	if err := s.db.GetContext(ctx, &row, s.rebind("SELECT * FROM api_tokens WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api token: %w", err)
	}
	t, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetAPITokenByHash looks up a token by its SHA-256 hash. This is the
// authentication hot path; token_hash is unique and indexed.
func (s *Store) GetAPITokenByHash(ctx context.Context, hash string) (*model.APIToken, error) {
	var row tokenRow
	if err := s.db.GetContext(ctx, &row, s.rebind("SELECT * FROM api_tokens WHERE token_hash = ?"), hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api token by hash: %w", err)
	}
	t, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListAPITokensByUser returns all tokens owned by a user, newest first.
func (s *Store) ListAPITokensByUser(ctx context.Context, userID int64) ([]model.APIToken, error) {
	var rows []tokenRow
	if err := s.db.SelectContext(ctx, &rows,
		s.rebind("SELECT * FROM api_tokens WHERE user_id = ? ORDER BY created_at DESC"), userID); err != nil {
		return nil, fmt.Errorf("list api tokens by user: %w", err)
	}
	return tokenRowsToModels(rows)
}

// ListAPITokens returns all tokens across every owner, newest first.
func (s *Store) ListAPITokens(ctx context.Context) ([]model.APIToken, error) {
	var rows []tokenRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM api_tokens ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api tokens: %w", err)
	}
	return tokenRowsToModels(rows)
}

func tokenRowsToModels(rows []tokenRow) ([]model.APIToken, error) {
	tokens := make([]model.APIToken, 0, len(rows))
	for _, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// RevokeAPIToken soft-revokes a token: is_active is cleared and the audit
// fields are set once. Revoking an already-revoked token is a no-op, not an
// error. Records are never physically deleted.
func (s *Store) RevokeAPIToken(ctx context.Context, id, revokedBy int64) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE api_tokens SET is_active = ?, revoked_at = ?, revoked_by = ? WHERE id = ? AND revoked_at IS NULL"),
		false, time.Now().UTC(), revokedBy, id)
	if err != nil {
		return fmt.Errorf("revoke api token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api token rows affected: %w", err)
	}
	if n == 0 {
		// Either already revoked (fine) or nonexistent.
		if _, err := s.GetAPIToken(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// TouchAPIToken bumps the usage counter and sets last_used. The increment is
// executed server-side so concurrent authentications against the same token
// never lose updates.
func (s *Store) TouchAPIToken(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE api_tokens SET usage_count = usage_count + 1, last_used = ? WHERE id = ?"),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch api token rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
