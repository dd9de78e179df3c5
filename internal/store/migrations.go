package store

import (
	"fmt"
	"strings"
)

// dialect captures the few places the supported databases disagree.
type dialect struct {
	driverName  string
	pk          string // autoincrementing primary key column clause
	timestamp   string // timestamp column type
	returningID bool   // INSERT ... RETURNING id instead of LastInsertId
}

var dialects = map[string]dialect{
	"sqlite": {
		driverName: "sqlite",
		pk:         "INTEGER PRIMARY KEY AUTOINCREMENT",
		timestamp:  "DATETIME",
	},
	"postgres": {
		driverName:  "pgx",
		pk:          "BIGSERIAL PRIMARY KEY",
		timestamp:   "TIMESTAMPTZ",
		returningID: true,
	},
	"mysql": {
		driverName: "mysql",
		pk:         "BIGINT PRIMARY KEY AUTO_INCREMENT",
		timestamp:  "DATETIME",
	},
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id {pk},
			username VARCHAR(64) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			name VARCHAR(128) NOT NULL DEFAULT '',
			role VARCHAR(32) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			failed_logins INTEGER NOT NULL DEFAULT 0,
			locked_until {ts},
			last_login_at {ts},
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_tokens (
			id {pk},
			user_id BIGINT NOT NULL,
			name VARCHAR(100) NOT NULL,
			token_hash VARCHAR(64) UNIQUE NOT NULL,
			token_prefix VARCHAR(16) NOT NULL,
			permissions_json TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at {ts} NOT NULL,
			revoked_at {ts},
			revoked_by BIGINT,
			ip_allowlist_json TEXT NOT NULL,
			rate_limit INTEGER NOT NULL DEFAULT 0,
			usage_count BIGINT NOT NULL DEFAULT 0,
			last_used {ts},
			created_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS posts (
			id {pk},
			slug VARCHAR(160) UNIQUE NOT NULL,
			title VARCHAR(255) NOT NULL,
			excerpt TEXT NOT NULL,
			body TEXT NOT NULL,
			cover_url VARCHAR(512) NOT NULL DEFAULT '',
			tags_json TEXT NOT NULL,
			status VARCHAR(16) NOT NULL,
			author_id BIGINT NOT NULL,
			published_at {ts},
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS portfolio (
			id {pk},
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			image_url VARCHAR(512) NOT NULL,
			category VARCHAR(64) NOT NULL DEFAULT '',
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS products (
			id {pk},
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			price BIGINT NOT NULL,
			category VARCHAR(64) NOT NULL DEFAULT '',
			image_url VARCHAR(512) NOT NULL DEFAULT '',
			stock INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sales (
			id {pk},
			product_id BIGINT NOT NULL,
			customer_name VARCHAR(255) NOT NULL,
			customer_phone VARCHAR(32) NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL,
			amount BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL,
			note TEXT NOT NULL,
			created_by BIGINT NOT NULL,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS webhooks (
			id {pk},
			url VARCHAR(512) NOT NULL,
			secret VARCHAR(255) NOT NULL,
			events_json TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id {pk},
			webhook_id BIGINT NOT NULL,
			event VARCHAR(64) NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			error VARCHAR(512) NOT NULL DEFAULT '',
			duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS security_events (
			id {pk},
			event_type VARCHAR(64) NOT NULL,
			user_id BIGINT,
			source_ip VARCHAR(45) NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL,
			detail VARCHAR(512) NOT NULL DEFAULT '',
			created_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			setting_key VARCHAR(128) PRIMARY KEY,
			setting_value TEXT NOT NULL
		)`,

		`CREATE INDEX idx_api_tokens_hash ON api_tokens(token_hash)`,
		`CREATE INDEX idx_api_tokens_user ON api_tokens(user_id)`,
		`CREATE INDEX idx_posts_slug ON posts(slug)`,
		`CREATE INDEX idx_security_events_type ON security_events(event_type)`,
		`CREATE INDEX idx_webhook_deliveries_hook ON webhook_deliveries(webhook_id)`,
	}

	for _, m := range migrations {
		q := strings.ReplaceAll(m, "{pk}", s.dialect.pk)
		q = strings.ReplaceAll(q, "{ts}", s.dialect.timestamp)
		if _, err := s.db.Exec(q); err != nil {
			// Index creation is retried on every start; MySQL has no
			// CREATE INDEX IF NOT EXISTS, so treat duplicates as no-ops.
			if isDuplicateObject(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, q)
		}
	}
	return nil
}

func isDuplicateObject(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate key name") ||
		strings.Contains(msg, "duplicate column")
}
