package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bloomworks/bloom/internal/model"
)

// CreateUser inserts a new staff account. The ID, CreatedAt, and UpdatedAt
// fields on user are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const q = `INSERT INTO users
		(username, password_hash, name, role, is_active, failed_logins, locked_until, last_login_at, created_at, updated_at)
		VALUES
		(:username, :password_hash, :name, :role, :is_active, :failed_logins, :locked_until, :last_login_at, :created_at, :updated_at)`

	id, err := s.insert(ctx, q, user)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.rebind("SELECT * FROM users WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername returns a user by their unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.rebind("SELECT * FROM users WHERE username = ?"), username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &user, nil
}

// ListUsers returns all staff accounts.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// HasAnyUser reports whether at least one account exists. Used for first-run
// detection to point the operator at `bloom admin create`.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// UpdateUser updates an existing account's mutable fields. The UpdatedAt
// field is refreshed automatically.
func (s *Store) UpdateUser(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	const q = `UPDATE users SET
		username = :username, password_hash = :password_hash, name = :name,
		role = :role, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, user)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLoginFailure bumps the failed-login counter and optionally sets the
// lock timestamp.
func (s *Store) RecordLoginFailure(ctx context.Context, id int64, lockedUntil *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET failed_logins = failed_logins + 1, locked_until = ?, updated_at = ? WHERE id = ?"),
		lockedUntil, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	return nil
}

// RecordLoginSuccess resets the failure counter, clears any lock, and sets
// the last-login timestamp.
func (s *Store) RecordLoginSuccess(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET failed_logins = 0, locked_until = NULL, last_login_at = ?, updated_at = ? WHERE id = ?"),
		now, now, id)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	return nil
}
