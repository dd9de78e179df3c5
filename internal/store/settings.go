package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting returns the value for a settings key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value,
		s.rebind("SELECT setting_value FROM settings WHERE setting_key = ?"), key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores a settings value, inserting or overwriting as needed.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE settings SET setting_value = ? WHERE setting_key = ?"), value, key)
	if err != nil {
		return fmt.Errorf("update setting: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update setting rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO settings (setting_key, setting_value) VALUES (?, ?)"), key, value); err != nil {
		return fmt.Errorf("insert setting: %w", err)
	}
	return nil
}

// ListSettings returns all settings as a key-value map.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT setting_key, setting_value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[k] = v
	}
	return settings, rows.Err()
}
