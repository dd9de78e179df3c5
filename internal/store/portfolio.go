package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bloomworks/bloom/internal/model"
)

// CreatePortfolioEntry inserts a new portfolio entry. The ID, CreatedAt, and
// UpdatedAt fields are populated after a successful insert.
func (s *Store) CreatePortfolioEntry(ctx context.Context, e *model.PortfolioEntry) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	const q = `INSERT INTO portfolio
		(title, description, image_url, category, sort_order, created_at, updated_at)
		VALUES
		(:title, :description, :image_url, :category, :sort_order, :created_at, :updated_at)`

	id, err := s.insert(ctx, q, e)
	if err != nil {
		return fmt.Errorf("insert portfolio entry: %w", err)
	}
	e.ID = id
	return nil
}

// GetPortfolioEntry returns an entry by ID.
func (s *Store) GetPortfolioEntry(ctx context.Context, id int64) (*model.PortfolioEntry, error) {
	var e model.PortfolioEntry
	if err := s.db.GetContext(ctx, &e, s.rebind("SELECT * FROM portfolio WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get portfolio entry: %w", err)
	}
	return &e, nil
}

// ListPortfolio returns all entries in display order.
func (s *Store) ListPortfolio(ctx context.Context) ([]model.PortfolioEntry, error) {
	var entries []model.PortfolioEntry
	if err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM portfolio ORDER BY sort_order, id"); err != nil {
		return nil, fmt.Errorf("list portfolio: %w", err)
	}
	return entries, nil
}

// UpdatePortfolioEntry updates an existing entry. The UpdatedAt field is
// refreshed automatically.
func (s *Store) UpdatePortfolioEntry(ctx context.Context, e *model.PortfolioEntry) error {
	e.UpdatedAt = time.Now().UTC()

	const q = `UPDATE portfolio SET
		title = :title, description = :description, image_url = :image_url,
		category = :category, sort_order = :sort_order, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, e)
	if err != nil {
		return fmt.Errorf("update portfolio entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update portfolio entry rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePortfolioEntry removes an entry by ID.
func (s *Store) DeletePortfolioEntry(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM portfolio WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete portfolio entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete portfolio entry rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
