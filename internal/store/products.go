package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bloomworks/bloom/internal/model"
)

// CreateProduct inserts a new catalog item. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateProduct(ctx context.Context, p *model.Product) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	const q = `INSERT INTO products
		(name, description, price, category, image_url, stock, is_active, created_at, updated_at)
		VALUES
		(:name, :description, :price, :category, :image_url, :stock, :is_active, :created_at, :updated_at)`

	id, err := s.insert(ctx, q, p)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	p.ID = id
	return nil
}

// GetProduct returns a product by ID.
func (s *Store) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var p model.Product
	if err := s.db.GetContext(ctx, &p, s.rebind("SELECT * FROM products WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// ListProducts returns catalog items. When activeOnly is set, delisted
// products are filtered out (the public catalog view).
func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	var products []model.Product
	var err error
	if activeOnly {
		err = s.db.SelectContext(ctx, &products,
			s.rebind("SELECT * FROM products WHERE is_active = ? ORDER BY category, name"), true)
	} else {
		err = s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY category, name")
	}
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// UpdateProduct updates an existing product. The UpdatedAt field is
// refreshed automatically.
func (s *Store) UpdateProduct(ctx context.Context, p *model.Product) error {
	p.UpdatedAt = time.Now().UTC()

	const q = `UPDATE products SET
		name = :name, description = :description, price = :price,
		category = :category, image_url = :image_url, stock = :stock,
		is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, p)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update product rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProduct removes a product by ID.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM products WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete product rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
