package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bloomworks/bloom/internal/model"
)

// CreateSale inserts a new sale record. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateSale(ctx context.Context, sale *model.Sale) error {
	now := time.Now().UTC()
	sale.CreatedAt = now
	sale.UpdatedAt = now

	const q = `INSERT INTO sales
		(product_id, customer_name, customer_phone, quantity, amount, status, note, created_by, created_at, updated_at)
		VALUES
		(:product_id, :customer_name, :customer_phone, :quantity, :amount, :status, :note, :created_by, :created_at, :updated_at)`

	id, err := s.insert(ctx, q, sale)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	sale.ID = id
	return nil
}

// GetSale returns a sale by ID.
func (s *Store) GetSale(ctx context.Context, id int64) (*model.Sale, error) {
	var sale model.Sale
	if err := s.db.GetContext(ctx, &sale, s.rebind("SELECT * FROM sales WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}
	return &sale, nil
}

// ListSales returns sales newest first, optionally filtered by status.
func (s *Store) ListSales(ctx context.Context, status model.SaleStatus, limit, offset int) ([]model.Sale, error) {
	var sales []model.Sale
	var err error
	if status != "" {
		err = s.db.SelectContext(ctx, &sales,
			s.rebind("SELECT * FROM sales WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?"),
			string(status), limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &sales,
			s.rebind("SELECT * FROM sales ORDER BY created_at DESC LIMIT ? OFFSET ?"), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return sales, nil
}

// UpdateSale updates an existing sale. The UpdatedAt field is refreshed
// automatically.
func (s *Store) UpdateSale(ctx context.Context, sale *model.Sale) error {
	sale.UpdatedAt = time.Now().UTC()

	const q = `UPDATE sales SET
		product_id = :product_id, customer_name = :customer_name,
		customer_phone = :customer_phone, quantity = :quantity, amount = :amount,
		status = :status, note = :note, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, sale)
	if err != nil {
		return fmt.Errorf("update sale: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sale rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
