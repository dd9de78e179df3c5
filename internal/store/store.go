// Package store persists all application state: users, API tokens, blog
// posts, portfolio entries, products, sales, webhooks, security events, and
// settings. It runs on embedded SQLite by default and also supports
// PostgreSQL and MySQL through the same sqlx interface.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Options selects the database backend. Driver is one of "sqlite" (default),
// "postgres", or "mysql". For SQLite, DataDir locates the database file and
// DSN is ignored; an empty DataDir opens an in-memory database. For the
// server backends, DSN is the full connection string (MySQL DSNs must
// include parseTime=true).
type Options struct {
	Driver  string
	DSN     string
	DataDir string
}

// Store is the persistence layer shared by the HTTP server and the CLI.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// Open connects to the configured database and runs idempotent migrations.
func Open(opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite"
	}

	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	dsn := opts.DSN
	if driver == "sqlite" {
		if opts.DataDir == "" {
			dsn = ":memory:?_journal_mode=WAL"
		} else {
			if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(opts.DataDir, "bloom.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}

	db, err := sqlx.Connect(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders into the connected driver's bind style.
func (s *Store) rebind(q string) string {
	return s.db.Rebind(q)
}

// insert executes a named INSERT and returns the generated row id. PostgreSQL
// has no LastInsertId, so the statement is executed with RETURNING id there.
func (s *Store) insert(ctx context.Context, q string, arg interface{}) (int64, error) {
	if s.dialect.returningID {
		rows, err := s.db.NamedQueryContext(ctx, q+" RETURNING id", arg)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		if !rows.Next() {
			return 0, fmt.Errorf("insert returned no id")
		}
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		return id, rows.Err()
	}

	result, err := s.db.NamedExecContext(ctx, q, arg)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}
