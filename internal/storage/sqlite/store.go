// Package sqlite implements pph.Cache and pph.UserStore against an
// embedded modernc.org/sqlite database: a single-process or demo-scale
// backend, as opposed to the Postgres adapter's multi-process safety.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pph"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed pph.Cache and pph.UserStore, sharing one
// connection pool between both interfaces.
type Store struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

// New opens (creating if necessary) a SQLite database at path and
// configures it the way a single-writer embedded store should: WAL
// journaling for reader/writer concurrency, foreign keys on, and a
// busy timeout so concurrent writers block instead of failing
// immediately with SQLITE_BUSY.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time; the driver connection
	// pool must reflect that or concurrent writers will trip over the
	// busy timeout for no benefit.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying connection, for wiring into the migrate
// package's SQLite manager.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Get implements pph.Cache.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM hasher_state WHERE key = ?`, key).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("sqlite: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements pph.Cache.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hasher_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite: set %q: %w", key, err)
	}
	return nil
}

// UsersSince implements pph.UserStore.
func (s *Store) UsersSince(ctx context.Context, since time.Time) ([]pph.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, password, date_joined FROM users WHERE date_joined >= ? ORDER BY date_joined
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("sqlite: users since %s: %w", since, err)
	}
	defer rows.Close()

	var users []pph.User
	for rows.Next() {
		var u pph.User
		if err := rows.Scan(&u.ID, &u.Password, &u.DateJoined); err != nil {
			return nil, fmt.Errorf("sqlite: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SavePassword implements pph.UserStore.
func (s *Store) SavePassword(ctx context.Context, userID, encoded string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = ? WHERE id = ?`, encoded, userID)
	if err != nil {
		return fmt.Errorf("sqlite: save password for %q: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlite: no such user %q", userID)
	}
	return nil
}

// CreateUser inserts a new user row, used by cmd/pphctl's demo commands
// and tests to seed accounts.
func (s *Store) CreateUser(ctx context.Context, id, encodedPassword string, joined time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, password, date_joined) VALUES (?, ?, ?)
	`, id, encodedPassword, joined.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: create user %q: %w", id, err)
	}
	return nil
}
