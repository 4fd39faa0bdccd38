// Package postgres implements pph.Cache and pph.UserStore against
// PostgreSQL via pgx/v5, the authoritative, multi-process-safe
// backend: the one store adapter where two independent engine
// processes sharing the same database can safely race to unlock the
// same locked account.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pph"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a PostgreSQL-backed pph.Cache and pph.UserStore.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a connection pool for dsn and verifies connectivity.
func New(ctx context.Context, dsn string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewWithPool wraps an already-constructed pool, for tests that set up
// pgxpool against a test database directly.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool, for wiring into the migrate
// package's Postgres manager (which needs a *database/sql.DB; callers
// open a parallel database/sql connection from the same DSN for that).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Get implements pph.Cache. Concurrent unlockers across processes race
// safely here: Postgres's MVCC means the last writer of hasher_state
// simply wins, same as the single-process in-memory case.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM hasher_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements pph.Cache.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hasher_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("postgres: set %q: %w", key, err)
	}
	return nil
}

// UsersSince implements pph.UserStore.
func (s *Store) UsersSince(ctx context.Context, since time.Time) ([]pph.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, password, date_joined FROM users WHERE date_joined >= $1 ORDER BY date_joined
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: users since %s: %w", since, err)
	}
	defer rows.Close()

	var users []pph.User
	for rows.Next() {
		var u pph.User
		if err := rows.Scan(&u.ID, &u.Password, &u.DateJoined); err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SavePassword implements pph.UserStore.
func (s *Store) SavePassword(ctx context.Context, userID, encoded string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password = $1 WHERE id = $2`, encoded, userID)
	if err != nil {
		return fmt.Errorf("postgres: save password for %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: no such user %q", userID)
	}
	return nil
}

// CreateUser inserts a new user row, used by cmd/pphctl's demo commands
// and tests to seed accounts.
func (s *Store) CreateUser(ctx context.Context, id, encodedPassword string, joined time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, password, date_joined) VALUES ($1, $2, $3)
	`, id, encodedPassword, joined.UTC())
	if err != nil {
		return fmt.Errorf("postgres: create user %q: %w", id, err)
	}
	return nil
}
