// Package migrate applies the embedded schema to either store backend and
// tracks per-migration checksums so a deployment can detect a migration file
// edited out from under it after the fact.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// Config holds migration configuration.
type Config struct {
	// VerifyChecksums determines if checksums should be verified on startup.
	VerifyChecksums bool

	// OnChecksumMismatch is "fail", "warn", or "ignore".
	OnChecksumMismatch string

	// LockTimeout bounds the wait in acquireLock; golang-migrate's own
	// migration lock keeps its default timeout.
	LockTimeout time.Duration

	// Logger receives warnings from Up; defaults to slog.Default() if nil.
	Logger *slog.Logger
}

// DefaultConfig returns default migration configuration.
func DefaultConfig() Config {
	return Config{
		VerifyChecksums:    true,
		OnChecksumMismatch: "fail",
		LockTimeout:        15 * time.Second,
	}
}

type migrationFile struct {
	version     uint
	description string
	checksum    string
}

// Manager handles database migrations for one backend.
type Manager struct {
	cfg     Config
	backend string
	db      *sql.DB
	m       *migrate.Migrate
	logger  *slog.Logger
	files   []migrationFile
}

// NewPostgresManager creates a migration manager for PostgreSQL.
func NewPostgresManager(db *sql.DB, cfg Config) (*Manager, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "pph_schema_migrations",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	return newManager("postgres", db, driver, postgresFS, "migrations/postgres", cfg)
}

// NewSQLiteManager creates a migration manager for SQLite.
func NewSQLiteManager(db *sql.DB, cfg Config) (*Manager, error) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{
		MigrationsTable: "pph_schema_migrations",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	return newManager("sqlite", db, driver, sqliteFS, "migrations/sqlite", cfg)
}

func newManager(backend string, db *sql.DB, driver database.Driver, fsys embed.FS, path string, cfg Config) (*Manager, error) {
	sourceDriver, err := iofs.New(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "database", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mgr := &Manager{
		cfg:     cfg,
		backend: backend,
		db:      db,
		m:       m,
		logger:  logger,
	}

	if err := mgr.loadFiles(fsys, path); err != nil {
		return nil, fmt.Errorf("failed to calculate checksums: %w", err)
	}

	return mgr, nil
}

// loadFiles computes the SHA-256 checksum of every up-migration file. Down
// files aren't checksummed: drift detection only cares about the forward
// schema a deployment ends up running.
func (m *Manager) loadFiles(fsys embed.FS, path string) error {
	entries, err := fs.ReadDir(fsys, path)
	if err != nil {
		return fmt.Errorf("failed to read migration directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}

		content, err := fs.ReadFile(fsys, path+"/"+entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(content)

		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}

		desc := strings.TrimSuffix(parts[1], ".up.sql")
		desc = strings.ReplaceAll(desc, "_", " ")

		m.files = append(m.files, migrationFile{
			version:     uint(version),
			description: desc,
			checksum:    fmt.Sprintf("%x", sum),
		})
	}

	sort.Slice(m.files, func(i, j int) bool { return m.files[i].version < m.files[j].version })
	return nil
}

// placeholder returns the backend's positional bind parameter for index n
// (1-based): pgx wants $1, $2, ...; modernc.org/sqlite accepts plain ?.
func (m *Manager) placeholder(n int) string {
	if m.backend == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (m *Manager) checksumTableDDL() string {
	return `CREATE TABLE IF NOT EXISTS pph_migration_checksums (
		version BIGINT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`
}

func (m *Manager) ensureChecksumTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, m.checksumTableDDL())
	return err
}

// Up runs all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, m.cfg.LockTimeout)
	defer cancel()

	if err := m.acquireLock(lockCtx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer m.releaseLock(ctx)

	if m.cfg.VerifyChecksums {
		if err := m.verifyChecksums(ctx); err != nil {
			switch m.cfg.OnChecksumMismatch {
			case "fail":
				return fmt.Errorf("checksum verification failed: %w", err)
			case "warn":
				m.logger.WarnContext(ctx, "migration checksum verification failed", "error", err)
			case "ignore":
			default:
				return fmt.Errorf("checksum verification failed: %w", err)
			}
		}
	}

	if err := m.m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := m.storeChecksums(ctx); err != nil {
		m.logger.WarnContext(ctx, "failed to record migration checksums", "error", err)
	}

	return nil
}

// Down rolls back one migration. Only admin tooling should call this.
func (m *Manager) Down(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, m.cfg.LockTimeout)
	defer cancel()

	if err := m.acquireLock(lockCtx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer m.releaseLock(ctx)

	if err := m.m.Steps(-1); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	return nil
}

// Version returns the current migration version.
func (m *Manager) Version() (uint, bool, error) {
	return m.m.Version()
}

// acquireLock and releaseLock are placeholders: golang-migrate already
// serializes Up/Down against its own migrations table lock for both
// backends, so no additional advisory lock is taken here.
func (m *Manager) acquireLock(ctx context.Context) error { return nil }
func (m *Manager) releaseLock(ctx context.Context) error { return nil }

// verifyChecksums compares every up-file's checksum against what was
// recorded the last time it was applied, catching a migration file edited
// after it already ran against this database.
func (m *Manager) verifyChecksums(ctx context.Context) error {
	if err := m.ensureChecksumTable(ctx); err != nil {
		return fmt.Errorf("failed to prepare checksum table: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, "SELECT version, checksum FROM pph_migration_checksums")
	if err != nil {
		return fmt.Errorf("failed to query stored checksums: %w", err)
	}
	defer rows.Close()

	stored := make(map[uint]string)
	for rows.Next() {
		var version uint
		var checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return fmt.Errorf("failed to scan stored checksum: %w", err)
		}
		stored[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read stored checksums: %w", err)
	}

	for _, f := range m.files {
		recorded, ok := stored[f.version]
		if !ok {
			continue
		}
		if recorded != f.checksum {
			return fmt.Errorf("migration %d checksum mismatch: recorded %s, file now %s", f.version, recorded, f.checksum)
		}
	}

	return nil
}

// storeChecksums records the checksum of every migration at or below the
// current version, so the next startup's verifyChecksums has something to
// compare against.
func (m *Manager) storeChecksums(ctx context.Context) error {
	currentVersion, dirty, err := m.m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			return nil
		}
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("refusing to record checksums: migration state is dirty")
	}

	if err := m.ensureChecksumTable(ctx); err != nil {
		return fmt.Errorf("failed to prepare checksum table: %w", err)
	}

	upsert := fmt.Sprintf(
		"INSERT INTO pph_migration_checksums (version, checksum, applied_at) VALUES (%s, %s, %s) "+
			"ON CONFLICT (version) DO UPDATE SET checksum = excluded.checksum, applied_at = excluded.applied_at",
		m.placeholder(1), m.placeholder(2), m.placeholder(3))

	for _, f := range m.files {
		if f.version > currentVersion {
			continue
		}
		if _, err := m.db.ExecContext(ctx, upsert, f.version, f.checksum, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to store checksum for migration %d: %w", f.version, err)
		}
	}

	return nil
}

// Close closes the migration manager.
func (m *Manager) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

// MigrationInfo describes one migration file and its applied state.
type MigrationInfo struct {
	Version     uint
	Description string
	Applied     bool
	Checksum    string
}

// List returns information about all known migrations.
func (m *Manager) List(ctx context.Context) ([]MigrationInfo, error) {
	currentVersion, dirty, err := m.m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	migrations := make([]MigrationInfo, 0, len(m.files))
	for _, f := range m.files {
		migrations = append(migrations, MigrationInfo{
			Version:     f.version,
			Description: f.description,
			Applied:     !dirty && f.version <= currentVersion,
			Checksum:    f.checksum,
		})
	}

	return migrations, nil
}
