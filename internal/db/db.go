package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

const dbFile = "teer.db"

// DB is the shared on-device store. It opens lazily: every caller goes
// through the same handle and callers that arrive while an open is in
// progress wait for its outcome. A failed open is retried by the next caller.
type DB struct {
	dir string

	mu          sync.Mutex
	conn        *sql.DB
	opening     chan struct{}
	openErr     error
	collections map[string]string // name -> key field
	version     int
}

// New returns an unopened store rooted at dir.
func New(dir string) *DB {
	return &DB{dir: dir}
}

// Open opens the store in dir and runs any pending migrations.
func Open(ctx context.Context, dir string) (*DB, error) {
	db := New(dir)
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// Dir returns the data directory of the store
func (db *DB) Dir() string {
	return db.dir
}

// Path returns the database file path
func (db *DB) Path() string {
	return filepath.Join(db.dir, dbFile)
}

// Open opens the database if it is not open yet.
func (db *DB) Open(ctx context.Context) error {
	db.mu.Lock()
	if db.conn != nil {
		db.mu.Unlock()
		return nil
	}
	if ch := db.opening; ch != nil {
		db.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		db.mu.Lock()
		defer db.mu.Unlock()
		if db.conn != nil {
			return nil
		}
		return db.openErr
	}
	ch := make(chan struct{})
	db.opening = ch
	db.mu.Unlock()

	conn, collections, version, err := db.open(ctx)

	db.mu.Lock()
	db.conn = conn
	db.collections = collections
	db.version = version
	db.openErr = err
	db.opening = nil
	close(ch)
	db.mu.Unlock()

	return err
}

func (db *DB) open(ctx context.Context) (*sql.DB, map[string]string, int, error) {
	path := db.Path()
	unavailable := func(err error) (*sql.DB, map[string]string, int, error) {
		slog.Warn("local store unavailable", "path", path, "err", err)
		return nil, nil, 0, &StorageUnavailableError{Path: path, Err: err}
	}

	if err := os.MkdirAll(db.dir, 0755); err != nil {
		return unavailable(fmt.Errorf("create data dir: %w", err))
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return unavailable(fmt.Errorf("open database: %w", err))
	}

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return unavailable(fmt.Errorf("enable WAL mode: %w", err))
	}

	// Set busy timeout as fallback protection (500ms, matches lock timeout)
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return unavailable(fmt.Errorf("set busy timeout: %w", err))
	}

	// Slightly faster writes, still safe with WAL
	conn.ExecContext(ctx, "PRAGMA synchronous=NORMAL")

	if _, err := runMigrations(ctx, conn, db.dir); err != nil {
		conn.Close()
		return unavailable(fmt.Errorf("run migrations: %w", err))
	}

	version, err := schemaVersion(ctx, conn)
	if err != nil {
		conn.Close()
		return unavailable(fmt.Errorf("read schema version: %w", err))
	}

	collections, err := loadCollections(ctx, conn)
	if err != nil {
		conn.Close()
		return unavailable(fmt.Errorf("load collections: %w", err))
	}

	return conn, collections, version, nil
}

// Close closes the database. A closed store may be opened again.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	return err
}

// Conn returns the underlying connection, opening the store if needed.
func (db *DB) Conn(ctx context.Context) (*sql.DB, error) {
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil, &StorageUnavailableError{Path: db.Path(), Err: fmt.Errorf("store closed")}
	}
	return db.conn, nil
}

// SchemaVersion returns the schema version the open store is at.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	if err := db.Open(ctx); err != nil {
		return 0, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.version, nil
}

// keyField returns the key field of a collection or a *SchemaError.
func (db *DB) keyField(name string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	field, ok := db.collections[name]
	if !ok {
		return "", &SchemaError{Collection: name, Version: db.version}
	}
	return field, nil
}

// withWriteLock runs fn while holding the cross-process write lock, so the
// CLI and the background agent never interleave writes.
func (db *DB) withWriteLock(ctx context.Context, fn func() error) error {
	locker := newWriteLocker(db.dir)
	if err := locker.acquire(ctx, lockWait); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

func schemaVersion(ctx context.Context, conn *sql.DB) (int, error) {
	var version string
	err := conn.QueryRowContext(ctx, "SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

func setSchemaVersion(ctx context.Context, conn *sql.DB, version int) error {
	_, err := conn.ExecContext(ctx, `INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}

// runMigrations brings the schema up to SchemaVersion.
func runMigrations(ctx context.Context, conn *sql.DB, dir string) (int, error) {
	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	// Quick check without lock - if already at current version, skip
	current, err := schemaVersion(ctx, conn)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	if current >= SchemaVersion {
		return 0, nil
	}

	migrationsRun := 0
	locker := newWriteLocker(dir)
	if err := locker.acquire(ctx, lockWait); err != nil {
		return 0, err
	}
	defer locker.release()

	// Another process may have migrated while we waited for the lock
	current, err = schemaVersion(ctx, conn)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}

	for _, migration := range Migrations {
		if migration.Version <= current {
			continue
		}
		if _, err := conn.ExecContext(ctx, migration.SQL); err != nil {
			return migrationsRun, fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}
		if err := setSchemaVersion(ctx, conn, migration.Version); err != nil {
			return migrationsRun, fmt.Errorf("set version %d: %w", migration.Version, err)
		}
		slog.Debug("migration applied", "version", migration.Version, "desc", migration.Description)
		migrationsRun++
	}

	return migrationsRun, nil
}

func loadCollections(ctx context.Context, conn *sql.DB) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT name, key_field FROM collections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, field string
		if err := rows.Scan(&name, &field); err != nil {
			return nil, err
		}
		out[name] = field
	}
	return out, rows.Err()
}
