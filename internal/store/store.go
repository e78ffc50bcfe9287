// Package store is the relational persistence backend behind every
// in-memory cache in Nexus (spec.md §6): projects, requirements, features,
// tasks, agents, checkpoints, reviews, project states, and interview
// sessions. A single sqlite3 database file backs all of it; schema is
// managed by versioned migrations rather than the ad hoc table/index
// probing the teacher's internal/learning/store.go uses, because the
// table set here is large enough that idempotent, versioned migrations
// are the better fit.
//
// Grounded on internal/learning/store.go (NewStore/Close/the ExecContext +
// sql.NullString scan idiom for nullable columns) for the DAO shape, and on
// codeready-toolchain-tarsy's pkg/database/client.go for the golang-migrate
// iofs-over-embed.FS wiring (adapted from its Postgres driver to
// mattn/go-sqlite3's own migrate driver).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// DB wraps the shared *sql.DB handle every DAO in this package operates
// against. Embed it (or pass *DB around) from the packages that need a
// Persister/Store/RequirementStore/SessionStore implementation.
type DB struct {
	conn *sql.DB
}

// Open connects to the sqlite3 database at path (":memory:" for an
// ephemeral database, as in-process tests use) and applies every pending
// migration.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// sqlite3 only tolerates one writer at a time; a single shared
	// connection avoids SQLITE_BUSY under the coordinator's concurrent
	// wave dispatch rather than serializing through a connection pool.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	driver, err := sqlite3.WithInstance(db.conn, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("store: sqlite3 migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("store: migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return sourceDriver.Close()
}

// Close releases the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the raw *sql.DB for callers that need the handle directly
// (for example, to read connection-pool statistics) without a DAO surface.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// exec, query and queryRow are thin wrappers kept for symmetry with the
// per-entity DAO files in this package; entity-specific row mapping lives
// in projects.go, reviews.go, etc.
func (db *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

func (db *DB) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}
