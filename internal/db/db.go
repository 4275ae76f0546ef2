// Package db is the SQLite persistence layer for the station catalog:
// stations, raw measurements, blacklists and archival blocks.
package db

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationsFS returns the embedded migration sources.
func MigrationsFS() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		// The embed directive guarantees the directory exists.
		panic(err)
	}
	return sub
}

type DB struct {
	*sql.DB
}

// Queryer is the common surface of *sql.DB and *sql.Tx. Store methods
// take it so task bodies can run them inside their own transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the database without touching the schema. Use this for
// migration commands; NewDB for normal operation.
func Open(path string) (*DB, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single writer keeps SQLITE_BUSY out of the task transactions.
	sdb.SetMaxOpenConns(1)
	return &DB{sdb}, nil
}

// NewDB opens the database and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SchemaVersion returns the current migration version string, as
// recorded by the migration tooling. It is stamped into every archive.
func (db *DB) SchemaVersion(ctx context.Context, q Queryer) (string, error) {
	var version string
	err := q.QueryRowContext(ctx,
		`SELECT CAST(version AS TEXT) FROM schema_migrations LIMIT 1`).Scan(&version)
	if err != nil {
		return "", err
	}
	return version, nil
}

// IsConflict reports whether err is a uniqueness or other constraint
// violation, which the tasks treat as "a concurrent writer won the
// race" rather than a failure.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint")
}
