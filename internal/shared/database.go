package shared

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryDatabase is the path that opens a private in-memory database.
const MemoryDatabase = ":memory:"

// NewDatabase opens a connection to a SQLite database at the specified path.
//
// The path can be [MemoryDatabase] for an in-memory database. Every pooled connection to ":memory:" would
// see its own empty database, so in-memory databases are pinned to a single connection.
// File databases use WAL journaling and a busy timeout so the page-facing server and background sync can share them.
func NewDatabase(path string) (*sql.DB, error) {
	dsn := path
	if path != MemoryDatabase && !strings.Contains(path, "?") {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStorage, err)
	}

	if path == MemoryDatabase {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStorage, err)
	}

	return db, nil
}

// ConfigureDatabase sets connection pool settings for the database.
//
// Non-positive values leave the driver defaults in place.
func ConfigureDatabase(db *sql.DB, maxOpenConns, maxIdleConns int) {
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
}

// OpenDatabase opens the configured database, applies pool settings and runs pending migrations.
func OpenDatabase(c DatabaseConfig) (*sql.DB, error) {
	db, err := NewDatabase(c.Path)
	if err != nil {
		return nil, err
	}

	if c.Path != MemoryDatabase {
		ConfigureDatabase(db, c.MaxOpenConns, c.MaxIdleConns)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return db, nil
}
