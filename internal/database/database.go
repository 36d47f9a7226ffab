// Package database stores scans, approvals and publish records in SQLite.
package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/TobiSchelling/threadpilot/internal/logging"
)

// busyTimeoutMS lets concurrent writers from the dashboard wait for the lock
// instead of failing with SQLITE_BUSY.
const busyTimeoutMS = 5000

// DB wraps a SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// dsn builds a connection string that applies the pragmas to every pooled
// connection. Cascading deletes in SaveScan depend on foreign_keys being on.
func dsn(dbPath string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	return "file:" + dbPath + "?" + q.Encode()
}

// Open creates or opens a SQLite database at the given path and migrates it
// to the latest schema.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to %s: %w", dbPath, err)
	}

	if _, err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	log := logging.With("database")
	log.Debug().Str("path", dbPath).Msg("database ready")
	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}
