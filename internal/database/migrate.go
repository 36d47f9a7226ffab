package database

import (
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/threadpilot/internal/logging"
)

// schemaVersion reads PRAGMA user_version.
func schemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion returns the schema version of the open database.
func (db *DB) SchemaVersion() (int, error) {
	return schemaVersion(db.conn)
}

// migrate applies every migration newer than the stored user_version, one
// transaction each, and returns how many ran. A database written by a newer
// build is rejected rather than silently used.
func migrate(conn *sql.DB) (int, error) {
	current, err := schemaVersion(conn)
	if err != nil {
		return 0, err
	}

	latest := latestVersion()
	if current > latest {
		return 0, fmt.Errorf("database schema version %d is newer than supported version %d", current, latest)
	}
	if current == latest {
		return 0, nil
	}

	log := logging.With("database")
	applied := 0
	prev := 0
	for _, m := range migrations {
		if m.Version <= prev {
			return applied, fmt.Errorf("migration %d is out of order", m.Version)
		}
		prev = m.Version
		if m.Version <= current {
			continue
		}

		log.Info().Int("version", m.Version).Str("description", m.Description).Msg("applying migration")

		tx, err := conn.Begin()
		if err != nil {
			return applied, fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// modernc/sqlite does not apply user_version inside a transaction.
		// The DDL is idempotent, so a crash here only re-runs this step.
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return applied, fmt.Errorf("setting version %d: %w", m.Version, err)
		}
		applied++
	}

	log.Info().Int("from", current).Int("to", latest).Int("applied", applied).Msg("schema up to date")
	return applied, nil
}
