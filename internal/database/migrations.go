package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "scans and drafts",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS scans (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    scanned_at TEXT NOT NULL,
    source_stats TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scan_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
    kind TEXT NOT NULL CHECK(kind IN ('news', 'paper')),
    position INTEGER NOT NULL,
    title TEXT,
    url TEXT,
    source TEXT,
    summary TEXT,
    authors TEXT,
    published_at TEXT,
    score INTEGER DEFAULT 0,
    classification TEXT
);

CREATE TABLE IF NOT EXISTS drafts (
    scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    position INTEGER NOT NULL,
    title TEXT,
    classification TEXT,
    body TEXT,
    requires_review INTEGER DEFAULT 0,
    review_reason TEXT,
    relevance_score INTEGER DEFAULT 50,
    source_url TEXT,
    hook TEXT,
    tags TEXT,
    PRIMARY KEY (scan_id, id)
);

CREATE INDEX IF NOT EXISTS idx_scan_items_scan ON scan_items(scan_id);
CREATE INDEX IF NOT EXISTS idx_drafts_classification ON drafts(classification);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "approvals and publish records",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS approvals (
    scan_id TEXT NOT NULL,
    draft_id TEXT NOT NULL,
    approved_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (scan_id, draft_id),
    FOREIGN KEY (scan_id, draft_id) REFERENCES drafts(scan_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS publish_records (
    scan_id TEXT NOT NULL,
    draft_id TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'posting', 'success', 'failed')),
    external_url TEXT,
    published_at TEXT,
    error_message TEXT,
    updated_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (scan_id, draft_id),
    FOREIGN KEY (scan_id, draft_id) REFERENCES drafts(scan_id, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_publish_records_status ON publish_records(status);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
