package database

import (
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/threadpilot/internal/model"
)

// SaveApprovals replaces the approved set of a scan.
func (db *DB) SaveApprovals(scanID string, approved []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := replaceApprovals(tx, scanID, approved); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceApprovals(tx *sql.Tx, scanID string, approved []string) error {
	if _, err := tx.Exec("DELETE FROM approvals WHERE scan_id = ?", scanID); err != nil {
		return fmt.Errorf("clearing approvals: %w", err)
	}
	for _, id := range approved {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO approvals (scan_id, draft_id) VALUES (?, ?)", scanID, id,
		); err != nil {
			return fmt.Errorf("approving %s: %w", id, err)
		}
	}
	return nil
}

// Approvals returns the approved draft ids of a scan in draft order.
func (db *DB) Approvals(scanID string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT a.draft_id FROM approvals a
		JOIN drafts d ON d.scan_id = a.scan_id AND d.id = a.draft_id
		WHERE a.scan_id = ?
		ORDER BY d.position`, scanID)
	if err != nil {
		return nil, fmt.Errorf("loading approvals: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SavePublishRecord upserts the latest publish attempt of a draft.
func (db *DB) SavePublishRecord(scanID string, rec model.PublishRecord) error {
	_, err := db.conn.Exec(`
		INSERT INTO publish_records (scan_id, draft_id, status, external_url, published_at, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(scan_id, draft_id) DO UPDATE SET
			status = excluded.status,
			external_url = excluded.external_url,
			published_at = excluded.published_at,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		scanID, rec.DraftID, string(rec.Status), rec.ExternalURL, rec.Timestamp, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("saving publish record for %s: %w", rec.DraftID, err)
	}
	return nil
}

// PublishRecords returns every stored publish record of a scan in draft order.
func (db *DB) PublishRecords(scanID string) ([]model.PublishRecord, error) {
	rows, err := db.conn.Query(`
		SELECT p.draft_id, p.status, COALESCE(p.external_url, ''), COALESCE(p.published_at, ''), COALESCE(p.error_message, '')
		FROM publish_records p
		JOIN drafts d ON d.scan_id = p.scan_id AND d.id = p.draft_id
		WHERE p.scan_id = ?
		ORDER BY d.position`, scanID)
	if err != nil {
		return nil, fmt.Errorf("loading publish records: %w", err)
	}
	defer rows.Close()

	var out []model.PublishRecord
	for rows.Next() {
		var (
			r      model.PublishRecord
			status string
		)
		if err := rows.Scan(&r.DraftID, &status, &r.ExternalURL, &r.Timestamp, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.Status = model.PublishStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetStats returns aggregate counts across all stored scans.
func (db *DB) GetStats() (Stats, error) {
	var s Stats
	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM scans", &s.Scans},
		{"SELECT COUNT(*) FROM drafts", &s.Drafts},
		{"SELECT COUNT(*) FROM approvals", &s.Approved},
		{"SELECT COUNT(*) FROM publish_records WHERE status = 'success'", &s.Published},
		{"SELECT COUNT(*) FROM publish_records WHERE status = 'failed'", &s.Failed},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return s, fmt.Errorf("stats query: %w", err)
		}
	}
	return s, nil
}
