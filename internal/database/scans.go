package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/threadpilot/internal/model"
)

// SaveScan stores a completed scan with its items, drafts and initial approvals.
// Saving the same scan id again replaces the earlier copy.
func (db *DB) SaveScan(scanID string, result model.ScanResult, approved []string) error {
	stats, err := json.Marshal(result.ScannedItems.Stats)
	if err != nil {
		return fmt.Errorf("encoding source stats: %w", err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM scans WHERE id = ?", scanID); err != nil {
		return fmt.Errorf("replacing scan %s: %w", scanID, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO scans (id, status, scanned_at, source_stats) VALUES (?, ?, ?, ?)",
		scanID, result.Status, result.Timestamp, string(stats),
	); err != nil {
		return fmt.Errorf("inserting scan %s: %w", scanID, err)
	}

	for i, n := range result.ScannedItems.News {
		if _, err := tx.Exec(`
			INSERT INTO scan_items (scan_id, kind, position, title, url, source, summary, published_at, score, classification)
			VALUES (?, 'news', ?, ?, ?, ?, ?, ?, ?, ?)`,
			scanID, i, n.Title, n.URL, n.Source, n.Summary, n.PublishedAt, n.Score, n.Classification,
		); err != nil {
			return fmt.Errorf("inserting news item: %w", err)
		}
	}
	for i, p := range result.ScannedItems.Papers {
		authors, err := json.Marshal(p.Authors)
		if err != nil {
			return fmt.Errorf("encoding authors: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO scan_items (scan_id, kind, position, title, url, summary, authors, published_at, score, classification)
			VALUES (?, 'paper', ?, ?, ?, ?, ?, ?, ?, ?)`,
			scanID, i, p.Title, p.URL, p.Abstract, string(authors), p.PublishedAt, p.Score, p.Classification,
		); err != nil {
			return fmt.Errorf("inserting paper item: %w", err)
		}
	}

	for i, d := range result.Drafts {
		if _, err := tx.Exec(`
			INSERT INTO drafts (scan_id, id, position, title, classification, body, requires_review,
				review_reason, relevance_score, source_url, hook, tags)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			scanID, d.ID, i, d.Title, d.Classification, d.Body, d.RequiresReview,
			d.ReviewReason, d.RelevanceScore, d.SourceURL, d.Hook, d.Tags,
		); err != nil {
			return fmt.Errorf("inserting draft %s: %w", d.ID, err)
		}
	}

	if err := replaceApprovals(tx, scanID, approved); err != nil {
		return err
	}

	return tx.Commit()
}

// GetScan loads a stored scan result. Returns nil if the scan does not exist.
func (db *DB) GetScan(scanID string) (*model.ScanResult, error) {
	var (
		result model.ScanResult
		stats  sql.NullString
	)
	err := db.conn.QueryRow(
		"SELECT status, scanned_at, source_stats FROM scans WHERE id = ?", scanID,
	).Scan(&result.Status, &result.Timestamp, &stats)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading scan %s: %w", scanID, err)
	}

	if stats.Valid && stats.String != "" {
		if err := json.Unmarshal([]byte(stats.String), &result.ScannedItems.Stats); err != nil {
			return nil, fmt.Errorf("decoding source stats: %w", err)
		}
	}

	if err := db.loadItems(scanID, &result.ScannedItems); err != nil {
		return nil, err
	}

	rows, err := db.ListDrafts(DraftFilter{ScanID: scanID})
	if err != nil {
		return nil, err
	}
	result.Drafts = make([]model.Draft, 0, len(rows))
	for _, r := range rows {
		result.Drafts = append(result.Drafts, r.Draft)
	}

	return &result, nil
}

func (db *DB) loadItems(scanID string, items *model.ScannedItems) error {
	rows, err := db.conn.Query(`
		SELECT kind, COALESCE(title, ''), COALESCE(url, ''), COALESCE(source, ''), COALESCE(summary, ''),
		       COALESCE(authors, ''), COALESCE(published_at, ''), score, COALESCE(classification, '')
		FROM scan_items WHERE scan_id = ? ORDER BY kind, position`, scanID)
	if err != nil {
		return fmt.Errorf("loading scan items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, title, url, source, summary, authors, published, class string
		var score int
		if err := rows.Scan(&kind, &title, &url, &source, &summary, &authors, &published, &score, &class); err != nil {
			return err
		}
		if kind == "paper" {
			p := model.PaperItem{Title: title, URL: url, Abstract: summary, PublishedAt: published, Score: score, Classification: class}
			if authors != "" {
				if err := json.Unmarshal([]byte(authors), &p.Authors); err != nil {
					return fmt.Errorf("decoding authors: %w", err)
				}
			}
			items.Papers = append(items.Papers, p)
			continue
		}
		items.News = append(items.News, model.NewsItem{
			Title: title, URL: url, Source: source, Summary: summary,
			PublishedAt: published, Score: score, Classification: class,
		})
	}
	return rows.Err()
}

// ListScans returns the most recent scans first, with per-scan draft counts.
func (db *DB) ListScans(limit int) ([]ScanSummary, error) {
	rows, err := db.conn.Query(`
		SELECT s.id, s.status, s.scanned_at,
		       (SELECT COUNT(*) FROM drafts d WHERE d.scan_id = s.id),
		       (SELECT COUNT(*) FROM approvals a WHERE a.scan_id = s.id),
		       (SELECT COUNT(*) FROM publish_records p WHERE p.scan_id = s.id AND p.status = 'success')
		FROM scans s
		ORDER BY s.created_at DESC, s.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	defer rows.Close()

	var out []ScanSummary
	for rows.Next() {
		var s ScanSummary
		if err := rows.Scan(&s.ID, &s.Status, &s.ScannedAt, &s.Drafts, &s.Approved, &s.Published); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSnapshot restores the most recently stored scan along with its
// approvals and publish records. Returns nil if nothing has been stored.
func (db *DB) LatestSnapshot() (*Snapshot, error) {
	var scanID string
	err := db.conn.QueryRow("SELECT id FROM scans ORDER BY created_at DESC, rowid DESC LIMIT 1").Scan(&scanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest scan: %w", err)
	}
	return db.Snapshot(scanID)
}

// Snapshot loads one stored scan with its approvals and publish records.
// Returns nil if the scan does not exist.
func (db *DB) Snapshot(scanID string) (*Snapshot, error) {
	result, err := db.GetScan(scanID)
	if err != nil || result == nil {
		return nil, err
	}
	approved, err := db.Approvals(scanID)
	if err != nil {
		return nil, err
	}
	records, err := db.PublishRecords(scanID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{ScanID: scanID, Result: *result, Approved: approved, Records: records}, nil
}

// ListDrafts returns stored drafts matching the filter, ordered by scan and position.
func (db *DB) ListDrafts(f DraftFilter) ([]DraftRow, error) {
	q := sq.Select(
		"d.scan_id", "d.id", "COALESCE(d.title, '')", "COALESCE(d.classification, '')", "COALESCE(d.body, '')",
		"d.requires_review", "COALESCE(d.review_reason, '')", "d.relevance_score",
		"COALESCE(d.source_url, '')", "COALESCE(d.hook, '')", "COALESCE(d.tags, '')",
		"a.draft_id IS NOT NULL", "COALESCE(p.status, '')",
	).
		From("drafts d").
		LeftJoin("approvals a ON a.scan_id = d.scan_id AND a.draft_id = d.id").
		LeftJoin("publish_records p ON p.scan_id = d.scan_id AND p.draft_id = d.id").
		OrderBy("d.scan_id", "d.position")

	if f.ScanID != "" {
		q = q.Where(sq.Eq{"d.scan_id": f.ScanID})
	}
	if f.Classification != "" {
		q = q.Where(sq.Eq{"d.classification": f.Classification})
	}
	if f.NeedsReview != nil {
		q = q.Where(sq.Eq{"d.requires_review": *f.NeedsReview})
	}
	if f.MinScore > 0 {
		q = q.Where(sq.GtOrEq{"d.relevance_score": f.MinScore})
	}
	if f.ApprovedOnly {
		q = q.Where("a.draft_id IS NOT NULL")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	rows, err := q.RunWith(db.conn).Query()
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	defer rows.Close()

	var out []DraftRow
	for rows.Next() {
		var (
			r      DraftRow
			status string
		)
		d := &r.Draft
		if err := rows.Scan(&r.ScanID, &d.ID, &d.Title, &d.Classification, &d.Body,
			&d.RequiresReview, &d.ReviewReason, &d.RelevanceScore,
			&d.SourceURL, &d.Hook, &d.Tags, &r.Approved, &status); err != nil {
			return nil, err
		}
		r.Status = model.PublishStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
