package database

import "github.com/TobiSchelling/threadpilot/internal/model"

// Snapshot is everything needed to restore a session from a stored scan.
type Snapshot struct {
	ScanID   string
	Result   model.ScanResult
	Approved []string
	Records  []model.PublishRecord
}

// ScanSummary is one row of the scan history.
type ScanSummary struct {
	ID        string
	Status    string
	ScannedAt string
	Drafts    int
	Approved  int
	Published int
}

// DraftFilter narrows ListDrafts. Zero values disable a condition.
type DraftFilter struct {
	ScanID         string
	Classification string
	NeedsReview    *bool
	MinScore       int
	ApprovedOnly   bool
	Limit          uint64
}

// DraftRow is a stored draft together with its approval and publish state.
type DraftRow struct {
	ScanID   string
	Draft    model.Draft
	Approved bool
	Status   model.PublishStatus // empty when never published
}

// Stats holds aggregate counts across all stored scans.
type Stats struct {
	Scans     int
	Drafts    int
	Approved  int
	Published int
	Failed    int
}
