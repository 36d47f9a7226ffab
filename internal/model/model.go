package model

import "strings"

// SegmentSeparator is the line that separates the posts of a thread body.
const SegmentSeparator = "---"

// Pipeline-reported scan statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// NewsItem is a scored item from the news source.
type NewsItem struct {
	Title          string `json:"title"`
	URL            string `json:"url"`
	Source         string `json:"source"`
	Summary        string `json:"summary"`
	PublishedAt    string `json:"published_at"`
	Score          int    `json:"score"`
	Classification string `json:"classification"`
}

// PaperItem is a scored item from the research paper source.
type PaperItem struct {
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Abstract       string   `json:"abstract"`
	Authors        []string `json:"authors"`
	PublishedAt    string   `json:"published_at"`
	Score          int      `json:"score"`
	Classification string   `json:"classification"`
}

// SourceStats holds fetch and filter counts for one source.
type SourceStats struct {
	Source   string `json:"source"`
	Fetched  int    `json:"fetched"`
	Filtered int    `json:"filtered"`
}

// ScannedItems groups everything a scan looked at.
type ScannedItems struct {
	News   []NewsItem    `json:"news"`
	Papers []PaperItem   `json:"papers"`
	Stats  []SourceStats `json:"stats"`
}

// Draft is one generated thread awaiting approval or publication.
type Draft struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Classification string `json:"classification"`
	Body           string `json:"body"`
	RequiresReview bool   `json:"requires_review"`
	ReviewReason   string `json:"review_reason"`
	RelevanceScore int    `json:"relevance_score"`
	SourceURL      string `json:"source_url"`
	Hook           string `json:"hook"`
	Tags           string `json:"tags"`
}

// Segments splits the body into the individual posts of the thread.
func (d Draft) Segments() []string {
	lines := strings.Split(strings.ReplaceAll(d.Body, "\r\n", "\n"), "\n")
	var (
		segments []string
		current  []string
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text != "" {
			segments = append(segments, text)
		}
		current = current[:0]
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == SegmentSeparator {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return segments
}

// ScanResult is produced once per completed scan.
type ScanResult struct {
	Status       string       `json:"status"`
	ScannedItems ScannedItems `json:"scanned_items"`
	Drafts       []Draft      `json:"drafts"`
	Timestamp    string       `json:"timestamp"`
}

// Draft returns the draft with the given id.
func (r *ScanResult) Draft(id string) (Draft, bool) {
	if r == nil {
		return Draft{}, false
	}
	for _, d := range r.Drafts {
		if d.ID == id {
			return d, true
		}
	}
	return Draft{}, false
}

// PublishStatus is the lifecycle state of one publish record.
type PublishStatus string

const (
	PublishPending PublishStatus = "pending"
	PublishPosting PublishStatus = "posting"
	PublishSuccess PublishStatus = "success"
	PublishFailed  PublishStatus = "failed"
)

// Terminal reports whether no further transition happens without a retry.
func (s PublishStatus) Terminal() bool {
	return s == PublishSuccess || s == PublishFailed
}

// PublishRecord tracks the most recent publish attempt for a draft.
type PublishRecord struct {
	DraftID      string        `json:"draft_id"`
	Status       PublishStatus `json:"status"`
	ExternalURL  string        `json:"external_url,omitempty"`
	Timestamp    string        `json:"timestamp,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// PublishOutcome is the sanitized structured reply of a publish call.
type PublishOutcome struct {
	Status      string
	ExternalURL string
	Timestamp   string
	Error       string
}

// ScanState is the state of the scan controller.
type ScanState string

const (
	ScanIdle      ScanState = "idle"
	ScanScanning  ScanState = "scanning"
	ScanCompleted ScanState = "completed"
	ScanFailed    ScanState = "failed"
)

// Progress steps shown while a scan runs. StepComplete is terminal.
const (
	StepNone = iota
	StepFetching
	StepScoring
	StepClassifying
	StepDrafting
	StepComplete
)

var stepNames = map[int]string{
	StepFetching:    "Fetching sources",
	StepScoring:     "Scoring relevance",
	StepClassifying: "Classifying items",
	StepDrafting:    "Drafting threads",
	StepComplete:    "Complete",
}

// StepName returns the display label of a progress step.
func StepName(step int) string {
	return stepNames[step]
}
