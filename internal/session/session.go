// Package session owns the dashboard state: the current scan, its approval
// and selection sets, and the publish history of its drafts.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TobiSchelling/threadpilot/internal/agent"
	"github.com/TobiSchelling/threadpilot/internal/config"
	"github.com/TobiSchelling/threadpilot/internal/logging"
	"github.com/TobiSchelling/threadpilot/internal/model"
)

var (
	ErrScanInProgress     = errors.New("a scan is already in progress")
	ErrUnknownDraft       = errors.New("unknown draft")
	ErrPublishInProgress  = errors.New("publishing is already in progress")
	ErrNoStructuredResult = errors.New("agent returned no structured result")
)

// excerptLimit caps free-text replies surfaced as error detail.
const excerptLimit = 300

// Store persists session state between processes.
type Store interface {
	SaveScan(scanID string, result model.ScanResult, approved []string) error
	SaveApprovals(scanID string, approved []string) error
	SavePublishRecord(scanID string, rec model.PublishRecord) error
}

// Ledger remembers which drafts were posted, independent of this process.
type Ledger interface {
	HasPosted(ctx context.Context, key string) (bool, error)
	MarkPosted(ctx context.Context, key string) error
}

// Archiver keeps a copy of each completed scan.
type Archiver interface {
	ArchiveScan(ctx context.Context, scanID string, result model.ScanResult) error
}

// Timer is a pending step callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Session.
type Option func(*Session)

func WithStore(st Store) Option { return func(s *Session) { s.store = st } }

func WithLedger(l Ledger) Option { return func(s *Session) { s.ledger = l } }

func WithArchiver(a Archiver) Option { return func(s *Session) { s.archiver = a } }

// WithAfterFunc replaces time.AfterFunc for the progress steps.
func WithAfterFunc(f AfterFunc) Option { return func(s *Session) { s.afterFunc = f } }

func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// Session is safe for concurrent use. Agent calls are made without holding
// the lock; every deferred mutation is guarded by an epoch token.
type Session struct {
	caller       agent.Caller
	scanAgent    string
	publishAgent string
	delays       []time.Duration
	heuristic    Heuristic
	store        Store
	ledger       Ledger
	archiver     Archiver
	afterFunc    AfterFunc
	now          func() time.Time
	log          zerolog.Logger

	mu          sync.Mutex
	settings    config.Settings
	state       model.ScanState
	step        int
	scanErr     string
	activeAgent string
	scanEpoch   uint64
	timers      []Timer

	scanID   string
	result   *model.ScanResult
	approved map[string]bool
	selected map[string]bool

	records       map[string]model.PublishRecord
	publishEpochs map[string]uint64
	publishing    int
	bulkRunning   bool

	classFilter  string
	reviewFilter ReviewFilter

	listeners []func(Snapshot)
}

// New creates an idle session that calls agents through caller.
func New(caller agent.Caller, cfg *config.Config, opts ...Option) *Session {
	s := &Session{
		caller:        caller,
		scanAgent:     cfg.Agents.ScanAgent,
		publishAgent:  cfg.Agents.PublishAgent,
		delays:        cfg.Scan.StepDelays,
		heuristic:     NewHeuristic(cfg.Publish),
		afterFunc:     realAfterFunc,
		now:           time.Now,
		log:           logging.With("session"),
		settings:      cfg.Settings,
		state:         model.ScanIdle,
		approved:      map[string]bool{},
		selected:      map[string]bool{},
		records:       map[string]model.PublishRecord{},
		publishEpochs: map[string]uint64{},
		reviewFilter:  ReviewAll,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot is a copy of the session state for rendering.
type Snapshot struct {
	ScanID               string                         `json:"scan_id"`
	State                model.ScanState                `json:"state"`
	Step                 int                            `json:"step"`
	StepName             string                         `json:"step_name"`
	Error                string                         `json:"error,omitempty"`
	ActiveAgent          string                         `json:"active_agent,omitempty"`
	Result               *model.ScanResult              `json:"result,omitempty"`
	Approved             []string                       `json:"approved"`
	Selected             []string                       `json:"selected"`
	Records              map[string]model.PublishRecord `json:"records"`
	ClassificationFilter string                         `json:"classification_filter"`
	ReviewFilter         ReviewFilter                   `json:"review_filter"`
	Settings             config.Settings                `json:"settings"`
}

// Snapshot returns a consistent copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ScanID:               s.scanID,
		State:                s.state,
		Step:                 s.step,
		StepName:             model.StepName(s.step),
		Error:                s.scanErr,
		ActiveAgent:          s.activeAgent,
		Approved:             s.orderedLocked(s.approved),
		Selected:             s.orderedLocked(s.selected),
		Records:              make(map[string]model.PublishRecord, len(s.records)),
		ClassificationFilter: s.classFilter,
		ReviewFilter:         s.reviewFilter,
		Settings:             s.settings,
	}
	if s.result != nil {
		r := *s.result
		r.Drafts = append([]model.Draft(nil), s.result.Drafts...)
		snap.Result = &r
	}
	for id, rec := range s.records {
		snap.Records[id] = rec
	}
	return snap
}

// OnChange registers fn to be called with a fresh snapshot after every state
// change. Listeners run outside the lock, in registration order.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) notify() {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	listeners := make([]func(Snapshot), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// Settings returns the settings sent with the next scan.
func (s *Session) Settings() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings replaces the settings used by subsequent scans.
func (s *Session) SetSettings(settings config.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.notify()
}

// Restore loads a previously persisted scan as the completed current state.
// Unknown approval ids are dropped.
func (s *Session) Restore(scanID string, result model.ScanResult, approved []string, records []model.PublishRecord) error {
	s.mu.Lock()
	if s.state == model.ScanScanning {
		s.mu.Unlock()
		return ErrScanInProgress
	}
	if s.publishing > 0 || s.bulkRunning {
		s.mu.Unlock()
		return ErrPublishInProgress
	}

	s.scanEpoch++
	s.stopTimersLocked()
	s.scanID = scanID
	s.result = &result
	s.state = model.ScanCompleted
	s.step = model.StepComplete
	s.scanErr = ""
	s.activeAgent = ""
	s.approved = map[string]bool{}
	for _, id := range approved {
		if _, ok := result.Draft(id); ok {
			s.approved[id] = true
		}
	}
	s.selected = map[string]bool{}
	s.records = map[string]model.PublishRecord{}
	s.publishEpochs = map[string]uint64{}
	for _, rec := range records {
		if _, ok := result.Draft(rec.DraftID); ok {
			s.records[rec.DraftID] = rec
		}
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// orderedLocked returns the members of set in draft scan order.
func (s *Session) orderedLocked(set map[string]bool) []string {
	if s.result == nil {
		return []string{}
	}
	return orderedIDs(s.result.Drafts, set)
}

// orderedIDs returns the members of set in draft order.
func orderedIDs(drafts []model.Draft, set map[string]bool) []string {
	ids := []string{}
	for _, d := range drafts {
		if set[d.ID] {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func (s *Session) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}
