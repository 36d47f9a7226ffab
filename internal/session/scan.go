package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TobiSchelling/threadpilot/internal/agent"
	"github.com/TobiSchelling/threadpilot/internal/envelope"
	"github.com/TobiSchelling/threadpilot/internal/model"
	"github.com/TobiSchelling/threadpilot/internal/sanitize"
)

// Scan runs one scan to completion and returns its error, if any. The
// session moves to scanning immediately; callers wanting a non-blocking
// start run Scan in a goroutine and observe progress with OnChange.
func (s *Session) Scan(ctx context.Context) error {
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
	epoch := s.scanEpoch
	s.state = model.ScanScanning
	s.scanErr = ""
	s.step = model.StepFetching
	s.activeAgent = s.scanAgent
	s.startTimersLocked(epoch)
	message := agent.ScanMessage(s.settings)
	s.mu.Unlock()
	s.notify()

	s.log.Info().Str("agent", s.scanAgent).Msg("scan started")
	res, err := s.caller.Call(ctx, message, s.scanAgent)
	return s.finishScan(ctx, epoch, res, err)
}

// Scanning reports whether a scan is in flight.
func (s *Session) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == model.ScanScanning
}

func (s *Session) finishScan(ctx context.Context, epoch uint64, res *agent.Result, callErr error) error {
	result, scanErr := interpretScan(res, callErr)
	if scanErr != nil {
		return s.failScan(epoch, scanErr)
	}

	s.mu.Lock()
	if epoch != s.scanEpoch {
		s.mu.Unlock()
		s.log.Debug().Uint64("epoch", epoch).Msg("discarding superseded scan result")
		return nil
	}
	approvedSet := autoApprove(result.Drafts, s.settings.AutoApproveThreshold)
	s.mu.Unlock()

	// The scan is stored before it becomes visible, so approvals and publish
	// records written against it always find their drafts.
	scanID := uuid.NewString()
	approved := orderedIDs(result.Drafts, approvedSet)
	s.saveScan(scanID, result, approved)

	s.mu.Lock()
	if epoch != s.scanEpoch {
		s.mu.Unlock()
		s.log.Debug().Str("scan_id", scanID).Msg("scan superseded while saving")
		return nil
	}
	s.stopTimersLocked()
	s.activeAgent = ""
	s.scanID = scanID
	s.result = &result
	s.approved = approvedSet
	s.selected = map[string]bool{}
	s.records = map[string]model.PublishRecord{}
	s.publishEpochs = map[string]uint64{}
	s.step = model.StepComplete
	s.state = model.ScanCompleted
	s.mu.Unlock()

	s.log.Info().
		Str("scan_id", scanID).
		Int("drafts", len(result.Drafts)).
		Int("approved", len(approved)).
		Msg("scan completed")
	s.notify()
	s.archiveScan(ctx, scanID, result)
	return nil
}

func (s *Session) failScan(epoch uint64, scanErr error) error {
	s.mu.Lock()
	if epoch != s.scanEpoch {
		s.mu.Unlock()
		s.log.Debug().Uint64("epoch", epoch).Msg("discarding superseded scan result")
		return scanErr
	}
	s.stopTimersLocked()
	s.activeAgent = ""
	s.state = model.ScanFailed
	s.scanErr = scanErr.Error()
	s.mu.Unlock()
	s.log.Warn().Err(scanErr).Msg("scan failed")
	s.notify()
	return scanErr
}

// interpretScan turns an agent reply into a scan result or an error.
func interpretScan(res *agent.Result, callErr error) (model.ScanResult, error) {
	switch {
	case callErr != nil:
		return model.ScanResult{}, callErr
	case res == nil:
		return model.ScanResult{}, errors.New("scan agent returned no result")
	case !res.Success:
		if res.Error == "" {
			return model.ScanResult{}, errors.New("scan agent reported failure")
		}
		return model.ScanResult{}, errors.New(res.Error)
	}

	found := envelope.Locate(res.Envelope(), sanitize.ScanMarkers...)
	if found == nil {
		excerpt := envelope.Excerpt(envelope.Text(res.Response), excerptLimit)
		if excerpt == "" {
			return model.ScanResult{}, ErrNoStructuredResult
		}
		return model.ScanResult{}, fmt.Errorf("%w: %s", ErrNoStructuredResult, excerpt)
	}
	return sanitize.Scan(found), nil
}

// autoApprove selects drafts that need no review and score at or above threshold.
func autoApprove(drafts []model.Draft, threshold int) map[string]bool {
	approved := map[string]bool{}
	for _, d := range drafts {
		if !d.RequiresReview && d.RelevanceScore >= threshold {
			approved[d.ID] = true
		}
	}
	return approved
}

func (s *Session) startTimersLocked(epoch uint64) {
	s.stopTimersLocked()
	for i, d := range s.delays {
		step := model.StepScoring + i
		if step >= model.StepComplete {
			break
		}
		s.timers = append(s.timers, s.afterFunc(d, func() { s.advance(epoch, step) }))
	}
}

func (s *Session) stopTimersLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// advance moves the progress indicator forward. Callbacks from a superseded
// scan, or arriving after the real result, are discarded.
func (s *Session) advance(epoch uint64, step int) {
	s.mu.Lock()
	if epoch != s.scanEpoch || s.state != model.ScanScanning || step <= s.step {
		s.mu.Unlock()
		return
	}
	s.step = step
	s.mu.Unlock()
	s.notify()
}

// saveScan stores a completed scan. Failures are logged and never change
// the scan outcome.
func (s *Session) saveScan(scanID string, result model.ScanResult, approved []string) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveScan(scanID, result, approved); err != nil {
		s.log.Error().Err(err).Str("scan_id", scanID).Msg("saving scan")
	}
}

func (s *Session) archiveScan(ctx context.Context, scanID string, result model.ScanResult) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveScan(ctx, scanID, result); err != nil {
		s.log.Error().Err(err).Str("scan_id", scanID).Msg("archiving scan")
	}
}
