package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/threadpilot/internal/agent"
	"github.com/TobiSchelling/threadpilot/internal/envelope"
	"github.com/TobiSchelling/threadpilot/internal/model"
	"github.com/TobiSchelling/threadpilot/internal/sanitize"
)

// BulkReport summarizes one PublishAllApproved run. Ids are in scan order.
type BulkReport struct {
	Published []string          `json:"published"`
	Skipped   []string          `json:"skipped"`
	Failed    []string          `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func (r *BulkReport) fail(id, msg string) {
	r.Failed = append(r.Failed, id)
	if r.Errors == nil {
		r.Errors = map[string]string{}
	}
	r.Errors[id] = msg
}

// Publish posts one draft and returns its final record. Agent and transport
// failures end up in the record; the error is reserved for requests that
// could not start.
func (s *Session) Publish(ctx context.Context, id string) (model.PublishRecord, error) {
	s.mu.Lock()
	if s.state == model.ScanScanning {
		s.mu.Unlock()
		return model.PublishRecord{}, ErrScanInProgress
	}
	draft, ok := s.result.Draft(id)
	if !ok {
		s.mu.Unlock()
		return model.PublishRecord{}, fmt.Errorf("%w: %s", ErrUnknownDraft, id)
	}
	if rec, ok := s.records[id]; ok && !rec.Status.Terminal() {
		s.mu.Unlock()
		return model.PublishRecord{}, fmt.Errorf("%w: %s", ErrPublishInProgress, id)
	}

	s.publishEpochs[id]++
	epoch := s.publishEpochs[id]
	scanID := s.scanID
	s.records[id] = model.PublishRecord{DraftID: id, Status: model.PublishPending}
	s.publishing++
	s.activeAgent = s.publishAgent
	s.mu.Unlock()
	s.notify()

	s.mu.Lock()
	if s.publishEpochs[id] == epoch && s.scanID == scanID {
		s.records[id] = model.PublishRecord{DraftID: id, Status: model.PublishPosting}
	}
	s.mu.Unlock()
	s.notify()

	s.log.Info().Str("draft", id).Str("agent", s.publishAgent).Msg("publishing draft")
	res, err := s.caller.Call(ctx, agent.PublishMessage(draft), s.publishAgent)
	rec := s.interpretPublish(id, res, err)

	s.mu.Lock()
	s.publishing--
	if s.publishing == 0 && s.state != model.ScanScanning {
		s.activeAgent = ""
	}
	stale := s.publishEpochs[id] != epoch || s.scanID != scanID
	if !stale {
		s.records[id] = rec
	}
	s.mu.Unlock()
	s.notify()

	if stale {
		s.log.Warn().Str("draft", id).Msg("discarding superseded publish result")
		return rec, nil
	}

	ev := s.log.Info()
	if rec.Status == model.PublishFailed {
		ev = s.log.Warn().Str("error", rec.ErrorMessage)
	}
	ev.Str("draft", id).Str("status", string(rec.Status)).Str("url", rec.ExternalURL).Msg("publish finished")

	s.persistRecord(ctx, scanID, rec)
	return rec, nil
}

// interpretPublish maps an agent reply onto a terminal publish record.
func (s *Session) interpretPublish(id string, res *agent.Result, callErr error) model.PublishRecord {
	rec := model.PublishRecord{DraftID: id, Status: model.PublishFailed, Timestamp: s.timestamp()}

	switch {
	case callErr != nil:
		rec.ErrorMessage = callErr.Error()
		return rec
	case res == nil:
		rec.ErrorMessage = "publish agent returned no result"
		return rec
	case !res.Success:
		rec.ErrorMessage = res.Error
		if rec.ErrorMessage == "" {
			rec.ErrorMessage = "publish agent reported failure"
		}
		return rec
	}

	if found := envelope.Locate(res.Envelope(), sanitize.PublishMarker); found != nil {
		out := sanitize.Publish(found)
		if strings.EqualFold(strings.TrimSpace(out.Status), string(model.PublishSuccess)) {
			rec.Status = model.PublishSuccess
			rec.ExternalURL = out.ExternalURL
			if out.Timestamp != "" {
				rec.Timestamp = out.Timestamp
			}
			return rec
		}
		rec.ErrorMessage = out.Error
		if rec.ErrorMessage == "" {
			rec.ErrorMessage = fmt.Sprintf("publish reported status %q", out.Status)
		}
		return rec
	}

	// Keywords are matched against the reply text only, never against the
	// key names of a structured reply.
	if s.heuristic.Confirms(envelope.FreeText(res.Response)) {
		rec.Status = model.PublishSuccess
		return rec
	}
	rec.ErrorMessage = envelope.Excerpt(envelope.Text(res.Response), excerptLimit)
	if rec.ErrorMessage == "" {
		rec.ErrorMessage = ErrNoStructuredResult.Error()
	}
	return rec
}

// PublishAllApproved publishes every approved draft in scan order, one at a
// time. Drafts already published successfully are skipped. A failure never
// stops the loop; a cancelled context stops it before the next draft.
func (s *Session) PublishAllApproved(ctx context.Context) (BulkReport, error) {
	report := BulkReport{Published: []string{}, Skipped: []string{}, Failed: []string{}}

	s.mu.Lock()
	if s.state == model.ScanScanning {
		s.mu.Unlock()
		return report, ErrScanInProgress
	}
	if s.bulkRunning {
		s.mu.Unlock()
		return report, ErrPublishInProgress
	}
	s.bulkRunning = true
	scanID := s.scanID
	drafts := s.approvedDraftsLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.bulkRunning = false
		s.mu.Unlock()
		s.notify()
	}()

	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if s.alreadyPosted(ctx, scanID, d.ID) {
			report.Skipped = append(report.Skipped, d.ID)
			continue
		}

		rec, err := s.Publish(ctx, d.ID)
		switch {
		case errors.Is(err, ErrPublishInProgress):
			report.Skipped = append(report.Skipped, d.ID)
		case err != nil:
			report.fail(d.ID, err.Error())
		case rec.Status == model.PublishSuccess:
			report.Published = append(report.Published, d.ID)
		default:
			report.fail(d.ID, rec.ErrorMessage)
		}
	}

	s.log.Info().
		Int("published", len(report.Published)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Msg("bulk publish finished")
	return report, nil
}

// alreadyPosted checks the session record and then the ledger. A ledger hit
// without a local record is adopted as a success record.
func (s *Session) alreadyPosted(ctx context.Context, scanID, id string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if ok && rec.Status == model.PublishSuccess {
		return true
	}
	if s.ledger == nil {
		return false
	}

	posted, err := s.ledger.HasPosted(ctx, LedgerKey(scanID, id))
	if err != nil {
		s.log.Warn().Err(err).Str("draft", id).Msg("checking publish ledger")
		return false
	}
	if !posted {
		return false
	}

	adopted := model.PublishRecord{DraftID: id, Status: model.PublishSuccess, Timestamp: s.timestamp()}
	s.mu.Lock()
	if s.scanID == scanID {
		s.records[id] = adopted
	}
	s.mu.Unlock()
	s.notify()
	s.persistRecord(ctx, scanID, adopted)
	return true
}

// LedgerKey identifies a draft of a given scan in the publish ledger.
func LedgerKey(scanID, draftID string) string {
	return scanID + ":" + draftID
}

// Record returns the publish record of a draft.
func (s *Session) Record(id string) (model.PublishRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *Session) persistRecord(ctx context.Context, scanID string, rec model.PublishRecord) {
	if s.store != nil {
		if err := s.store.SavePublishRecord(scanID, rec); err != nil {
			s.log.Error().Err(err).Str("draft", rec.DraftID).Msg("saving publish record")
		}
	}
	if s.ledger != nil && rec.Status == model.PublishSuccess {
		if err := s.ledger.MarkPosted(ctx, LedgerKey(scanID, rec.DraftID)); err != nil {
			s.log.Error().Err(err).Str("draft", rec.DraftID).Msg("marking draft as posted")
		}
	}
}
