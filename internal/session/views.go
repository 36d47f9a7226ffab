package session

import (
	"fmt"

	"github.com/TobiSchelling/threadpilot/internal/model"
)

// ReviewFilter narrows the visible drafts by their review flag.
type ReviewFilter string

const (
	ReviewAll         ReviewFilter = "all"
	ReviewNeedsReview ReviewFilter = "needs_review"
	ReviewReady       ReviewFilter = "ready"
)

// ParseReviewFilter accepts the filter names used in URLs and flags. An empty
// name means all.
func ParseReviewFilter(name string) (ReviewFilter, error) {
	switch f := ReviewFilter(name); f {
	case "":
		return ReviewAll, nil
	case ReviewAll, ReviewNeedsReview, ReviewReady:
		return f, nil
	}
	return "", fmt.Errorf("unknown review filter %q", name)
}

func (f ReviewFilter) match(d model.Draft) bool {
	switch f {
	case ReviewNeedsReview:
		return d.RequiresReview
	case ReviewReady:
		return !d.RequiresReview
	default:
		return true
	}
}

// Stats summarizes the current scan.
type Stats struct {
	Total       int `json:"total"`
	Approved    int `json:"approved"`
	NeedsReview int `json:"needs_review"`
	Published   int `json:"published"`
	Failed      int `json:"failed"`
}

// SetClassificationFilter shows only drafts with the given classification.
// An empty classification shows everything.
func (s *Session) SetClassificationFilter(classification string) {
	s.mu.Lock()
	s.classFilter = classification
	s.mu.Unlock()
	s.notify()
}

func (s *Session) SetReviewFilter(f ReviewFilter) error {
	if _, err := ParseReviewFilter(string(f)); err != nil {
		return err
	}
	if f == "" {
		f = ReviewAll
	}
	s.mu.Lock()
	s.reviewFilter = f
	s.mu.Unlock()
	s.notify()
	return nil
}

// VisibleDrafts returns the drafts passing both filters, in scan order.
func (s *Session) VisibleDrafts() []model.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked()
}

func (s *Session) visibleLocked() []model.Draft {
	visible := []model.Draft{}
	if s.result == nil {
		return visible
	}
	for _, d := range s.result.Drafts {
		if s.classFilter != "" && d.Classification != s.classFilter {
			continue
		}
		if !s.reviewFilter.match(d) {
			continue
		}
		visible = append(visible, d)
	}
	return visible
}

// Classifications lists the distinct non-empty labels in first-seen order.
func (s *Session) Classifications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	labels := []string{}
	if s.result == nil {
		return labels
	}
	seen := map[string]bool{}
	for _, d := range s.result.Drafts {
		if d.Classification == "" || seen[d.Classification] {
			continue
		}
		seen[d.Classification] = true
		labels = append(labels, d.Classification)
	}
	return labels
}

// ToggleSelected flips the selection of a draft and reports whether it is
// now selected.
func (s *Session) ToggleSelected(id string) (bool, error) {
	s.mu.Lock()
	if _, ok := s.result.Draft(id); !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownDraft, id)
	}
	selected := !s.selected[id]
	if selected {
		s.selected[id] = true
	} else {
		delete(s.selected, id)
	}
	s.mu.Unlock()
	s.notify()
	return selected, nil
}

// SelectVisible adds every visible draft to the selection.
func (s *Session) SelectVisible() {
	s.mu.Lock()
	for _, d := range s.visibleLocked() {
		s.selected[d.ID] = true
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.selected = map[string]bool{}
	s.mu.Unlock()
	s.notify()
}

// Selected returns the selected ids in scan order.
func (s *Session) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderedLocked(s.selected)
}

// ApproveSelected adds the selection to the approval set and returns how
// many drafts were newly approved.
func (s *Session) ApproveSelected() int {
	s.mu.Lock()
	added := 0
	for id := range s.selected {
		if !s.approved[id] {
			s.approved[id] = true
			added++
		}
	}
	scanID, approved := s.scanID, s.orderedLocked(s.approved)
	s.mu.Unlock()

	if added > 0 {
		s.persistApprovals(scanID, approved)
	}
	s.notify()
	return added
}

func (s *Session) Approve(id string) error {
	return s.setApproved(id, true)
}

func (s *Session) Revoke(id string) error {
	return s.setApproved(id, false)
}

func (s *Session) setApproved(id string, approve bool) error {
	s.mu.Lock()
	if _, ok := s.result.Draft(id); !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDraft, id)
	}
	if approve {
		s.approved[id] = true
	} else {
		delete(s.approved, id)
	}
	scanID, approved := s.scanID, s.orderedLocked(s.approved)
	s.mu.Unlock()

	s.persistApprovals(scanID, approved)
	s.notify()
	return nil
}

func (s *Session) IsApproved(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approved[id]
}

// ApprovedDrafts returns the approval set in scan order.
func (s *Session) ApprovedDrafts() []model.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approvedDraftsLocked()
}

func (s *Session) approvedDraftsLocked() []model.Draft {
	drafts := []model.Draft{}
	if s.result == nil {
		return drafts
	}
	for _, d := range s.result.Drafts {
		if s.approved[d.ID] {
			drafts = append(drafts, d)
		}
	}
	return drafts
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	if s.result == nil {
		return st
	}
	st.Total = len(s.result.Drafts)
	for _, d := range s.result.Drafts {
		if s.approved[d.ID] {
			st.Approved++
		}
		if d.RequiresReview {
			st.NeedsReview++
		}
		switch s.records[d.ID].Status {
		case model.PublishSuccess:
			st.Published++
		case model.PublishFailed:
			st.Failed++
		}
	}
	return st
}

func (s *Session) persistApprovals(scanID string, approved []string) {
	if s.store == nil || scanID == "" {
		return
	}
	if err := s.store.SaveApprovals(scanID, approved); err != nil {
		s.log.Error().Err(err).Str("scan_id", scanID).Msg("saving approvals")
	}
}
