package session

import (
	"strings"

	"github.com/TobiSchelling/threadpilot/internal/config"
)

// Heuristic judges free-text publish replies that carry no structured status.
// It is best effort: a confirmation keyword is taken as success even though
// the reply may describe a failure.
type Heuristic struct {
	Enabled      bool
	Confirmation []string
	Rejection    []string
}

// NewHeuristic builds the keyword heuristic from publish config.
func NewHeuristic(cfg config.Publish) Heuristic {
	return Heuristic{
		Enabled:      cfg.KeywordFallback,
		Confirmation: normalize(cfg.ConfirmationKeywords),
		Rejection:    normalize(cfg.RejectionKeywords),
	}
}

// Confirms reports whether text should be read as a successful post.
// Rejection keywords take precedence over confirmation keywords.
func (h Heuristic) Confirms(text string) bool {
	if !h.Enabled {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range h.Rejection {
		if strings.Contains(lower, k) {
			return false
		}
	}
	for _, k := range h.Confirmation {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func normalize(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}
