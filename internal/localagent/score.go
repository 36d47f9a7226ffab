package localagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/TobiSchelling/threadpilot/internal/llm"
)

const scorePrompt = `You are scoring items for a social media account that explains technology to people who build software.

Score how relevant and thread-worthy this item is, from 0 (ignore) to 100 (must post about).

Pick exactly one category from this list, or "none" if nothing fits:
%s

Kind: %s
Title: %s
Source: %s
Content:
%s

Respond with ONLY this JSON:
{
    "relevance_score": 0-100,
    "classification": "one category from the list, or none",
    "reason": "One sentence explaining the score"
}`

const maxPromptContent = 4000

// candidate is one collected item moving through scoring and drafting.
type candidate struct {
	kind           string // "news" or "papers"
	title          string
	source         string
	url            string
	text           string
	score          int
	classification string
	reason         string
}

type scorer struct {
	provider   llm.Provider
	categories []string
}

// score fills in score and classification. A reply that cannot be parsed
// scores 0 so the item is filtered out.
func (s *scorer) score(ctx context.Context, c *candidate) error {
	content := c.text
	if content == "" {
		content = c.title
	}
	if len(content) > maxPromptContent {
		content = content[:maxPromptContent] + "..."
	}
	source := c.source
	if source == "" {
		source = "Unknown"
	}

	prompt := fmt.Sprintf(scorePrompt, formatCategories(s.categories), c.kind, c.title, source, content)
	responseText, err := s.provider.Generate(ctx, prompt, 256)
	if err != nil {
		return err
	}

	parsed := llm.ParseJSONResponse(responseText, "relevance_score", "classification")
	if parsed == nil {
		c.score = 0
		c.reason = "LLM response could not be parsed"
		return nil
	}

	c.score = clamp(getInt(parsed, "relevance_score", 0), 0, 100)
	c.classification = s.matchCategory(getString(parsed, "classification", ""))
	c.reason = getString(parsed, "reason", "")
	return nil
}

// matchCategory maps a label onto the configured categories. Unknown labels
// come back empty. With no categories configured any label is accepted.
func (s *scorer) matchCategory(label string) string {
	label = strings.TrimSpace(label)
	if strings.EqualFold(label, "none") {
		return ""
	}
	if len(s.categories) == 0 {
		return strings.ToLower(label)
	}
	for _, c := range s.categories {
		if strings.EqualFold(c, label) {
			return c
		}
	}
	return ""
}

func formatCategories(categories []string) string {
	if len(categories) == 0 {
		return "- any topic"
	}
	var lines []string
	for _, c := range categories {
		lines = append(lines, "- "+c)
	}
	return strings.Join(lines, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getString(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func getInt(m map[string]any, key string, fallback int) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return fallback
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
