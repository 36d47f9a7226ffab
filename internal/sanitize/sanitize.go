// Package sanitize turns extracted, possibly partial agent payloads into fully
// typed records. Every function here is total: missing or mistyped fields are
// replaced by defaults and nothing returns an error.
package sanitize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/TobiSchelling/threadpilot/internal/model"
)

// Marker keys identifying the two payload schemas.
const (
	ScanMarker    = "pipeline_status"
	PublishMarker = "publish_status"
)

// ScanMarkers are accepted as evidence of a scan payload: the status marker or
// any of the major collections.
var ScanMarkers = []string{ScanMarker, "scanned_items", "thread_drafts", "source_stats"}

// DefaultRelevanceScore is used when a draft carries no numeric score.
const DefaultRelevanceScore = 50

var (
	paperKeys = map[string]bool{"papers": true, "paper": true, "arxiv": true, "paper_items": true, "research": true}
	newsKeys  = map[string]bool{"news": true, "hackernews": true, "hacker_news": true, "articles": true, "news_items": true}
)

// Scan sanitizes a scan payload.
func Scan(candidate any) model.ScanResult {
	m, _ := candidate.(map[string]any)

	r := model.ScanResult{
		Status:    scanStatus(getString(m, "", ScanMarker, "status")),
		Timestamp: getString(m, "", "timestamp", "completed_at"),
	}
	if r.Timestamp == "" {
		r.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	list, _ := getList(m, "thread_drafts", "drafts")
	r.Drafts = Drafts(list)
	r.ScannedItems = scannedItems(m["scanned_items"], m["source_stats"])
	return r
}

func scanStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "failed", "failure", "error":
		return model.StatusFailed
	default:
		return model.StatusCompleted
	}
}

// Drafts maps a list of draft-like values element-wise. Elements that are not
// objects become fully defaulted drafts, so one corrupt element never discards
// the rest. Ids stay unique within the list.
func Drafts(list []any) []model.Draft {
	drafts := make([]model.Draft, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, el := range list {
		d := Draft(el, i)
		if seen[d.ID] {
			d.ID = uniqueID(seen, i)
		}
		seen[d.ID] = true
		drafts = append(drafts, d)
	}
	return drafts
}

func positionalID(index int) string {
	return fmt.Sprintf("draft-%d", index+1)
}

func uniqueID(seen map[string]bool, index int) string {
	id := positionalID(index)
	for n := 2; seen[id]; n++ {
		id = fmt.Sprintf("%s-%d", positionalID(index), n)
	}
	return id
}

// Draft sanitizes a single draft at position index.
func Draft(value any, index int) model.Draft {
	m, _ := value.(map[string]any)

	d := model.Draft{
		ID:             getID(m, "id"),
		Title:          getString(m, "", "title"),
		Classification: getString(m, "", "classification", "category"),
		Body:           draftBody(m),
		RequiresReview: getBool(m, false, "requires_review", "needs_review"),
		ReviewReason:   getString(m, "", "review_reason"),
		RelevanceScore: getInt(m, DefaultRelevanceScore, "relevance_score", "score"),
		SourceURL:      getString(m, "", "source_url", "url"),
		Hook:           getString(m, "", "hook"),
		Tags:           draftTags(m),
	}
	if d.ID == "" {
		d.ID = positionalID(index)
	}
	return d
}

func draftBody(m map[string]any) string {
	if body := getString(m, "", "body", "thread", "content", "text"); body != "" {
		return body
	}
	if segments, ok := getList(m, "tweets", "segments", "thread"); ok {
		var parts []string
		for _, s := range segments {
			if text, ok := s.(string); ok && strings.TrimSpace(text) != "" {
				parts = append(parts, strings.TrimSpace(text))
			}
		}
		return strings.Join(parts, "\n\n"+model.SegmentSeparator+"\n\n")
	}
	return ""
}

func draftTags(m map[string]any) string {
	if tags := getString(m, "", "tags", "hashtags"); tags != "" {
		return tags
	}
	if list, ok := getList(m, "tags", "hashtags"); ok {
		var parts []string
		for _, t := range list {
			if s, ok := t.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// Publish sanitizes a publish payload.
func Publish(candidate any) model.PublishOutcome {
	m, _ := candidate.(map[string]any)
	return model.PublishOutcome{
		Status:      getString(m, "", PublishMarker, "status"),
		ExternalURL: getString(m, "", "post_url", "tweet_url", "external_url", "url"),
		Timestamp:   getString(m, "", "posted_at", "timestamp"),
		Error:       getString(m, "", "error", "error_message"),
	}
}

func scannedItems(raw, stats any) model.ScannedItems {
	items := model.ScannedItems{
		News:   []model.NewsItem{},
		Papers: []model.PaperItem{},
		Stats:  []model.SourceStats{},
	}
	counts := map[string]*model.SourceStats{}
	var order []string
	count := func(source string) *model.SourceStats {
		if c, ok := counts[source]; ok {
			return c
		}
		c := &model.SourceStats{Source: source}
		counts[source] = c
		order = append(order, source)
		return c
	}

	switch v := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			list, fetched, filtered := sourceBlock(v[key])
			kind := strings.ToLower(key)
			n := 0
			for _, el := range list {
				em, ok := el.(map[string]any)
				if !ok {
					continue
				}
				if paperKeys[kind] || (!newsKeys[kind] && isPaper(em)) {
					items.Papers = append(items.Papers, paperItem(em))
				} else {
					item := newsItem(em)
					if item.Source == "" {
						item.Source = key
					}
					items.News = append(items.News, item)
				}
				n++
			}
			c := count(key)
			c.Fetched, c.Filtered = n, n
			if fetched >= 0 {
				c.Fetched = fetched
			}
			if filtered >= 0 {
				c.Filtered = filtered
			}
		}
	case []any:
		for _, el := range v {
			em, ok := el.(map[string]any)
			if !ok {
				continue
			}
			if isPaper(em) {
				items.Papers = append(items.Papers, paperItem(em))
				c := count("papers")
				c.Fetched++
				c.Filtered++
			} else {
				items.News = append(items.News, newsItem(em))
				c := count("news")
				c.Fetched++
				c.Filtered++
			}
		}
	}

	applyStats(stats, count)
	for _, source := range order {
		items.Stats = append(items.Stats, *counts[source])
	}
	return items
}

// sourceBlock accepts either a bare item list or an object carrying items and
// counts. Missing counts are reported as -1.
func sourceBlock(v any) (list []any, fetched, filtered int) {
	switch b := v.(type) {
	case []any:
		return b, -1, -1
	case map[string]any:
		list, _ = getList(b, "items", "results")
		return list, getInt(b, -1, "fetched", "fetched_count", "total"), getInt(b, -1, "filtered", "filtered_count", "passed")
	}
	return nil, -1, -1
}

func applyStats(stats any, count func(string) *model.SourceStats) {
	switch v := stats.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if sm, ok := v[k].(map[string]any); ok {
				c := count(k)
				c.Fetched = getInt(sm, c.Fetched, "fetched", "fetched_count", "total")
				c.Filtered = getInt(sm, c.Filtered, "filtered", "filtered_count", "passed")
			}
		}
	case []any:
		for _, el := range v {
			sm, ok := el.(map[string]any)
			if !ok {
				continue
			}
			source := getString(sm, "", "source", "name")
			if source == "" {
				continue
			}
			c := count(source)
			c.Fetched = getInt(sm, c.Fetched, "fetched", "fetched_count", "total")
			c.Filtered = getInt(sm, c.Filtered, "filtered", "filtered_count", "passed")
		}
	}
}

func isPaper(m map[string]any) bool {
	kind := strings.ToLower(getString(m, "", "type", "kind"))
	if kind != "" {
		return kind == "paper" || kind == "papers" || kind == "arxiv"
	}
	_, hasAbstract := m["abstract"]
	return hasAbstract
}

func newsItem(m map[string]any) model.NewsItem {
	return model.NewsItem{
		Title:          getString(m, "", "title"),
		URL:            getString(m, "", "url", "link"),
		Source:         getString(m, "", "source"),
		Summary:        getString(m, "", "summary", "description"),
		PublishedAt:    getString(m, "", "published_at", "published", "date"),
		Score:          getInt(m, 0, "score", "relevance_score"),
		Classification: getString(m, "", "classification", "category"),
	}
}

func paperItem(m map[string]any) model.PaperItem {
	return model.PaperItem{
		Title:          getString(m, "", "title"),
		URL:            getString(m, "", "url", "link", "pdf_url"),
		Abstract:       getString(m, "", "abstract", "summary"),
		Authors:        getStrings(m, ",", "authors"),
		PublishedAt:    getString(m, "", "published_at", "published", "date"),
		Score:          getInt(m, 0, "score", "relevance_score"),
		Classification: getString(m, "", "classification", "category"),
	}
}
