package collect

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/threadpilot/internal/logging"
	"github.com/TobiSchelling/threadpilot/internal/model"
)

const (
	maxPerFeed = 20
	maxSummary = 400
	userAgent  = "threadpilot/1.0 (+https://github.com/TobiSchelling/threadpilot)"
)

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL  string
	Name string
}

// FeedParser parses RSS/Atom feeds.
type FeedParser struct {
	feeds []FeedConfig
}

// NewFeedParser creates a new FeedParser.
func NewFeedParser(feeds []FeedConfig) *FeedParser {
	return &FeedParser{feeds: feeds}
}

// ParseAll parses all configured feeds and returns entries within daysBack.
func (fp *FeedParser) ParseAll(ctx context.Context, daysBack int) []Article {
	log := logging.With("collect")
	cutoff := time.Now().AddDate(0, 0, -daysBack)
	var all []Article

	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	for _, fc := range fp.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		entries, err := parseFeed(ctx, parser, fc.URL, name, cutoff)
		if err != nil {
			log.Warn().Err(err).Str("feed", fc.URL).Msg("failed to parse feed")
			continue
		}
		all = append(all, entries...)
		log.Debug().Int("entries", len(entries)).Str("source", name).Int("days", daysBack).Msg("parsed feed")
	}

	return all
}

func parseFeed(ctx context.Context, parser *gofeed.Parser, feedURL, sourceName string, cutoff time.Time) ([]Article, error) {
	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	var entries []Article
	for _, item := range feed.Items {
		if len(entries) >= maxPerFeed {
			break
		}

		entry := parseItem(item, sourceName)
		if entry == nil {
			continue
		}
		if isWithinWindow(entry.PublishedAt, cutoff) {
			entries = append(entries, *entry)
		}
	}

	return entries, nil
}

func parseItem(item *gofeed.Item, source string) *Article {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil
	}

	var publishedDate string
	if item.PublishedParsed != nil {
		publishedDate = item.PublishedParsed.Format("2006-01-02")
	} else if item.UpdatedParsed != nil {
		publishedDate = item.UpdatedParsed.Format("2006-01-02")
	}

	summary := stripHTML(item.Description)
	content := stripHTML(item.Content)
	if content == "" {
		content = summary
	}

	return &Article{
		NewsItem: model.NewsItem{
			Title:       title,
			URL:         itemURL,
			Source:      source,
			Summary:     truncate(summary, maxSummary),
			PublishedAt: publishedDate,
		},
		Content: content,
	}
}

func isWithinWindow(publishedDate string, cutoff time.Time) bool {
	if publishedDate == "" {
		return true // benefit of the doubt
	}
	pub, err := time.Parse("2006-01-02", publishedDate)
	if err != nil {
		return true
	}
	return !pub.Before(cutoff)
}

// stripHTML reduces an HTML fragment to its whitespace-normalized text.
func stripHTML(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.Join(strings.Fields(text), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit])) + "…"
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
