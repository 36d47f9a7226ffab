package collect

import (
	"context"
	"net/url"
	"strings"

	"github.com/TobiSchelling/threadpilot/internal/config"
	"github.com/TobiSchelling/threadpilot/internal/logging"
	"github.com/TobiSchelling/threadpilot/internal/model"
)

// Article is a collected news item together with any text its source carried.
type Article struct {
	model.NewsItem
	Content string
}

// Result holds the results of a collection run.
type Result struct {
	News    []Article
	Papers  []model.PaperItem
	Fetched map[string]int // per source kind: "news", "papers"
	Blocked int
}

// Collector gathers news from RSS feeds and NewsAPI, and papers from arXiv.
type Collector struct {
	feedParser *FeedParser
	newsClient *NewsAPIClient
	newsQuery  string
	arxiv      *ArxivClient
	daysBack   int
}

// NewCollector creates a collector for every source enabled in cfg.
func NewCollector(cfg *config.Config, daysBack int) *Collector {
	c := &Collector{daysBack: daysBack}

	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name}
		}
		c.feedParser = NewFeedParser(feeds)
	}

	apiCfg := cfg.Sources.APIs.NewsAPI
	if apiCfg.Enabled {
		c.newsClient = NewNewsAPIClient(apiCfg.APIKeyEnv)
		c.newsQuery = apiCfg.Query
		if c.newsQuery == "" {
			c.newsQuery = "artificial intelligence software development"
		}
	}

	if cfg.Sources.Arxiv.Enabled {
		c.arxiv = NewArxivClient(cfg.Sources.Arxiv)
	}

	return c
}

// Collect fetches from the sources the settings ask for. Items from blocked
// domains and repeated URLs are dropped. A failing source is logged and skipped.
func (c *Collector) Collect(ctx context.Context, settings config.Settings) *Result {
	log := logging.With("collect")
	r := &Result{Fetched: make(map[string]int)}
	seen := make(map[string]struct{})

	keep := func(link string) bool {
		if _, dup := seen[link]; dup {
			return false
		}
		seen[link] = struct{}{}
		if settings.Blocked(hostOf(link)) {
			r.Blocked++
			return false
		}
		return true
	}

	if settings.HasSource("news") {
		var found []Article
		if c.feedParser != nil {
			log.Info().Msg("collecting from RSS feeds")
			found = append(found, c.feedParser.ParseAll(ctx, c.daysBack)...)
		}
		if c.newsClient != nil && c.newsClient.IsConfigured() {
			log.Info().Msg("collecting from NewsAPI")
			articles, err := c.newsClient.Search(ctx, c.newsQuery, c.daysBack, 100)
			if err != nil {
				log.Warn().Err(err).Msg("NewsAPI search failed")
			}
			found = append(found, articles...)
		}
		r.Fetched["news"] = len(found)
		for _, a := range found {
			if keep(a.URL) {
				r.News = append(r.News, a)
			}
		}
	}

	if settings.HasSource("papers") && c.arxiv != nil {
		log.Info().Msg("collecting from arXiv")
		papers, err := c.arxiv.Fetch(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("arXiv listing failed")
		}
		r.Fetched["papers"] = len(papers)
		for _, p := range papers {
			if keep(p.URL) {
				r.Papers = append(r.Papers, p)
			}
		}
	}

	log.Info().
		Int("news", len(r.News)).
		Int("papers", len(r.Papers)).
		Int("blocked", r.Blocked).
		Msg("collection complete")
	return r
}

func hostOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
