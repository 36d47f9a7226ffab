// Package localagent answers scan and publish requests in-process, standing
// in for remote agents. Scans collect sources, fill in article text, score and
// classify every item with an LLM and draft threads for the best ones.
// Publishing posts the thread to Telegram.
package localagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/TobiSchelling/threadpilot/internal/agent"
	"github.com/TobiSchelling/threadpilot/internal/collect"
	"github.com/TobiSchelling/threadpilot/internal/config"
	"github.com/TobiSchelling/threadpilot/internal/fetch"
	"github.com/TobiSchelling/threadpilot/internal/llm"
	"github.com/TobiSchelling/threadpilot/internal/logging"
	"github.com/TobiSchelling/threadpilot/internal/model"
)

// Collector gathers raw items for a scan.
type Collector interface {
	Collect(ctx context.Context, settings config.Settings) *collect.Result
}

// Fetcher fills in missing article text.
type Fetcher interface {
	FillMissingContent(ctx context.Context, articles []collect.Article) *fetch.Result
}

// Poster publishes the segments of a thread and returns a link to it.
type Poster interface {
	PostThread(ctx context.Context, segments []string) (string, error)
}

// Agent implements agent.Caller.
type Agent struct {
	scanAgent    string
	publishAgent string
	collector    Collector
	fetcher      Fetcher
	provider     llm.Provider
	poster       Poster
	now          func() time.Time
}

// New wires the agent from configuration. provider may be nil, in which case
// scans fail with a clear error.
func New(cfg *config.Config, provider llm.Provider) *Agent {
	return &Agent{
		scanAgent:    cfg.Agents.ScanAgent,
		publishAgent: cfg.Agents.PublishAgent,
		collector:    collect.NewCollector(cfg, 2),
		fetcher:      fetch.NewContentFetcher(15 * time.Second),
		provider:     provider,
		poster:       NewTelegram(cfg.Telegram),
		now:          time.Now,
	}
}

// Call routes the message to the scan or publish pipeline by agent id.
func (a *Agent) Call(ctx context.Context, message, agentID string) (*agent.Result, error) {
	switch agentID {
	case a.scanAgent:
		return a.scan(ctx, message)
	case a.publishAgent:
		return a.publish(ctx, message)
	default:
		return nil, fmt.Errorf("unknown agent %q", agentID)
	}
}

type sourceReport struct {
	Items    []any `json:"items"`
	Fetched  int   `json:"fetched"`
	Filtered int   `json:"filtered"`
}

type scanReply struct {
	Status       string                  `json:"pipeline_status"`
	Timestamp    string                  `json:"timestamp"`
	ScannedItems map[string]sourceReport `json:"scanned_items"`
	Drafts       []model.Draft           `json:"thread_drafts"`
}

func (a *Agent) scan(ctx context.Context, message string) (*agent.Result, error) {
	log := logging.With("localagent")

	settings, err := agent.ParseScanRequest(message)
	if err != nil {
		return &agent.Result{Success: false, Error: err.Error()}, nil
	}
	if a.provider == nil {
		return &agent.Result{Success: false, Error: "no LLM provider available"}, nil
	}

	collected := a.collector.Collect(ctx, settings)
	if len(collected.News) > 0 {
		a.fetcher.FillMissingContent(ctx, collected.News)
	}

	var candidates []*candidate
	for _, n := range collected.News {
		text := n.Content
		if text == "" {
			text = n.Summary
		}
		candidates = append(candidates, &candidate{kind: "news", title: n.Title, source: n.Source, url: n.URL, text: text})
	}
	for _, p := range collected.Papers {
		candidates = append(candidates, &candidate{kind: "papers", title: p.Title, source: "arXiv", url: p.URL, text: p.Abstract})
	}

	sc := &scorer{provider: a.provider, categories: settings.Categories}
	var errs int
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := sc.score(ctx, c); err != nil {
			errs++
			log.Warn().Err(err).Str("title", c.title).Msg("scoring failed")
		}
	}
	if len(candidates) > 0 && errs == len(candidates) {
		return &agent.Result{Success: false, Error: fmt.Sprintf("scoring failed for all %d items", errs)}, nil
	}

	passed := func(c *candidate) bool {
		return c.score >= settings.RelevanceThreshold && c.classification != ""
	}

	reply := scanReply{
		Status:       model.StatusCompleted,
		Timestamp:    a.now().UTC().Format(time.RFC3339),
		ScannedItems: map[string]sourceReport{},
	}
	news := sourceReport{Items: []any{}, Fetched: collected.Fetched["news"]}
	for i, n := range collected.News {
		c := candidates[i]
		item := n.NewsItem
		item.Score, item.Classification = c.score, c.classification
		news.Items = append(news.Items, item)
		if passed(c) {
			news.Filtered++
		}
	}
	papers := sourceReport{Items: []any{}, Fetched: collected.Fetched["papers"]}
	for i, p := range collected.Papers {
		c := candidates[len(collected.News)+i]
		p.Score, p.Classification = c.score, c.classification
		papers.Items = append(papers.Items, p)
		if passed(c) {
			papers.Filtered++
		}
	}
	if settings.HasSource("news") {
		reply.ScannedItems["news"] = news
	}
	if settings.HasSource("papers") {
		reply.ScannedItems["papers"] = papers
	}

	var selected []*candidate
	for _, c := range candidates {
		if passed(c) {
			selected = append(selected, c)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].score > selected[j].score })
	if len(selected) > settings.MaxThreadsPerScan {
		selected = selected[:settings.MaxThreadsPerScan]
	}

	dr := &drafter{provider: a.provider, style: settings.ThreadStyle}
	reply.Drafts = []model.Draft{}
	for _, c := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, ok, err := dr.draft(ctx, *c)
		if err != nil {
			log.Warn().Err(err).Str("title", c.title).Msg("drafting failed")
			continue
		}
		if !ok {
			log.Warn().Str("title", c.title).Msg("draft reply had no posts")
			continue
		}
		d.ID = fmt.Sprintf("draft-%d", len(reply.Drafts)+1)
		reply.Drafts = append(reply.Drafts, d)
	}

	log.Info().
		Int("items", len(candidates)).
		Int("selected", len(selected)).
		Int("drafts", len(reply.Drafts)).
		Msg("scan pipeline finished")

	return textResult(reply)
}

type publishReply struct {
	Status   string `json:"publish_status"`
	PostURL  string `json:"post_url,omitempty"`
	PostedAt string `json:"posted_at,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (a *Agent) publish(ctx context.Context, message string) (*agent.Result, error) {
	log := logging.With("localagent")

	req, err := agent.ParsePublishRequest(message)
	if err != nil {
		return &agent.Result{Success: false, Error: err.Error()}, nil
	}

	segments := req.Segments()
	if tags := strings.TrimSpace(req.Tags); tags != "" && len(segments) > 0 {
		segments[len(segments)-1] += "\n\n" + tags
	}

	link, err := a.poster.PostThread(ctx, segments)
	if err != nil {
		log.Warn().Err(err).Str("draft", req.DraftID).Msg("publishing failed")
		return textResult(publishReply{Status: string(model.PublishFailed), Error: err.Error()})
	}

	log.Info().Str("draft", req.DraftID).Str("url", link).Msg("thread published")
	return textResult(publishReply{
		Status:   string(model.PublishSuccess),
		PostURL:  link,
		PostedAt: a.now().UTC().Format(time.RFC3339),
	})
}

// textResult encodes reply as JSON text, the way a remote agent answers.
func textResult(reply any) (*agent.Result, error) {
	data, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("encoding reply: %w", err)
	}
	return &agent.Result{Success: true, Response: string(data)}, nil
}
