package collect

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/TobiSchelling/threadpilot/internal/config"
	"github.com/TobiSchelling/threadpilot/internal/model"
)

const defaultArxivURL = "https://arxiv.org"

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// ArxivClient reads the recent-submissions listing of arXiv categories.
type ArxivClient struct {
	client     *resty.Client
	baseURL    string
	categories []string
	maxResults int
}

// NewArxivClient creates a client for the configured categories.
func NewArxivClient(cfg config.Arxiv) *ArxivClient {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = defaultArxivURL
	}
	max := cfg.MaxResults
	if max <= 0 {
		max = 25
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(20*time.Second).
		SetHeader("User-Agent", userAgent)
	return &ArxivClient{client: client, baseURL: base, categories: cfg.Categories, maxResults: max}
}

// Fetch returns up to maxResults papers per category, skipping papers
// already listed under an earlier category.
func (a *ArxivClient) Fetch(ctx context.Context) ([]model.PaperItem, error) {
	var (
		papers []model.PaperItem
		errs   []string
	)
	seen := map[string]struct{}{}

	for _, cat := range a.categories {
		doc, err := a.fetchListing(ctx, cat)
		if err != nil {
			errs = append(errs, fmt.Sprintf("category %s: %v", cat, err))
			continue
		}
		for _, p := range a.extractPapers(doc) {
			if _, ok := seen[p.URL]; ok {
				continue
			}
			seen[p.URL] = struct{}{}
			papers = append(papers, p)
		}
	}

	if len(errs) > 0 {
		return papers, fmt.Errorf("arxiv: %s", strings.Join(errs, "; "))
	}
	return papers, nil
}

func (a *ArxivClient) fetchListing(ctx context.Context, category string) (*goquery.Document, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("category", category).
		SetQueryParams(map[string]string{
			"skip": "0",
			"show": strconv.Itoa(a.maxResults),
		}).
		Get("/list/{category}/pastweek")
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("arxiv returned %s", resp.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return doc, nil
}

func (a *ArxivClient) extractPapers(doc *goquery.Document) []model.PaperItem {
	var papers []model.PaperItem
	doc.Find("dl > dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		if len(papers) >= a.maxResults {
			return false
		}
		if p, ok := parseEntry(dt, dt.Next(), a.baseURL); ok {
			papers = append(papers, p)
		}
		return true
	})
	return papers
}

func parseEntry(dt, dd *goquery.Selection, baseURL string) (model.PaperItem, bool) {
	link := dt.Find(`a[href*="/abs/"]`).First()
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return model.PaperItem{}, false
	}
	if !strings.HasPrefix(href, "http") {
		href = baseURL + href
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))
	if title == "" {
		return model.PaperItem{}, false
	}

	abstract := strings.TrimSpace(dd.Find("p.mathjax").First().Text())
	abstract = strings.Join(strings.Fields(strings.TrimPrefix(abstract, "Abstract:")), " ")

	var authors []string
	dd.Find(".list-authors a").Each(func(_ int, s *goquery.Selection) {
		if name := strings.TrimSpace(s.Text()); name != "" {
			authors = append(authors, name)
		}
	})

	var published string
	dateText := dd.Find(".list-date").First().Text() + " " + dd.Find(".list-dateline").First().Text()
	if match := dateExpr.FindString(dateText); match != "" {
		if t, err := time.Parse("2 Jan 2006", match); err == nil {
			published = t.Format("2006-01-02")
		}
	}

	return model.PaperItem{
		Title:       strings.Join(strings.Fields(title), " "),
		URL:         href,
		Abstract:    abstract,
		Authors:     authors,
		PublishedAt: published,
	}, true
}
