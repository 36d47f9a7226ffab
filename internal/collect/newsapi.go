package collect

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/TobiSchelling/threadpilot/internal/model"
)

const newsAPIBaseURL = "https://newsapi.org/v2"

// NewsAPIClient fetches articles from NewsAPI.
type NewsAPIClient struct {
	apiKey string
	client *resty.Client
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		PublishedAt string `json:"publishedAt"`
		Content     string `json:"content"`
		Description string `json:"description"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// NewNewsAPIClient creates a NewsAPI client reading its key from apiKeyEnv.
func NewNewsAPIClient(apiKeyEnv string) *NewsAPIClient {
	return newNewsAPIClient(os.Getenv(apiKeyEnv), newsAPIBaseURL)
}

func newNewsAPIClient(apiKey, baseURL string) *NewsAPIClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("User-Agent", userAgent)
	return &NewsAPIClient{apiKey: apiKey, client: client}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search searches for articles matching a query within the last daysBack days.
func (c *NewsAPIClient) Search(ctx context.Context, query string, daysBack, pageSize int) ([]Article, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("NewsAPI key not configured")
	}
	if pageSize > 100 {
		pageSize = 100
	}

	now := time.Now()
	var result newsAPIResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-Api-Key", c.apiKey).
		SetQueryParams(map[string]string{
			"q":        query,
			"from":     now.AddDate(0, 0, -daysBack).Format("2006-01-02"),
			"to":       now.Format("2006-01-02"),
			"language": "en",
			"pageSize": strconv.Itoa(pageSize),
			"sortBy":   "relevancy",
		}).
		SetResult(&result).
		SetError(&result).
		Get("/everything")
	if err != nil {
		return nil, fmt.Errorf("NewsAPI request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("NewsAPI HTTP %d: %s", resp.StatusCode(), result.Message)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("NewsAPI status %q: %s", result.Status, result.Message)
	}

	var articles []Article
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var pubDate string
		if a.PublishedAt != "" {
			if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
				pubDate = t.Format("2006-01-02")
			}
		}

		content := strings.TrimSpace(a.Content)
		if content == "" {
			content = strings.TrimSpace(a.Description)
		}

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		articles = append(articles, Article{
			NewsItem: model.NewsItem{
				Title:       strings.TrimSpace(a.Title),
				URL:         a.URL,
				Source:      source,
				Summary:     truncate(strings.TrimSpace(a.Description), maxSummary),
				PublishedAt: pubDate,
			},
			Content: content,
		})
	}

	return articles, nil
}
