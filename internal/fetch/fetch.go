package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/go-resty/resty/v2"

	"github.com/TobiSchelling/threadpilot/internal/collect"
	"github.com/TobiSchelling/threadpilot/internal/logging"
)

// minContent is the shortest text considered a real article body.
const minContent = 100

// Result holds the results of a content fetch run.
type Result struct {
	Fetched           int
	AlreadyHadContent int
	Failed            int
}

// ContentFetcher fetches full article text via HTTP + readability extraction.
type ContentFetcher struct {
	client *resty.Client
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(timeout time.Duration) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeader("User-Agent", "threadpilot/1.0 (news aggregator)")
	return &ContentFetcher{client: client}
}

// FillMissingContent fetches text for articles whose content is too short to
// draft from, updating them in place. After an HTTP error the remaining
// articles of that domain are skipped.
func (f *ContentFetcher) FillMissingContent(ctx context.Context, articles []collect.Article) *Result {
	log := logging.With("fetch")
	result := &Result{}
	failedDomains := make(map[string]struct{})

	for i := range articles {
		a := &articles[i]
		if len(a.Content) >= minContent {
			result.AlreadyHadContent++
			continue
		}
		if ctx.Err() != nil {
			result.Failed++
			continue
		}

		u, _ := url.Parse(a.URL)
		domain := ""
		if u != nil {
			domain = strings.ToLower(u.Host)
		}

		if _, failed := failedDomains[domain]; failed {
			result.Failed++
			continue
		}

		content, httpErr := f.fetchArticleContent(ctx, a.URL)
		if httpErr != nil {
			result.Failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			log.Debug().Str("url", a.URL).Str("domain", domain).Err(httpErr).Msg("HTTP error, skipping remaining from domain")
			continue
		}

		if content != "" {
			a.Content = content
			result.Fetched++
			log.Debug().Str("title", a.Title).Msg("fetched content")
		} else {
			result.Failed++
			log.Debug().Str("url", a.URL).Msg("no extractable content")
		}
	}

	log.Info().Int("fetched", result.Fetched).Int("failed", result.Failed).Msg("content fetch complete")
	return result
}

// fetchArticleContent returns an error only for HTTP error statuses.
// Connection and extraction failures yield empty content.
func (f *ContentFetcher) fetchArticleContent(ctx context.Context, articleURL string) (string, error) {
	resp, err := f.client.R().SetContext(ctx).Get(articleURL)
	if err != nil {
		return "", nil
	}

	if resp.StatusCode() >= 400 {
		return "", &httpError{code: resp.StatusCode()}
	}

	parsedURL, _ := url.Parse(articleURL)
	article, err := readability.FromReader(bytes.NewReader(resp.Body()), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > minContent {
		return text, nil
	}
	return "", nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}
