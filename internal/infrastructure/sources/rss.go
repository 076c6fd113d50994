package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"NewsCollector/internal/adapter"
	"NewsCollector/internal/domain"
)

// RSSFetcher reads search feeds (Google News style) whose query language
// supports after:/before: date operators.
type RSSFetcher struct {
	source domain.Source
	client *http.Client
	parser *gofeed.Parser
}

var _ adapter.Fetcher = (*RSSFetcher)(nil)

// NewRSSFetcher builds a fetcher with its own gofeed parser.
func NewRSSFetcher(source domain.Source, client *http.Client) *RSSFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RSSFetcher{source: source, client: client, parser: gofeed.NewParser()}
}

// FetchOnce downloads and parses the feed for the query range.
func (r *RSSFetcher) FetchOnce(ctx context.Context, q domain.Query, maxResults int) (adapter.FetchResult, error) {
	feedURL, err := r.buildURL(q)
	if err != nil {
		return adapter.FetchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return adapter.FetchResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return adapter.FetchResult{}, adapter.ClassifyTransport(fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if err := adapter.ClassifyStatus(resp.StatusCode, resp.Status); err != nil {
		return adapter.FetchResult{}, err
	}

	feed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return adapter.FetchResult{}, adapter.ClassifyTransport(fmt.Errorf("parse feed: %w", err))
	}

	from := domain.TruncateDay(q.From)
	to := domain.TruncateDay(q.To)
	candidates := make([]domain.ArticleCandidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if maxResults > 0 && len(candidates) >= maxResults {
			break
		}
		candidate, ok := r.toCandidate(item)
		if !ok {
			continue
		}
		day := domain.TruncateDay(candidate.PublishedAt)
		if day.Before(from) || day.After(to) {
			continue
		}
		candidates = append(candidates, candidate)
	}

	return adapter.FetchResult{Candidates: candidates}, nil
}

func (r *RSSFetcher) buildURL(q domain.Query) (string, error) {
	parsed, err := url.Parse(r.source.BaseURL)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("%w: invalid base url %q", domain.ErrInvalidQuery, r.source.BaseURL)
	}

	// before: is exclusive in search feeds, so ask for the following day.
	search := fmt.Sprintf("%s after:%s before:%s",
		q.Text(),
		q.From.UTC().AddDate(0, 0, -1).Format(time.DateOnly),
		q.To.UTC().AddDate(0, 0, 1).Format(time.DateOnly),
	)

	values := parsed.Query()
	values.Set("q", search)
	for key, value := range r.source.Options {
		if strings.HasPrefix(key, "param.") {
			values.Set(strings.TrimPrefix(key, "param."), value)
		}
	}
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

func (r *RSSFetcher) toCandidate(item *gofeed.Item) (domain.ArticleCandidate, bool) {
	if item == nil {
		return domain.ArticleCandidate{}, false
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return domain.ArticleCandidate{}, false
	}

	var publishedAt time.Time
	switch {
	case item.PublishedParsed != nil:
		publishedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		publishedAt = item.UpdatedParsed.UTC()
	default:
		return domain.ArticleCandidate{}, false
	}

	id := item.GUID
	if id == "" {
		id = item.Link
	}

	raw := map[string]any{}
	if len(item.Categories) > 0 {
		raw["categories"] = item.Categories
	}
	if item.Author != nil && item.Author.Name != "" {
		raw["author"] = item.Author.Name
	}

	return domain.ArticleCandidate{
		Source:      r.source.Name,
		ExternalID:  id,
		URL:         item.Link,
		Title:       title,
		PublishedAt: publishedAt,
		Body:        strings.TrimSpace(item.Content),
		Excerpt:     strings.TrimSpace(item.Description),
		Raw:         raw,
	}, true
}
