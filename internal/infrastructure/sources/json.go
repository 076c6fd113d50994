package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"NewsCollector/internal/adapter"
	"NewsCollector/internal/domain"
)

const (
	userAgent      = "NewsCollector/1.0"
	costUnitHeader = "X-Cost-Units"
)

// JSONFetcher talks to REST news APIs returning an "articles" array, the
// shape used by most aggregator providers.
type JSONFetcher struct {
	source domain.Source
	client *http.Client
}

var _ adapter.Fetcher = (*JSONFetcher)(nil)

// NewJSONFetcher creates a reusable HTTP client for one source.
func NewJSONFetcher(source domain.Source, client *http.Client) *JSONFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &JSONFetcher{source: source, client: client}
}

type jsonResponse struct {
	Status   string        `json:"status"`
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Articles []jsonArticle `json:"articles"`
}

type jsonArticle struct {
	ID     string `json:"id"`
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

// FetchOnce performs a single search call.
func (j *JSONFetcher) FetchOnce(ctx context.Context, q domain.Query, maxResults int) (adapter.FetchResult, error) {
	endpoint, err := j.buildURL(q, maxResults)
	if err != nil {
		return adapter.FetchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return adapter.FetchResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if j.source.APIKey != "" {
		req.Header.Set("X-Api-Key", j.source.APIKey)
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return adapter.FetchResult{}, adapter.ClassifyTransport(fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.FetchResult{}, adapter.ClassifyTransport(fmt.Errorf("read response: %w", err))
	}

	var payload jsonResponse
	decodeErr := json.Unmarshal(body, &payload)

	if err := adapter.ClassifyStatus(resp.StatusCode, providerDetail(payload, resp.Status)); err != nil {
		return adapter.FetchResult{}, err
	}
	if decodeErr != nil {
		return adapter.FetchResult{}, fmt.Errorf("%w: decode response: %v", domain.ErrTransientNetwork, decodeErr)
	}
	if err := classifyPayload(payload); err != nil {
		return adapter.FetchResult{}, err
	}

	candidates := make([]domain.ArticleCandidate, 0, len(payload.Articles))
	for _, art := range payload.Articles {
		if maxResults > 0 && len(candidates) >= maxResults {
			break
		}
		candidate, ok := j.toCandidate(art)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate)
	}

	return adapter.FetchResult{
		Candidates: candidates,
		ActualCost: parseCostHeader(resp.Header.Get(costUnitHeader)),
	}, nil
}

func (j *JSONFetcher) buildURL(q domain.Query, maxResults int) (string, error) {
	parsed, err := url.Parse(j.source.BaseURL)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("%w: invalid base url %q", domain.ErrInvalidQuery, j.source.BaseURL)
	}

	values := parsed.Query()
	values.Set("q", q.Text())
	values.Set("from", q.From.UTC().Format(time.DateOnly))
	values.Set("to", q.To.UTC().Format(time.DateOnly))
	values.Set("sortBy", "publishedAt")
	if maxResults > 0 {
		values.Set("pageSize", strconv.Itoa(maxResults))
	}
	for key, value := range j.source.Options {
		if strings.HasPrefix(key, "param.") {
			values.Set(strings.TrimPrefix(key, "param."), value)
		}
	}
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

func (j *JSONFetcher) toCandidate(art jsonArticle) (domain.ArticleCandidate, bool) {
	title := strings.TrimSpace(art.Title)
	if title == "" || title == "[Removed]" {
		return domain.ArticleCandidate{}, false
	}
	publishedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(art.PublishedAt))
	if err != nil {
		return domain.ArticleCandidate{}, false
	}

	id := art.ID
	if id == "" {
		id = art.URL
	}

	return domain.ArticleCandidate{
		Source:      j.source.Name,
		ExternalID:  id,
		URL:         art.URL,
		Title:       title,
		PublishedAt: publishedAt.UTC(),
		Body:        strings.TrimSpace(art.Content),
		Excerpt:     strings.TrimSpace(art.Description),
		Raw: map[string]any{
			"publisher": art.Source.Name,
			"author":    art.Author,
		},
	}, true
}

func classifyPayload(payload jsonResponse) error {
	if payload.Status != "error" {
		return nil
	}
	detail := payload.Code + ": " + payload.Message
	switch payload.Code {
	case "apiKeyInvalid", "apiKeyDisabled", "apiKeyMissing":
		return fmt.Errorf("%w: %s", domain.ErrAuth, detail)
	case "apiKeyExhausted", "maximumResultsReached":
		return fmt.Errorf("%w: %s", domain.ErrSourceExhausted, detail)
	case "rateLimited":
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, detail)
	default:
		return fmt.Errorf("provider error %s", detail)
	}
}

func providerDetail(payload jsonResponse, status string) string {
	if payload.Message != "" {
		return payload.Message
	}
	return status
}

func parseCostHeader(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	units, err := strconv.ParseInt(value, 10, 64)
	if err != nil || units < 0 {
		return 0
	}
	return units
}
