package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsCollector/internal/adapter"
	"NewsCollector/internal/domain"
)

// Selector options recognised by the HTML search adapter.
const (
	optItem       = "itemSelector"
	optTitle      = "titleSelector"
	optLink       = "linkSelector"
	optDate       = "dateSelector"
	optDateLayout = "dateLayout"
	optExcerpt    = "excerptSelector"
)

var htmlDateExpr = regexp.MustCompile(`\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}(:\d{2})?(Z|[+-]\d{2}:\d{2})?)?`)

type htmlSelectors struct {
	item, title, link, date, dateLayout, excerpt string
}

// HTMLFetcher scrapes a provider search results page.
type HTMLFetcher struct {
	source    domain.Source
	client    *http.Client
	selectors htmlSelectors
}

var _ adapter.Fetcher = (*HTMLFetcher)(nil)

// NewHTMLFetcher wires an HTTP client; selectors come from source options.
func NewHTMLFetcher(source domain.Source, client *http.Client) *HTMLFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	opt := func(key, fallback string) string {
		if v := strings.TrimSpace(source.Options[key]); v != "" {
			return v
		}
		return fallback
	}
	return &HTMLFetcher{
		source: source,
		client: client,
		selectors: htmlSelectors{
			item:       opt(optItem, "article"),
			title:      opt(optTitle, "h2, h3"),
			link:       opt(optLink, "a[href]"),
			date:       opt(optDate, "time"),
			dateLayout: opt(optDateLayout, ""),
			excerpt:    opt(optExcerpt, "p"),
		},
	}
}

// FetchOnce requests a single results page for the query range.
func (h *HTMLFetcher) FetchOnce(ctx context.Context, q domain.Query, maxResults int) (adapter.FetchResult, error) {
	pageURL, err := buildSearchURL(h.source.BaseURL, q, maxResults)
	if err != nil {
		return adapter.FetchResult{}, err
	}

	doc, err := h.fetchDocument(ctx, pageURL)
	if err != nil {
		return adapter.FetchResult{}, err
	}

	return adapter.FetchResult{Candidates: h.extractCandidates(doc, pageURL, q, maxResults)}, nil
}

func (h *HTMLFetcher) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if h.source.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.source.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, adapter.ClassifyTransport(fmt.Errorf("request document: %w", err))
	}
	defer resp.Body.Close()

	if err := adapter.ClassifyStatus(resp.StatusCode, resp.Status); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, adapter.ClassifyTransport(fmt.Errorf("parse document: %w", err))
	}
	return doc, nil
}

func (h *HTMLFetcher) extractCandidates(doc *goquery.Document, pageURL string, q domain.Query, maxResults int) []domain.ArticleCandidate {
	var collected []domain.ArticleCandidate
	from := domain.TruncateDay(q.From)
	to := domain.TruncateDay(q.To)

	doc.Find(h.selectors.item).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if maxResults > 0 && len(collected) >= maxResults {
			return false
		}

		candidate, err := h.parseItem(item, pageURL)
		if err != nil {
			return true
		}

		day := domain.TruncateDay(candidate.PublishedAt)
		if day.Before(from) || day.After(to) {
			return true
		}
		collected = append(collected, candidate)
		return true
	})

	return collected
}

func (h *HTMLFetcher) parseItem(item *goquery.Selection, pageURL string) (domain.ArticleCandidate, error) {
	title := strings.TrimSpace(item.Find(h.selectors.title).First().Text())
	if title == "" {
		return domain.ArticleCandidate{}, fmt.Errorf("item without title")
	}

	href, _ := item.Find(h.selectors.link).First().Attr("href")
	link := resolveURL(pageURL, href)

	dateSel := item.Find(h.selectors.date).First()
	dateText, ok := dateSel.Attr("datetime")
	if !ok {
		dateText = dateSel.Text()
	}
	publishedAt, err := parseHTMLDate(strings.TrimSpace(dateText), h.selectors.dateLayout)
	if err != nil {
		return domain.ArticleCandidate{}, err
	}

	excerpt := strings.TrimSpace(item.Find(h.selectors.excerpt).First().Text())

	id := link
	if v, ok := item.Attr("data-id"); ok && v != "" {
		id = v
	}

	return domain.ArticleCandidate{
		Source:      h.source.Name,
		ExternalID:  id,
		URL:         link,
		Title:       title,
		PublishedAt: publishedAt,
		Excerpt:     excerpt,
		Raw: map[string]any{
			"page": pageURL,
		},
	}, nil
}

func parseHTMLDate(text, layout string) (time.Time, error) {
	if layout != "" {
		return time.Parse(layout, text)
	}
	match := htmlDateExpr.FindString(text)
	if match == "" {
		return time.Time{}, fmt.Errorf("no date in %q", text)
	}
	for _, l := range []string{time.RFC3339, "2006-01-02T15:04Z07:00", "2006-01-02T15:04:05", "2006-01-02T15:04", time.DateOnly} {
		if parsed, err := time.Parse(l, match); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date %q", match)
}

func buildSearchURL(base string, q domain.Query, maxResults int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base url %s: %v", domain.ErrInvalidQuery, base, err)
	}

	query := parsed.Query()
	query.Set("q", q.Text())
	query.Set("from", q.From.Format(time.DateOnly))
	query.Set("to", q.To.Format(time.DateOnly))
	if maxResults > 0 {
		query.Set("size", strconv.Itoa(maxResults))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func resolveURL(pageURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
