package dedupe

import (
	"net/url"
	"strings"
	"time"
	"unicode"

	"NewsCollector/internal/domain"
)

// NormalizeURL keeps scheme, host and path, drops query, fragment and the
// trailing slash. Unparseable or host-less values normalise to "".
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	path := strings.TrimRight(u.EscapedPath(), "/")
	return scheme + "://" + strings.ToLower(u.Host) + path
}

// NormalizeTitle lowercases, strips punctuation and collapses whitespace.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	space := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// IdentityKey is the cross-source identity of a candidate: its normalised URL
// when present, otherwise normalised title plus publish day.
func IdentityKey(c domain.ArticleCandidate) string {
	if u := NormalizeURL(c.URL); u != "" {
		return "url:" + u
	}
	return "title:" + NormalizeTitle(c.Title) + "|" + domain.TruncateDay(c.PublishedAt).Format(time.DateOnly)
}

func firstToken(normalized string) string {
	if i := strings.IndexByte(normalized, ' '); i >= 0 {
		return normalized[:i]
	}
	return normalized
}
