package sources

import (
	"NewsCollector/internal/adapter"
	"NewsCollector/internal/domain"
)

// Adapter kinds understood by the registry.
const (
	KindJSON = "json"
	KindRSS  = "rss"
	KindHTML = "html"
)

// Register installs every provider kind into the registry.
func Register(reg *adapter.Registry) {
	reg.Register(KindJSON, func(src domain.Source, env adapter.Env) (adapter.Fetcher, error) {
		return NewJSONFetcher(src, env.HTTPClient), nil
	})
	reg.Register(KindRSS, func(src domain.Source, env adapter.Env) (adapter.Fetcher, error) {
		return NewRSSFetcher(src, env.HTTPClient), nil
	})
	reg.Register(KindHTML, func(src domain.Source, env adapter.Env) (adapter.Fetcher, error) {
		return NewHTMLFetcher(src, env.HTTPClient), nil
	})
}
