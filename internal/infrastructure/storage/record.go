package storage

import (
	"sort"
	"time"

	"NewsCollector/internal/domain"
)

// clusterRecord is the persisted shape of a cluster, one row per identity key.
type clusterRecord struct {
	IdentityKey string    `bson:"identity_key"`
	Subject     string    `bson:"subject"`
	Title       string    `bson:"title"`
	URL         string    `bson:"url"`
	Source      string    `bson:"source"`
	PublishedAt time.Time `bson:"published_at"`
	Excerpt     string    `bson:"excerpt,omitempty"`
	Sources     []string  `bson:"sources"`
	Members     int       `bson:"members"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func recordsFor(subject string, clusters []domain.Cluster, now time.Time) []clusterRecord {
	out := make([]clusterRecord, 0, len(clusters))
	seen := make(map[string]struct{}, len(clusters))
	for _, cl := range clusters {
		if cl.Key == "" {
			continue
		}
		if _, ok := seen[cl.Key]; ok {
			continue
		}
		seen[cl.Key] = struct{}{}

		excerpt := cl.Canonical.Excerpt
		if excerpt == "" && len(cl.Canonical.Body) > 0 {
			excerpt = truncate(cl.Canonical.Body, 280)
		}
		out = append(out, clusterRecord{
			IdentityKey: cl.Key,
			Subject:     subject,
			Title:       cl.Canonical.Title,
			URL:         cl.Canonical.URL,
			Source:      cl.Canonical.Source,
			PublishedAt: cl.Canonical.PublishedAt.UTC(),
			Excerpt:     excerpt,
			Sources:     memberSources(cl),
			Members:     len(cl.Members),
			UpdatedAt:   now.UTC(),
		})
	}
	return out
}

func memberSources(cl domain.Cluster) []string {
	set := map[string]struct{}{}
	for _, m := range cl.Members {
		set[m.Source] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
