package domain

import (
	"strings"
	"time"
)

// ArticleCandidate is a single article returned by a source adapter.
type ArticleCandidate struct {
	Source      string
	ExternalID  string
	URL         string
	Title       string
	PublishedAt time.Time
	Body        string
	Excerpt     string
	Raw         map[string]any
}

// HasBody reports whether the candidate carries full text rather than an excerpt.
func (c ArticleCandidate) HasBody() bool {
	return strings.TrimSpace(c.Body) != ""
}

// Cluster groups candidates judged to describe the same real-world article.
// Scores holds each member's title similarity to the canonical, aligned with Members.
type Cluster struct {
	ID        int
	Key       string
	Canonical ArticleCandidate
	Members   []ArticleCandidate
	Scores    []float64
}

// ClusterOutcomeKind tells what ingestion did with a candidate.
type ClusterOutcomeKind string

const (
	OutcomeNewCluster        ClusterOutcomeKind = "new-cluster"
	OutcomeMergedInto        ClusterOutcomeKind = "merged"
	OutcomeRejectedDuplicate ClusterOutcomeKind = "rejected-duplicate"
)

// ClusterOutcome is returned by the deduplication engine for every ingested candidate.
type ClusterOutcome struct {
	Kind      ClusterOutcomeKind
	ClusterID int
	Score     float64
	// Absorbed counts existing clusters joined into ClusterID by this candidate.
	Absorbed int
}
