package ports

import (
	"context"
	"time"

	"NewsCollector/internal/domain"
)

// CorpusStore persists canonical candidates keyed by their identity key.
// Upserts are idempotent so repeated runs do not duplicate rows.
type CorpusStore interface {
	KnownKeys(ctx context.Context, keys []string) (map[string]bool, error)
	UpsertClusters(ctx context.Context, subject string, clusters []domain.Cluster) error
}

// Notifier publishes a run summary to an outbound channel.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when collection runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
