package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"NewsCollector/internal/domain"
	"NewsCollector/internal/ports"
)

const clustersTable = "news_clusters"

// Schema creates the cluster table used by PostgresRepository.
const Schema = `CREATE TABLE IF NOT EXISTS news_clusters (
    identity_key TEXT PRIMARY KEY,
    subject      TEXT NOT NULL,
    title        TEXT NOT NULL,
    url          TEXT NOT NULL DEFAULT '',
    source       TEXT NOT NULL,
    published_at TIMESTAMPTZ NOT NULL,
    excerpt      TEXT NOT NULL DEFAULT '',
    sources      TEXT[] NOT NULL DEFAULT '{}',
    members      INTEGER NOT NULL DEFAULT 1,
    first_seen   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository persists accepted clusters into Postgres.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.CorpusStore = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// EnsureSchema creates the cluster table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func knownKeysQuery(keys []string) (string, []any, error) {
	return psql.Select("identity_key").
		From(clustersTable).
		Where(sq.Expr("identity_key = ANY(?)", pq.StringArray(keys))).
		ToSql()
}

// KnownKeys returns the identity keys that already exist in storage.
func (r *PostgresRepository) KnownKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	if r.db == nil || len(keys) == 0 {
		return map[string]bool{}, nil
	}

	query, args, err := knownKeysQuery(keys)
	if err != nil {
		return nil, fmt.Errorf("build known keys query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query known keys: %w", err)
	}

	result := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan key: %w", err)
		}
		result[key] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

func upsertClustersQuery(records []clusterRecord) (string, []any, error) {
	insert := psql.Insert(clustersTable).
		Columns("identity_key", "subject", "title", "url", "source", "published_at", "excerpt", "sources", "members", "updated_at")
	for _, rec := range records {
		insert = insert.Values(
			rec.IdentityKey,
			rec.Subject,
			rec.Title,
			rec.URL,
			rec.Source,
			rec.PublishedAt,
			rec.Excerpt,
			pq.StringArray(rec.Sources),
			rec.Members,
			rec.UpdatedAt,
		)
	}
	return insert.Suffix(`ON CONFLICT (identity_key) DO UPDATE
              SET title = EXCLUDED.title,
                  url = EXCLUDED.url,
                  source = EXCLUDED.source,
                  published_at = EXCLUDED.published_at,
                  excerpt = EXCLUDED.excerpt,
                  sources = EXCLUDED.sources,
                  members = GREATEST(news_clusters.members, EXCLUDED.members),
                  updated_at = EXCLUDED.updated_at`).
		ToSql()
}

// UpsertClusters stores the canonical article of every cluster in one statement.
func (r *PostgresRepository) UpsertClusters(ctx context.Context, subject string, clusters []domain.Cluster) error {
	if r.db == nil {
		return nil
	}
	records := recordsFor(subject, clusters, r.now())
	if len(records) == 0 {
		return nil
	}

	query, args, err := upsertClustersQuery(records)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert clusters: %w", err)
	}
	return nil
}
