package usecase

import (
	"context"
	"log/slog"
	"time"

	"NewsCollector/internal/domain"
	"NewsCollector/internal/ports"
)

const persistTimeout = 30 * time.Second

// CampaignDeps bundles the run and its optional outbound collaborators.
type CampaignDeps struct {
	Collector *Collector
	Store     ports.CorpusStore
	Notifier  ports.Notifier
	Logger    *slog.Logger
}

// Campaign runs a collection, persists accepted clusters and publishes a digest.
type Campaign struct {
	collector *Collector
	store     ports.CorpusStore
	notifier  ports.Notifier
	logger    *slog.Logger
}

// NewCampaign builds the use case; store and notifier may be nil.
func NewCampaign(deps CampaignDeps) *Campaign {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Campaign{
		collector: deps.Collector,
		store:     deps.Store,
		notifier:  deps.Notifier,
		logger:    logger,
	}
}

// Run executes one campaign. Storage and notification failures are logged;
// only collection errors are returned.
func (c *Campaign) Run(ctx context.Context, cfg RunConfig) (domain.CollectionResult, error) {
	result, err := c.collector.Run(ctx, cfg)
	if err != nil {
		return result, err
	}

	// A cancelled run still persists and reports its partial result.
	outCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	fresh := c.persist(outCtx, result)

	if c.notifier != nil {
		if err := c.notifier.PublishDigest(outCtx, RenderDigest(result, fresh)); err != nil {
			c.logger.Warn("publish digest failed", "run_id", result.RunID, "error", err)
		}
	}
	return result, nil
}

func (c *Campaign) persist(ctx context.Context, result domain.CollectionResult) int {
	if c.store == nil || len(result.Clusters) == 0 {
		return -1
	}

	keys := make([]string, 0, len(result.Clusters))
	for _, cl := range result.Clusters {
		keys = append(keys, cl.Key)
	}

	fresh := -1
	known, err := c.store.KnownKeys(ctx, keys)
	if err != nil {
		c.logger.Warn("lookup known clusters failed", "run_id", result.RunID, "error", err)
	} else {
		fresh = 0
		for _, key := range keys {
			if !known[key] {
				fresh++
			}
		}
	}

	if err := c.store.UpsertClusters(ctx, result.Subject, result.Clusters); err != nil {
		c.logger.Error("persist clusters failed", "run_id", result.RunID, "error", err)
		return fresh
	}
	c.logger.Info("clusters persisted", "run_id", result.RunID, "total", len(keys), "new", fresh)
	return fresh
}
