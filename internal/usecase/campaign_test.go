package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"NewsCollector/internal/adapter"
	"NewsCollector/internal/domain"
)

type memoryStore struct {
	mu      sync.Mutex
	rows    map[string]domain.Cluster
	upserts int
	lookErr error
}

func (m *memoryStore) KnownKeys(_ context.Context, keys []string) (map[string]bool, error) {
	if m.lookErr != nil {
		return nil, m.lookErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, k := range keys {
		if _, ok := m.rows[k]; ok {
			out[k] = true
		}
	}
	return out, nil
}

func (m *memoryStore) UpsertClusters(_ context.Context, _ string, clusters []domain.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[string]domain.Cluster{}
	}
	for _, cl := range clusters {
		m.rows[cl.Key] = cl
	}
	m.upserts++
	return nil
}

type recordingNotifier struct {
	digests []string
	err     error
}

func (r *recordingNotifier) PublishDigest(_ context.Context, digest string) error {
	r.digests = append(r.digests, digest)
	return r.err
}

func campaignConfig() RunConfig {
	return RunConfig{
		Subject: "markets",
		Phases:  []PhaseSpec{{Name: "recent", Strategy: domain.StrategyRecent, TargetCount: 10, WindowDays: 3, SplitDaily: true}},
	}
}

func TestCampaignPersistsIdempotently(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	notifier := &recordingNotifier{}
	for i := 0; i < 2; i++ {
		a := stubAdapter(flatSource("alpha", 10), func(q domain.Query) (adapter.FetchResult, error) {
			return dated(q), nil
		})
		c, _ := newTestCollector(a)
		campaign := NewCampaign(CampaignDeps{Collector: c, Store: store, Notifier: notifier})

		res, err := campaign.Run(context.Background(), campaignConfig())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(res.Clusters) != 3 {
			t.Fatalf("run %d clusters = %d, want 3", i, len(res.Clusters))
		}
	}

	if len(store.rows) != 3 || store.upserts != 2 {
		t.Fatalf("rows %d upserts %d, want 3 rows from 2 upserts", len(store.rows), store.upserts)
	}
	if len(notifier.digests) != 2 {
		t.Fatalf("digests = %d, want 2", len(notifier.digests))
	}
	if !strings.Contains(notifier.digests[0], "Clusters: 3 (3 new)") {
		t.Fatalf("first digest = %q", notifier.digests[0])
	}
	if !strings.Contains(notifier.digests[1], "Clusters: 3 (0 new)") {
		t.Fatalf("second digest = %q", notifier.digests[1])
	}
}

func TestCampaignToleratesOutboundFailures(t *testing.T) {
	t.Parallel()

	a := stubAdapter(flatSource("alpha", 10), func(q domain.Query) (adapter.FetchResult, error) {
		return dated(q), nil
	})
	c, _ := newTestCollector(a)
	store := &memoryStore{lookErr: errors.New("db down")}
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	campaign := NewCampaign(CampaignDeps{Collector: c, Store: store, Notifier: notifier})

	res, err := campaign.Run(context.Background(), campaignConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Clusters) != 3 || store.upserts != 1 {
		t.Fatalf("clusters %d upserts %d", len(res.Clusters), store.upserts)
	}
	if len(notifier.digests) != 1 || !strings.Contains(notifier.digests[0], "Clusters: 3\n") {
		t.Fatalf("digest = %q", notifier.digests)
	}
}

func TestRenderDigest(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.June, 14, 12, 0, 0, 0, time.UTC)
	at := start.Add(-time.Hour)
	res := domain.CollectionResult{
		RunID:      "run-1",
		Subject:    "apple_iphone",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Partial:    true,
		Phases:     []domain.PhaseOutcome{{Name: "recent", Status: domain.PhaseBudgetExhausted, Target: 10, Accepted: 4, Merged: 2}},
		Consumption: map[string]domain.SourceConsumption{
			"newsapi": {Source: "newsapi", Total: 100, Committed: 104, Overage: 4, Usable: true},
			"gnews":   {Source: "gnews", Total: 50, Usable: false},
		},
		Clusters: []domain.Cluster{{
			Key:       "url:example.com/a",
			Canonical: domain.ArticleCandidate{Source: "newsapi", Title: "Apple *unveils* iPhone", URL: "https://example.com/a", PublishedAt: at},
			Members:   []domain.ArticleCandidate{{}, {}},
		}},
	}

	got := RenderDigest(res, 1)
	for _, want := range []string{
		"*News collection: apple\\_iphone*",
		"Run `run-1` partial in 1m30s",
		"Clusters: 1 (1 new)",
		"• recent: budget-exhausted, 4/10 accepted, 2 merged",
		"• gnews: 0/50 used, disabled\n• newsapi: 104/100 used, 4 over",
		"• [Apple \\*unveils\\* iPhone](https://example.com/a) (newsapi, 2 reports)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("digest missing %q:\n%s", want, got)
		}
	}
}

func TestPlanReportsWorstCaseAllocations(t *testing.T) {
	t.Parallel()

	a := stubAdapter(flatSource("alpha", 120), func(q domain.Query) (adapter.FetchResult, error) {
		return dated(q), nil
	})
	c, ledger := newTestCollector(a)

	phases, err := c.Plan(RunConfig{
		Subject: "markets",
		Phases: []PhaseSpec{
			{Name: "late", Strategy: domain.StrategyRecent, Priority: 3, TargetCount: 1},
			{Name: "p2", Strategy: domain.StrategyHistorical, Priority: 2, TargetCount: 1,
				From: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC), SampleSize: 5,
				Allocations: map[string]int64{"alpha": 50}},
			{Name: "p1", Strategy: domain.StrategyRecent, Priority: 1, TargetCount: 1, Allocations: map[string]int64{"alpha": 100}},
		},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	want := []struct {
		name  string
		alloc int64
	}{{"p1", 100}, {"p2", 20}, {"late", 0}}
	for i, w := range want {
		if phases[i].Name != w.name || phases[i].Allocation["alpha"] != w.alloc {
			t.Fatalf("phase %d = %s/%d, want %s/%d", i, phases[i].Name, phases[i].Allocation["alpha"], w.name, w.alloc)
		}
	}
	if len(phases[1].Dates) != 5 {
		t.Fatalf("sampled dates = %d, want 5", len(phases[1].Dates))
	}
	if ledger.Committed("alpha") != 0 {
		t.Fatalf("planning must not touch the ledger")
	}
}
