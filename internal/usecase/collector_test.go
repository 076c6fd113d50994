package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"NewsCollector/internal/adapter"
	"NewsCollector/internal/calendar"
	"NewsCollector/internal/domain"
	"NewsCollector/internal/quota"
)

var fixedNow = time.Date(2024, time.June, 14, 12, 0, 0, 0, time.UTC)

type fetchFunc func(q domain.Query) (adapter.FetchResult, error)

func stubAdapter(src domain.Source, fn fetchFunc) adapter.Adapter {
	fetcher := adapter.FetcherFunc(func(_ context.Context, q domain.Query, _ int) (adapter.FetchResult, error) {
		return fn(q)
	})
	return adapter.New(src, fetcher,
		adapter.WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		adapter.WithBackoff(time.Millisecond, 1),
	)
}

func flatSource(name string, budget int64) domain.Source {
	return domain.Source{Name: name, Kind: "stub", Cost: domain.FlatCost{UnitsPerRequest: 1}, TotalBudget: budget}
}

func newTestCollector(adapters ...adapter.Adapter) (*Collector, *quota.Ledger) {
	sources := make([]domain.Source, 0, len(adapters))
	for _, a := range adapters {
		sources = append(sources, a.Source())
	}
	ledger := quota.New(sources...)
	return NewCollector(CollectorDeps{
		Adapters: adapters,
		Ledger:   ledger,
		Calendar: calendar.New(nil),
		Now:      func() time.Time { return fixedNow },
	}), ledger
}

func dated(q domain.Query) adapter.FetchResult {
	day := q.From.Format("20060102")
	return adapter.FetchResult{Candidates: []domain.ArticleCandidate{{
		ExternalID:  day,
		URL:         "https://example.com/" + day,
		Title:       day + " headline",
		PublishedAt: q.From.Add(10 * time.Hour),
	}}}
}

func findSource(t *testing.T, phase domain.PhaseOutcome, name string) domain.SourceOutcome {
	t.Helper()
	for _, s := range phase.Sources {
		if s.Source == name {
			return s
		}
	}
	t.Fatalf("phase %s has no outcome for %s", phase.Name, name)
	return domain.SourceOutcome{}
}

func TestRunOrdersPhasesAndCapsLaterAllocation(t *testing.T) {
	t.Parallel()

	src := flatSource("alpha", 120)
	a := stubAdapter(src, func(q domain.Query) (adapter.FetchResult, error) {
		if q.From.Equal(q.To) {
			return adapter.FetchResult{}, nil
		}
		at := q.To.Add(8 * time.Hour)
		return adapter.FetchResult{Candidates: []domain.ArticleCandidate{
			{ExternalID: "1", Title: "Rocket lands safely", PublishedAt: at},
			{ExternalID: "2", Title: "Markets rally today", PublishedAt: at},
			{ExternalID: "3", Title: "Storm hits coast", PublishedAt: at},
		}}, nil
	})
	c, ledger := newTestCollector(a)

	cfg := RunConfig{
		Subject: "news",
		Phases: []PhaseSpec{
			{
				Name:        "history",
				Strategy:    domain.StrategyHistorical,
				Priority:    2,
				TargetCount: 1000,
				From:        time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
				To:          time.Date(2024, time.March, 29, 0, 0, 0, 0, time.UTC),
				Allocations: map[string]int64{"alpha": 50},
			},
			{
				Name:        "recent",
				Strategy:    domain.StrategyRecent,
				Priority:    1,
				TargetCount: 2,
				WindowDays:  7,
				Allocations: map[string]int64{"alpha": 100},
			},
		},
	}

	res, err := c.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Phases) != 2 || res.Phases[0].Name != "recent" || res.Phases[1].Name != "history" {
		t.Fatalf("unexpected phase order: %+v", res.Phases)
	}

	recent := res.Phases[0]
	if recent.Status != domain.PhaseCompleted || recent.Accepted != 3 {
		t.Fatalf("recent = %s accepted %d, want completed with 3", recent.Status, recent.Accepted)
	}

	history := res.Phases[1]
	alpha := findSource(t, history, "alpha")
	if alpha.Allocated != 20 {
		t.Fatalf("history allocation = %d, want 20", alpha.Allocated)
	}
	if alpha.Spent != 20 || alpha.Calls != 20 {
		t.Fatalf("history spent %d in %d calls, want 20 in 20", alpha.Spent, alpha.Calls)
	}
	if history.Status != domain.PhaseBudgetExhausted {
		t.Fatalf("history status = %s, want %s", history.Status, domain.PhaseBudgetExhausted)
	}
	if !res.Partial {
		t.Fatalf("expected partial result when a phase ends without completing")
	}
	if got := ledger.Committed("alpha"); got != 21 {
		t.Fatalf("committed = %d, want 21", got)
	}
	if got := res.Consumption["alpha"].Remaining; got != 99 {
		t.Fatalf("remaining = %d, want 99", got)
	}
}

func TestRunMergesSameStoryAcrossSources(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, time.June, 13, 17, 0, 0, 0, time.UTC)
	newsapi := stubAdapter(flatSource("newsapi", 10), func(domain.Query) (adapter.FetchResult, error) {
		return adapter.FetchResult{Candidates: []domain.ArticleCandidate{{
			ExternalID:  "n1",
			URL:         "https://news.example.com/apple-iphone",
			Title:       "Apple unveils new iPhone",
			Body:        "Apple today introduced its new iPhone lineup.",
			PublishedAt: at,
		}}}, nil
	})
	gnews := stubAdapter(flatSource("gnews", 10), func(domain.Query) (adapter.FetchResult, error) {
		return adapter.FetchResult{Candidates: []domain.ArticleCandidate{{
			ExternalID:  "g1",
			URL:         "https://other.example.org/tech/iphone",
			Title:       "Apple Unveils New iPhone!",
			Excerpt:     "The new iPhone is here.",
			PublishedAt: at.Add(time.Hour),
		}}}, nil
	})
	c, _ := newTestCollector(newsapi, gnews)

	res, err := c.Run(context.Background(), RunConfig{
		Subject: "Apple iPhone",
		Phases:  []PhaseSpec{{Name: "recent", Strategy: domain.StrategyRecent, TargetCount: 10, WindowDays: 3}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(res.Clusters))
	}
	cl := res.Clusters[0]
	if len(cl.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(cl.Members))
	}
	if cl.Canonical.Source != "newsapi" {
		t.Fatalf("canonical source = %q, want newsapi", cl.Canonical.Source)
	}

	phase := res.Phases[0]
	if phase.Accepted != 1 || phase.Merged != 1 {
		t.Fatalf("accepted %d merged %d, want 1 and 1", phase.Accepted, phase.Merged)
	}
	if phase.Status != domain.PhaseCompleted || res.Partial {
		t.Fatalf("status = %s partial = %v", phase.Status, res.Partial)
	}
}

func TestRunShrinksExpensiveRangeQuery(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []domain.Query
	)
	src := domain.Source{Name: "archive", Kind: "stub", Cost: domain.RangeTokenCost{UnitsPerYear: 5}, TotalBudget: 10}
	a := stubAdapter(src, func(q domain.Query) (adapter.FetchResult, error) {
		mu.Lock()
		seen = append(seen, q)
		mu.Unlock()
		return adapter.FetchResult{}, nil
	})
	c, ledger := newTestCollector(a)

	res, err := c.Run(context.Background(), RunConfig{
		Subject: "election",
		Phases:  []PhaseSpec{{Name: "decade", Strategy: domain.StrategyRecent, TargetCount: 5, WindowDays: 1095}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := findSource(t, res.Phases[0], "archive")
	if out.Shrunk == 0 {
		t.Fatalf("expected the query to be narrowed")
	}
	if out.Calls != 1 || out.Spent != 10 {
		t.Fatalf("calls %d spent %d, want 1 and 10", out.Calls, out.Spent)
	}
	if len(seen) != 1 || seen[0].YearsSpanned() != 2 {
		t.Fatalf("issued queries = %+v, want one two-year query", seen)
	}
	if !seen[0].To.Equal(domain.TruncateDay(fixedNow)) {
		t.Fatalf("narrowed query must keep the most recent days, ends %s", seen[0].To)
	}
	if ledger.Remaining("archive") != 0 {
		t.Fatalf("remaining = %d, want 0", ledger.Remaining("archive"))
	}
}

func TestRunNeverIssuesQueryAboveRemainingBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	src := domain.Source{Name: "archive", Kind: "stub", Cost: domain.RangeTokenCost{UnitsPerYear: 5}, TotalBudget: 4}
	a := stubAdapter(src, func(domain.Query) (adapter.FetchResult, error) {
		calls++
		return adapter.FetchResult{}, nil
	})
	c, ledger := newTestCollector(a)

	res, err := c.Run(context.Background(), RunConfig{
		Subject: "election",
		Phases:  []PhaseSpec{{Name: "decade", Strategy: domain.StrategyRecent, TargetCount: 5, WindowDays: 1095}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
	if res.Phases[0].Status != domain.PhaseBudgetExhausted {
		t.Fatalf("status = %s, want %s", res.Phases[0].Status, domain.PhaseBudgetExhausted)
	}
	if ledger.Committed("archive") != 0 || ledger.Remaining("archive") != 4 {
		t.Fatalf("ledger moved without a call")
	}
}

func TestRunStopsCallingUnusableSource(t *testing.T) {
	t.Parallel()

	badCalls := 0
	bad := stubAdapter(flatSource("bad", 50), func(domain.Query) (adapter.FetchResult, error) {
		badCalls++
		return adapter.FetchResult{}, adapter.ClassifyStatus(401, "invalid key")
	})
	good := stubAdapter(flatSource("good", 50), func(q domain.Query) (adapter.FetchResult, error) {
		return dated(q), nil
	})
	c, ledger := newTestCollector(bad, good)

	res, err := c.Run(context.Background(), RunConfig{
		Subject: "markets",
		Phases: []PhaseSpec{
			{Name: "first", Strategy: domain.StrategyRecent, Priority: 1, TargetCount: 1, WindowDays: 1},
			{Name: "second", Strategy: domain.StrategyRecent, Priority: 2, TargetCount: 1, WindowDays: 5, SplitDaily: true},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if badCalls != 1 {
		t.Fatalf("bad source called %d times, want 1", badCalls)
	}
	if s := findSource(t, res.Phases[0], "bad"); s.Status != domain.SourceFailed {
		t.Fatalf("first phase bad status = %s", s.Status)
	}
	if s := findSource(t, res.Phases[1], "bad"); s.Status != domain.SourceUnusable || s.Calls != 0 {
		t.Fatalf("second phase bad = %+v, want unusable without calls", s)
	}
	if res.Consumption["bad"].Usable {
		t.Fatalf("bad source must be reported unusable")
	}
	if ledger.Committed("bad") != 0 {
		t.Fatalf("failed call must release its reservation")
	}
	for _, p := range res.Phases {
		if p.Status != domain.PhaseCompleted {
			t.Fatalf("phase %s = %s, want completed", p.Name, p.Status)
		}
	}
}

func TestRunPhaseFailsWhenEverySourceFails(t *testing.T) {
	t.Parallel()

	bad := stubAdapter(flatSource("bad", 50), func(domain.Query) (adapter.FetchResult, error) {
		return adapter.FetchResult{}, adapter.ClassifyStatus(403, "")
	})
	c, _ := newTestCollector(bad)

	res, err := c.Run(context.Background(), RunConfig{
		Subject: "markets",
		Phases:  []PhaseSpec{{Name: "recent", Strategy: domain.StrategyRecent, TargetCount: 1}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Phases[0].Status != domain.PhaseSourceError {
		t.Fatalf("status = %s, want %s", res.Phases[0].Status, domain.PhaseSourceError)
	}
	if !res.Partial {
		t.Fatalf("expected partial result")
	}
}

func TestRunPhaseFailsWhenEveryFundedSourceFails(t *testing.T) {
	t.Parallel()

	empty := stubAdapter(flatSource("empty", 0), func(domain.Query) (adapter.FetchResult, error) {
		t.Error("a source without budget must not be called")
		return adapter.FetchResult{}, nil
	})
	bad := stubAdapter(flatSource("bad", 50), func(domain.Query) (adapter.FetchResult, error) {
		return adapter.FetchResult{}, adapter.ClassifyStatus(403, "")
	})
	c, _ := newTestCollector(empty, bad)

	res, err := c.Run(context.Background(), RunConfig{
		Subject: "markets",
		Phases:  []PhaseSpec{{Name: "recent", Strategy: domain.StrategyRecent, TargetCount: 5}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	phase := res.Phases[0]
	if phase.Status != domain.PhaseSourceError {
		t.Fatalf("status = %s, want %s", phase.Status, domain.PhaseSourceError)
	}
	if s := findSource(t, phase, "empty"); s.Status != domain.SourceSkipped {
		t.Fatalf("empty status = %s, want %s", s.Status, domain.SourceSkipped)
	}
	if !res.Partial {
		t.Fatalf("expected partial result")
	}
}

func TestRunStopsAtTarget(t *testing.T) {
	t.Parallel()

	a := stubAdapter(flatSource("alpha", 500), func(q domain.Query) (adapter.FetchResult, error) {
		return dated(q), nil
	})
	c, _ := newTestCollector(a)

	res, err := c.Run(context.Background(), RunConfig{
		Subject: "markets",
		Phases: []PhaseSpec{{
			Name:        "history",
			Strategy:    domain.StrategyHistorical,
			TargetCount: 3,
			From:        time.Date(2023, time.January, 2, 0, 0, 0, 0, time.UTC),
			To:          time.Date(2023, time.December, 29, 0, 0, 0, 0, time.UTC),
		}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	phase := res.Phases[0]
	if phase.Status != domain.PhaseCompleted || phase.Accepted < 3 {
		t.Fatalf("phase = %s accepted %d", phase.Status, phase.Accepted)
	}
	// At most one call may already be in flight when the target is reached.
	if calls := findSource(t, phase, "alpha").Calls; calls > 4 {
		t.Fatalf("calls = %d, want at most 4", calls)
	}
}

func TestRunZeroBudgetCompletesEmpty(t *testing.T) {
	t.Parallel()

	calls := 0
	a := stubAdapter(flatSource("alpha", 0), func(q domain.Query) (adapter.FetchResult, error) {
		calls++
		return dated(q), nil
	})
	c, _ := newTestCollector(a)

	res, err := c.Run(context.Background(), RunConfig{
		Subject: "markets",
		Phases:  []PhaseSpec{{Name: "recent", Strategy: domain.StrategyRecent, TargetCount: 5}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 0 || len(res.Clusters) != 0 {
		t.Fatalf("calls %d clusters %d, want none", calls, len(res.Clusters))
	}
	if res.Phases[0].Status != domain.PhaseCompleted {
		t.Fatalf("status = %s, want completed", res.Phases[0].Status)
	}
	if s := findSource(t, res.Phases[0], "alpha"); s.Status != domain.SourceSkipped {
		t.Fatalf("source status = %s, want skipped", s.Status)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	a := stubAdapter(flatSource("alpha", 10), func(q domain.Query) (adapter.FetchResult, error) {
		return dated(q), nil
	})
	c, _ := newTestCollector(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Run(ctx, RunConfig{
		Subject: "markets",
		Phases:  []PhaseSpec{{Name: "recent", Strategy: domain.StrategyRecent, TargetCount: 1}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRunCancelledMidwayKeepsInFlightResults(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	a := stubAdapter(flatSource("alpha", 100), func(q domain.Query) (adapter.FetchResult, error) {
		calls++
		cancel()
		return dated(q), nil
	})
	c, _ := newTestCollector(a)

	res, err := c.Run(ctx, RunConfig{
		Subject: "markets",
		Phases: []PhaseSpec{
			{
				Name:        "history",
				Strategy:    domain.StrategyHistorical,
				Priority:    1,
				TargetCount: 50,
				From:        time.Date(2023, time.January, 2, 0, 0, 0, 0, time.UTC),
				To:          time.Date(2023, time.March, 31, 0, 0, 0, 0, time.UTC),
			},
			{Name: "recent", Strategy: domain.StrategyRecent, Priority: 2, TargetCount: 5},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !res.Partial {
		t.Fatalf("expected partial result")
	}
	if len(res.Clusters) != 1 {
		t.Fatalf("clusters = %d, want the in-flight result", len(res.Clusters))
	}
	for _, p := range res.Phases {
		if p.Status != domain.PhaseCancelled {
			t.Fatalf("phase %s = %s, want cancelled", p.Name, p.Status)
		}
	}
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	t.Parallel()

	a := stubAdapter(flatSource("alpha", 10), func(q domain.Query) (adapter.FetchResult, error) {
		return dated(q), nil
	})
	c, _ := newTestCollector(a)
	recent := PhaseSpec{Name: "recent", Strategy: domain.StrategyRecent, TargetCount: 1}

	tests := []struct {
		name string
		cfg  RunConfig
	}{
		{name: "empty subject", cfg: RunConfig{Phases: []PhaseSpec{recent}}},
		{name: "no phases", cfg: RunConfig{Subject: "x"}},
		{name: "unknown strategy", cfg: RunConfig{Subject: "x", Phases: []PhaseSpec{{Name: "p", Strategy: "sideways", TargetCount: 1}}}},
		{name: "zero target", cfg: RunConfig{Subject: "x", Phases: []PhaseSpec{{Name: "p", Strategy: domain.StrategyRecent}}}},
		{name: "historical without range", cfg: RunConfig{Subject: "x", Phases: []PhaseSpec{{Name: "p", Strategy: domain.StrategyHistorical, TargetCount: 1}}}},
		{name: "duplicate phase", cfg: RunConfig{Subject: "x", Phases: []PhaseSpec{recent, recent}}},
		{name: "unknown source", cfg: RunConfig{Subject: "x", Phases: []PhaseSpec{{
			Name: "p", Strategy: domain.StrategyRecent, TargetCount: 1, Allocations: map[string]int64{"ghost": 1},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Run(context.Background(), tt.cfg)
			if !errors.Is(err, domain.ErrInvalidQuery) {
				t.Fatalf("err = %v, want ErrInvalidQuery", err)
			}
		})
	}
}

func TestRunAbortsOnInvalidQueryFromProvider(t *testing.T) {
	t.Parallel()

	a := stubAdapter(flatSource("alpha", 10), func(domain.Query) (adapter.FetchResult, error) {
		return adapter.FetchResult{}, fmt.Errorf("%w: provider refused date range", domain.ErrInvalidQuery)
	})
	c, ledger := newTestCollector(a)

	_, err := c.Run(context.Background(), RunConfig{
		Subject: "markets",
		Phases:  []PhaseSpec{{Name: "recent", Strategy: domain.StrategyRecent, TargetCount: 1}},
	})
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("err = %v, want ErrInvalidQuery", err)
	}
	if ledger.Remaining("alpha") != 10 {
		t.Fatalf("rejected query must not consume budget")
	}
}

func TestBudgetPlanExplicitAllocationClaimsInFull(t *testing.T) {
	t.Parallel()

	ledger := quota.New(flatSource("alpha", 120))
	plan := newBudgetPlan(ledger)

	first := PhaseSpec{Name: "p1", Allocations: map[string]int64{"alpha": 100}}
	alloc := plan.allocate(first, []string{"alpha"})
	if alloc["alpha"] != 100 {
		t.Fatalf("p1 allocation = %d, want 100", alloc["alpha"])
	}
	plan.settle(first, alloc, map[string]int64{"alpha": 7})

	second := PhaseSpec{Name: "p2", Allocations: map[string]int64{"alpha": 50}}
	if got := plan.allocate(second, []string{"alpha"})["alpha"]; got != 20 {
		t.Fatalf("p2 allocation = %d, want 20", got)
	}

	open := PhaseSpec{Name: "open"}
	alloc = plan.allocate(open, []string{"alpha"})
	plan.settle(open, alloc, map[string]int64{"alpha": 5})
	if got := plan.allocate(second, []string{"alpha"})["alpha"]; got != 15 {
		t.Fatalf("after open phase allocation = %d, want 15", got)
	}
}

func TestShrinkKeepsMostRecentHalf(t *testing.T) {
	t.Parallel()

	to := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	q := domain.Query{Terms: []string{"x"}, From: to.AddDate(0, 0, -9), To: to}
	got, ok := shrink(q)
	if !ok || got.Days() != 5 || !got.To.Equal(to) {
		t.Fatalf("shrink = %+v ok=%v, want 5 days ending %s", got, ok, to)
	}

	single := domain.Query{Terms: []string{"x"}, From: to, To: to}
	if _, ok := shrink(single); ok {
		t.Fatalf("single day must not shrink")
	}
}
