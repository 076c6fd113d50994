package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"NewsCollector/internal/adapter"
	"NewsCollector/internal/calendar"
	"NewsCollector/internal/dedupe"
	"NewsCollector/internal/domain"
	"NewsCollector/internal/quota"
)

const (
	defaultPageSize     = 100
	defaultFetchTimeout = 2 * time.Minute
)

// CollectorDeps wires the collaborators of a collection campaign.
type CollectorDeps struct {
	Adapters     []adapter.Adapter
	Ledger       *quota.Ledger
	Calendar     *calendar.Calendar
	Dedupe       dedupe.Options
	FetchTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Collector plans and executes phases in priority order, feeding every
// fetched candidate through the deduplication engine.
type Collector struct {
	adapters     []adapter.Adapter
	ledger       *quota.Ledger
	calendar     *calendar.Calendar
	dedupeOpts   dedupe.Options
	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewCollector constructs the orchestration component.
func NewCollector(deps CollectorDeps) *Collector {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cal := deps.Calendar
	if cal == nil {
		cal = calendar.New(nil)
	}
	timeout := deps.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Collector{
		adapters:     deps.Adapters,
		ledger:       deps.Ledger,
		calendar:     cal,
		dedupeOpts:   deps.Dedupe,
		fetchTimeout: timeout,
		logger:       logger,
		now:          now,
	}
}

// run holds the state of one Run call.
type run struct {
	engine   *dedupe.Engine
	plan     *budgetPlan
	mu       sync.Mutex
	unusable map[string]string
}

func (r *run) markUnusable(source string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unusable[source] = err.Error()
}

func (r *run) isUnusable(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.unusable[source]
	return ok
}

// Run executes the campaign. It fails only on configuration errors or when
// cancelled before the first phase starts; otherwise it returns a result,
// marked partial when cut short.
func (c *Collector) Run(ctx context.Context, cfg RunConfig) (domain.CollectionResult, error) {
	if c.ledger == nil {
		return domain.CollectionResult{}, fmt.Errorf("%w: quota ledger is not configured", domain.ErrInvalidQuery)
	}
	if err := cfg.validate(c.ledger); err != nil {
		return domain.CollectionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.CollectionResult{}, fmt.Errorf("run cancelled before start: %w", err)
	}

	result := domain.CollectionResult{
		RunID:     uuid.NewString(),
		Subject:   cfg.Subject,
		StartedAt: c.now(),
	}
	state := &run{
		engine:   dedupe.NewEngine(c.dedupeOpts),
		plan:     newBudgetPlan(c.ledger),
		unusable: map[string]string{},
	}
	logger := c.logger.With("run_id", result.RunID)
	logger.Info("collection started", "subject", cfg.Subject, "phases", len(cfg.Phases), "sources", len(c.adapters))

	for _, spec := range cfg.ordered() {
		if ctx.Err() != nil {
			result.Partial = true
			result.Phases = append(result.Phases, domain.PhaseOutcome{
				Name:     spec.Name,
				Priority: spec.Priority,
				Status:   domain.PhaseCancelled,
				Target:   spec.TargetCount,
			})
			continue
		}

		outcome, err := c.runPhase(ctx, cfg, spec, state, logger)
		if err != nil {
			return domain.CollectionResult{}, err
		}
		result.Phases = append(result.Phases, outcome)
		if outcome.Status != domain.PhaseCompleted {
			result.Partial = true
		}
	}

	result.Clusters = state.engine.Clusters()
	result.Consumption = c.ledger.Snapshot()
	for name, reason := range state.unusable {
		if cons, ok := result.Consumption[name]; ok {
			cons.Usable = false
			result.Consumption[name] = cons
			logger.Debug("source unusable", "source", name, "reason", reason)
		}
	}
	result.FinishedAt = c.now()

	logger.Info("collection finished",
		"clusters", len(result.Clusters),
		"partial", result.Partial,
		"duration", result.FinishedAt.Sub(result.StartedAt),
	)
	return result, nil
}

type sourceWork struct {
	adapter adapter.Adapter
	outcome domain.SourceOutcome
	spent   int64
}

func (c *Collector) runPhase(ctx context.Context, cfg RunConfig, spec PhaseSpec, state *run, logger *slog.Logger) (domain.PhaseOutcome, error) {
	names := make([]string, 0, len(c.adapters))
	for _, a := range c.adapters {
		names = append(names, a.Source().Name)
	}

	alloc := state.plan.allocate(spec, names)
	phase := phaseFor(spec, c.calendar, c.now(), alloc)
	logger = logger.With("phase", phase.Name)
	logger.Info("phase planned",
		"status", domain.PhasePlanned,
		"strategy", phase.Strategy,
		"target", phase.TargetCount,
		"dates", len(phase.Dates),
		"allocation", phase.TotalAllocation(),
	)

	outcome := domain.PhaseOutcome{
		Name:     phase.Name,
		Priority: phase.Priority,
		Target:   phase.TargetCount,
	}

	work := make([]*sourceWork, 0, len(c.adapters))
	for _, a := range c.adapters {
		name := a.Source().Name
		w := &sourceWork{adapter: a, outcome: domain.SourceOutcome{
			Source:    name,
			Status:    domain.SourceOK,
			Allocated: alloc[name],
		}}
		switch {
		case state.isUnusable(name):
			w.outcome.Status = domain.SourceUnusable
		case alloc[name] <= 0:
			w.outcome.Status = domain.SourceSkipped
		}
		work = append(work, w)
	}

	var accepted atomic.Int64
	batches := make(chan []domain.ArticleCandidate)
	g, gctx := errgroup.WithContext(ctx)

	logger.Info("phase running", "status", domain.PhaseRunning)
	for _, w := range work {
		if w.outcome.Status != domain.SourceOK {
			continue
		}
		g.Go(func() error {
			return c.drive(ctx, gctx, cfg, spec, phase, w, state, &accepted, batches, logger)
		})
	}

	var runErr error
	done := make(chan struct{})
	go func() {
		runErr = g.Wait()
		close(batches)
		close(done)
	}()

	// A candidate bridging two clusters joins them, so accepted is the net
	// growth in cluster count rather than a tally of new clusters.
	before := state.engine.Len()
	for batch := range batches {
		for _, candidate := range batch {
			switch state.engine.Ingest(candidate).Kind {
			case domain.OutcomeMergedInto:
				outcome.Merged++
			case domain.OutcomeRejectedDuplicate:
				outcome.Rejected++
			}
			outcome.Accepted = max(0, state.engine.Len()-before)
			accepted.Store(int64(outcome.Accepted))
		}
	}
	<-done

	if runErr != nil {
		return domain.PhaseOutcome{}, runErr
	}

	spent := make(map[string]int64, len(work))
	for _, w := range work {
		spent[w.outcome.Source] = w.spent
		outcome.Sources = append(outcome.Sources, w.outcome)
	}
	state.plan.settle(spec, alloc, spent)

	outcome.Status = phaseStatus(ctx, outcome)
	logger.Info("phase finished",
		"status", outcome.Status,
		"accepted", outcome.Accepted,
		"merged", outcome.Merged,
		"rejected", outcome.Rejected,
	)
	return outcome, nil
}

func phaseStatus(ctx context.Context, outcome domain.PhaseOutcome) domain.PhaseStatus {
	if outcome.Accepted >= outcome.Target {
		return domain.PhaseCompleted
	}

	active, failed, exhausted, other := 0, 0, 0, 0
	for _, s := range outcome.Sources {
		if s.Status == domain.SourceSkipped {
			continue
		}
		active++
		switch s.Status {
		case domain.SourceFailed, domain.SourceUnusable:
			failed++
		case domain.SourceBudgetExhausted:
			exhausted++
		case domain.SourceCancelled:
			return domain.PhaseCancelled
		default:
			other++
		}
	}
	if ctx.Err() != nil {
		return domain.PhaseCancelled
	}

	// Skipped sources had no budget to try with; they neither fail a phase
	// nor keep it alive.
	switch {
	case active == 0:
		return domain.PhaseCompleted
	case failed == active:
		return domain.PhaseSourceError
	case exhausted > 0 && other == 0:
		return domain.PhaseBudgetExhausted
	default:
		return domain.PhaseCompleted
	}
}

// drive walks the phase queries for one source sequentially. runCtx stops new
// calls; in-flight calls finish on a detached context so their results are kept.
func (c *Collector) drive(
	runCtx, groupCtx context.Context,
	cfg RunConfig,
	spec PhaseSpec,
	phase domain.CollectionPhase,
	w *sourceWork,
	state *run,
	accepted *atomic.Int64,
	batches chan<- []domain.ArticleCandidate,
	logger *slog.Logger,
) error {
	src := w.adapter.Source()
	logger = logger.With("source", src.Name)

	pageSize := src.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	allowance := phase.Allocation[src.Name]

	for _, q := range queries(spec, phase, cfg.terms(), pageSize) {
		if runCtx.Err() != nil || groupCtx.Err() != nil {
			w.outcome.Status = domain.SourceCancelled
			return nil
		}
		if accepted.Load() >= int64(phase.TargetCount) {
			return nil
		}

		auth, q, err := c.reserve(src, q, allowance-w.spent, &w.outcome)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientBudget) {
				logger.Debug("budget denied", "reason", err)
				w.outcome.Status = domain.SourceBudgetExhausted
				return nil
			}
			return err
		}

		before := c.ledger.Committed(src.Name)
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), c.fetchTimeout)
		res, err := w.adapter.Fetch(fetchCtx, q, q.MaxResults)
		cancel()
		w.outcome.Calls++

		if err != nil {
			if releaseErr := c.ledger.Release(auth); releaseErr != nil {
				logger.Warn("release reservation", "error", releaseErr)
			}
			if errors.Is(err, domain.ErrInvalidQuery) {
				return fmt.Errorf("source %s: %w", src.Name, err)
			}
			w.outcome.Status = domain.SourceFailed
			w.outcome.Error = err.Error()
			if domain.IsFatalForSource(err) {
				state.markUnusable(src.Name, err)
				logger.Warn("source disabled for the rest of the run", "error", err)
			} else {
				logger.Warn("source failed for this phase", "error", err)
			}
			return nil
		}

		actual := res.ActualCost
		if actual <= 0 {
			actual = auth.Reserved
		}
		if err := c.ledger.Commit(auth, actual); err != nil {
			logger.Warn("commit reservation", "error", err)
		}
		w.spent += c.ledger.Committed(src.Name) - before
		w.outcome.Spent = w.spent
		w.outcome.Fetched += len(res.Candidates)

		if len(res.Candidates) > 0 {
			batches <- res.Candidates
		}
	}
	return nil
}

// reserve checks the phase allowance and the ledger. A range-token query that
// is too expensive is narrowed to its most recent half until it fits.
func (c *Collector) reserve(src domain.Source, q domain.Query, allowance int64, outcome *domain.SourceOutcome) (quota.Authorization, domain.Query, error) {
	for {
		var (
			auth quota.Authorization
			err  error
		)
		cost, estErr := c.ledger.Estimate(src.Name, q)
		switch {
		case estErr != nil:
			return quota.Authorization{}, q, fmt.Errorf("%w: %v", domain.ErrInvalidQuery, estErr)
		case cost > allowance:
			err = fmt.Errorf("%w: phase allowance for %s is %d, query costs %d", domain.ErrInsufficientBudget, src.Name, allowance, cost)
		default:
			auth, err = c.ledger.Reserve(src.Name, q)
		}
		if err == nil {
			return auth, q, nil
		}
		if !errors.Is(err, domain.ErrInsufficientBudget) {
			return quota.Authorization{}, q, err
		}

		narrowed, ok := shrink(q)
		if !ok || src.EstimateCost(narrowed) >= cost {
			return quota.Authorization{}, q, err
		}
		q = narrowed
		outcome.Shrunk++
	}
}
