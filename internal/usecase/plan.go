package usecase

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"NewsCollector/internal/calendar"
	"NewsCollector/internal/domain"
	"NewsCollector/internal/quota"
)

// AnySource keys an allocation that applies to every source without its own entry.
const AnySource = "*"

const defaultWindowDays = 7

// PhaseSpec is the configured shape of a phase before planning.
type PhaseSpec struct {
	Name        string
	Strategy    domain.Strategy
	TargetCount int
	Priority    int
	// WindowDays sizes a recent window ending today.
	WindowDays int
	// SplitDaily issues one query per eligible day of a recent window.
	SplitDaily bool
	// From, To and SampleSize describe a historical sample.
	From       time.Time
	To         time.Time
	SampleSize int
	// Allocations caps spend per source; absent sources may use what is left.
	Allocations map[string]int64
}

// RunConfig is everything a collection campaign needs besides its adapters.
type RunConfig struct {
	Subject string
	Terms   []string
	Phases  []PhaseSpec
}

func (c RunConfig) terms() []string {
	if len(c.Terms) > 0 {
		return c.Terms
	}
	return strings.Fields(c.Subject)
}

// validate rejects configuration errors; they abort the run.
func (c RunConfig) validate(ledger *quota.Ledger) error {
	if len(c.terms()) == 0 {
		return fmt.Errorf("%w: subject is empty", domain.ErrInvalidQuery)
	}
	if len(c.Phases) == 0 {
		return fmt.Errorf("%w: no phases configured", domain.ErrInvalidQuery)
	}

	known := map[string]bool{AnySource: true}
	for _, name := range ledger.Sources() {
		known[name] = true
	}

	seen := map[string]bool{}
	for i, p := range c.Phases {
		prefix := fmt.Sprintf("phases[%d]", i)
		if p.Name == "" {
			return fmt.Errorf("%w: %s.name is required", domain.ErrInvalidQuery, prefix)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate phase %q", domain.ErrInvalidQuery, p.Name)
		}
		seen[p.Name] = true

		if p.TargetCount <= 0 {
			return fmt.Errorf("%w: %s.targetCount must be > 0", domain.ErrInvalidQuery, prefix)
		}
		switch p.Strategy {
		case domain.StrategyRecent:
			if p.WindowDays < 0 {
				return fmt.Errorf("%w: %s.windowDays must be >= 0", domain.ErrInvalidQuery, prefix)
			}
		case domain.StrategyHistorical:
			if p.From.IsZero() || p.To.IsZero() {
				return fmt.Errorf("%w: %s needs from and to", domain.ErrInvalidQuery, prefix)
			}
		default:
			return fmt.Errorf("%w: %s.strategy %q is unknown", domain.ErrInvalidQuery, prefix, p.Strategy)
		}
		for source, units := range p.Allocations {
			if !known[source] {
				return fmt.Errorf("%w: %s allocates to unknown source %q", domain.ErrInvalidQuery, prefix, source)
			}
			if units < 0 {
				return fmt.Errorf("%w: %s allocation for %q is negative", domain.ErrInvalidQuery, prefix, source)
			}
		}
	}
	return nil
}

// ordered returns phases sorted by priority, ties keeping configuration order.
func (c RunConfig) ordered() []PhaseSpec {
	phases := append([]PhaseSpec(nil), c.Phases...)
	sort.SliceStable(phases, func(i, j int) bool {
		return phases[i].Priority < phases[j].Priority
	})
	return phases
}

func (p PhaseSpec) requested(source string) (int64, bool) {
	if units, ok := p.Allocations[source]; ok {
		return units, true
	}
	if units, ok := p.Allocations[AnySource]; ok {
		return units, true
	}
	return math.MaxInt64, false
}

// budgetPlan tracks how much of each source earlier phases have claimed. An
// explicit allocation is claimed in full even when the phase spends less; a
// phase without one claims what it actually spent.
type budgetPlan struct {
	ledger  *quota.Ledger
	claimed map[string]int64
}

func newBudgetPlan(ledger *quota.Ledger) *budgetPlan {
	return &budgetPlan{ledger: ledger, claimed: map[string]int64{}}
}

func (b *budgetPlan) allocate(spec PhaseSpec, sources []string) map[string]int64 {
	alloc := make(map[string]int64, len(sources))
	for _, source := range sources {
		left := b.ledger.Total(source) - b.claimed[source]
		if remaining := b.ledger.Remaining(source); remaining < left {
			left = remaining
		}
		requested, _ := spec.requested(source)
		alloc[source] = max(0, min(requested, left))
	}
	return alloc
}

func (b *budgetPlan) settle(spec PhaseSpec, alloc map[string]int64, spent map[string]int64) {
	for source := range alloc {
		if _, explicit := spec.requested(source); explicit {
			b.claimed[source] += alloc[source]
			continue
		}
		b.claimed[source] += spent[source]
	}
}

// phaseFor turns a PhaseSpec into an immutable phase with concrete dates.
func phaseFor(spec PhaseSpec, cal *calendar.Calendar, now time.Time, alloc map[string]int64) domain.CollectionPhase {
	phase := domain.CollectionPhase{
		Name:        spec.Name,
		Priority:    spec.Priority,
		Strategy:    spec.Strategy,
		TargetCount: spec.TargetCount,
		Allocation:  alloc,
	}

	switch spec.Strategy {
	case domain.StrategyRecent:
		days := spec.WindowDays
		if days <= 0 {
			days = defaultWindowDays
		}
		to := domain.TruncateDay(now)
		phase.WindowTo = to
		phase.WindowFrom = to.AddDate(0, 0, -(days - 1))
		if spec.SplitDaily {
			phase.Dates = cal.EligibleDates(phase.WindowFrom, phase.WindowTo)
		}
	case domain.StrategyHistorical:
		phase.Dates = calendar.Sample(cal.EligibleDates(spec.From, spec.To), spec.SampleSize)
	}
	return phase
}

// queries expands a phase into the ordered query list every source walks.
func queries(spec PhaseSpec, phase domain.CollectionPhase, terms []string, pageSize int) []domain.Query {
	if phase.Strategy == domain.StrategyRecent && !spec.SplitDaily {
		return []domain.Query{{Terms: terms, From: phase.WindowFrom, To: phase.WindowTo, MaxResults: pageSize}}
	}

	out := make([]domain.Query, 0, len(phase.Dates))
	for _, d := range phase.Dates {
		out = append(out, domain.Query{Terms: terms, From: d, To: d, MaxResults: pageSize})
	}
	return out
}

// shrink keeps the most recent half of a multi-day range.
func shrink(q domain.Query) (domain.Query, bool) {
	days := q.Days()
	if days <= 1 {
		return q, false
	}
	keep := days / 2
	q.From = domain.TruncateDay(q.To).AddDate(0, 0, -(keep - 1))
	return q, true
}

// Plan validates cfg and returns its phases in execution order with the
// allocations they receive when every earlier phase spends its full share.
func (c *Collector) Plan(cfg RunConfig) ([]domain.CollectionPhase, error) {
	if c.ledger == nil {
		return nil, fmt.Errorf("%w: quota ledger is not configured", domain.ErrInvalidQuery)
	}
	if err := cfg.validate(c.ledger); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(c.adapters))
	for _, a := range c.adapters {
		names = append(names, a.Source().Name)
	}

	plan := newBudgetPlan(c.ledger)
	now := c.now()
	out := make([]domain.CollectionPhase, 0, len(cfg.Phases))
	for _, spec := range cfg.ordered() {
		alloc := plan.allocate(spec, names)
		out = append(out, phaseFor(spec, c.calendar, now, alloc))
		plan.settle(spec, alloc, alloc)
	}
	return out, nil
}
