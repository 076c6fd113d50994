package quota

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"NewsCollector/internal/domain"
)

var (
	// ErrUnknownSource is returned for sources never registered with the ledger.
	ErrUnknownSource = errors.New("unknown source")
	// ErrAuthorizationSettled is returned when an authorization is committed or released twice.
	ErrAuthorizationSettled = errors.New("authorization already settled")
)

// Authorization is a pessimistic reservation against a source budget.
type Authorization struct {
	ID       string
	Source   string
	Reserved int64
}

type entry struct {
	mu        sync.Mutex
	source    domain.Source
	total     int64
	remaining int64
	committed int64
	overage   int64
	open      map[string]int64
}

// Ledger tracks consumable budget per source. Each entry has its own lock so
// workers of different sources never contend.
type Ledger struct {
	entries map[string]*entry
}

// New registers the sources and their declared total budgets.
func New(sources ...domain.Source) *Ledger {
	entries := make(map[string]*entry, len(sources))
	for _, src := range sources {
		total := src.TotalBudget
		if total < 0 {
			total = 0
		}
		entries[src.Name] = &entry{
			source:    src,
			total:     total,
			remaining: total,
			open:      map[string]int64{},
		}
	}
	return &Ledger{entries: entries}
}

func (l *Ledger) entry(source string) (*entry, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	e, ok := l.entries[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return e, nil
}

// Estimate converts a query into the source's budget units without reserving.
func (l *Ledger) Estimate(source string, q domain.Query) (int64, error) {
	e, err := l.entry(source)
	if err != nil {
		return 0, err
	}
	return e.source.EstimateCost(q), nil
}

// Reserve estimates the query cost and deducts it up front.
func (l *Ledger) Reserve(source string, q domain.Query) (Authorization, error) {
	cost, err := l.Estimate(source, q)
	if err != nil {
		return Authorization{}, err
	}
	return l.ReserveUnits(source, cost)
}

// ReserveUnits deducts an already estimated cost.
func (l *Ledger) ReserveUnits(source string, units int64) (Authorization, error) {
	e, err := l.entry(source)
	if err != nil {
		return Authorization{}, err
	}
	if units < 0 {
		return Authorization{}, fmt.Errorf("%w: negative cost %d", domain.ErrInvalidQuery, units)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if units > e.remaining {
		return Authorization{}, fmt.Errorf("%w: %s needs %d, %d left", domain.ErrInsufficientBudget, source, units, e.remaining)
	}

	auth := Authorization{ID: uuid.NewString(), Source: source, Reserved: units}
	e.remaining -= units
	e.open[auth.ID] = units
	return auth, nil
}

// Commit settles a reservation at the provider-reported cost. A cheaper call
// refunds the difference; a dearer one is charged until the balance hits zero.
func (l *Ledger) Commit(auth Authorization, actual int64) error {
	e, err := l.entry(auth.Source)
	if err != nil {
		return err
	}
	if actual < 0 {
		actual = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	reserved, ok := e.open[auth.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAuthorizationSettled, auth.ID)
	}
	delete(e.open, auth.ID)

	charged := actual
	if actual <= reserved {
		e.remaining += reserved - actual
	} else {
		extra := actual - reserved
		if extra > e.remaining {
			e.overage += extra - e.remaining
			extra = e.remaining
		}
		e.remaining -= extra
		charged = reserved + extra
	}
	e.committed += charged
	return nil
}

// Release refunds a reservation whose call was aborted.
func (l *Ledger) Release(auth Authorization) error {
	e, err := l.entry(auth.Source)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	reserved, ok := e.open[auth.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAuthorizationSettled, auth.ID)
	}
	delete(e.open, auth.ID)
	e.remaining += reserved
	return nil
}

// Remaining returns the unreserved budget of a source.
func (l *Ledger) Remaining(source string) int64 {
	e, err := l.entry(source)
	if err != nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

// Committed returns the settled consumption of a source.
func (l *Ledger) Committed(source string) int64 {
	e, err := l.entry(source)
	if err != nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed
}

// Total returns the declared budget of a source.
func (l *Ledger) Total(source string) int64 {
	e, err := l.entry(source)
	if err != nil {
		return 0
	}
	return e.total
}

// Sources lists registered source names in lexical order.
func (l *Ledger) Sources() []string {
	if l == nil {
		return nil
	}
	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot reports consumption of every source.
func (l *Ledger) Snapshot() map[string]domain.SourceConsumption {
	out := make(map[string]domain.SourceConsumption, len(l.Sources()))
	for _, name := range l.Sources() {
		e := l.entries[name]
		e.mu.Lock()
		out[name] = domain.SourceConsumption{
			Source:    name,
			Total:     e.total,
			Committed: e.committed,
			Remaining: e.remaining,
			Overage:   e.overage,
			Usable:    true,
		}
		e.mu.Unlock()
	}
	return out
}
