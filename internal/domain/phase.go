package domain

import "time"

// Strategy selects how a phase chooses its dates.
type Strategy string

const (
	StrategyRecent     Strategy = "recent"
	StrategyHistorical Strategy = "historical"
)

// PhaseStatus enumerates the phase state machine.
type PhaseStatus string

const (
	PhasePlanned         PhaseStatus = "planned"
	PhaseRunning         PhaseStatus = "running"
	PhaseCompleted       PhaseStatus = "completed"
	PhaseBudgetExhausted PhaseStatus = "budget-exhausted"
	PhaseSourceError     PhaseStatus = "source-error"
	PhaseCancelled       PhaseStatus = "cancelled"
)

// CollectionPhase is produced by planning and stays immutable while it runs.
type CollectionPhase struct {
	Name        string
	Priority    int
	Strategy    Strategy
	TargetCount int
	// Allocation is the per-source budget slice the phase may spend.
	Allocation map[string]int64
	// Dates holds the discrete dates of a historical phase.
	Dates []time.Time
	// WindowFrom and WindowTo bound a recent-window phase.
	WindowFrom time.Time
	WindowTo   time.Time
}

// TotalAllocation sums the budget slices of every source.
func (p CollectionPhase) TotalAllocation() int64 {
	var total int64
	for _, units := range p.Allocation {
		total += units
	}
	return total
}

// SourceStatus describes how a single source ended within a phase.
type SourceStatus string

const (
	SourceOK              SourceStatus = "ok"
	SourceBudgetExhausted SourceStatus = "budget-exhausted"
	SourceFailed          SourceStatus = "failed"
	SourceUnusable        SourceStatus = "unusable"
	SourceSkipped         SourceStatus = "skipped"
	SourceCancelled       SourceStatus = "cancelled"
)

// SourceOutcome reports what one source did during one phase.
type SourceOutcome struct {
	Source    string
	Status    SourceStatus
	Allocated int64
	Calls     int
	Spent     int64
	Fetched   int
	Shrunk    int
	Error     string
}

// PhaseOutcome reports the terminal state of a phase.
type PhaseOutcome struct {
	Name     string
	Priority int
	Status   PhaseStatus
	Target   int
	Accepted int
	Merged   int
	Rejected int
	Sources  []SourceOutcome
}

// SourceConsumption summarises budget usage of a source across the run.
type SourceConsumption struct {
	Source    string
	Total     int64
	Committed int64
	Remaining int64
	Overage   int64
	Usable    bool
}

// CollectionResult is the final output of a run.
type CollectionResult struct {
	RunID       string
	Subject     string
	Clusters    []Cluster
	Consumption map[string]SourceConsumption
	Phases      []PhaseOutcome
	Partial     bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Accepted counts accepted articles, one per cluster.
func (r CollectionResult) Accepted() int {
	return len(r.Clusters)
}
