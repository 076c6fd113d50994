package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Query describes one fetch against a provider. A discrete date has From == To.
type Query struct {
	Terms      []string
	From       time.Time
	To         time.Time
	MaxResults int
}

// Text joins the subject terms the way most providers expect them.
func (q Query) Text() string {
	return strings.Join(q.Terms, " ")
}

// Days returns the number of calendar days covered, inclusive.
func (q Query) Days() int {
	from := TruncateDay(q.From)
	to := TruncateDay(q.To)
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from)/day) + 1
}

// YearsSpanned rounds the covered range up to whole years, minimum one.
func (q Query) YearsSpanned() int {
	days := q.Days()
	if days <= 0 {
		return 1
	}
	years := int(math.Ceil(float64(days) / 365))
	if years < 1 {
		years = 1
	}
	return years
}

// Validate rejects queries no provider could serve.
func (q Query) Validate() error {
	if len(q.Terms) == 0 {
		return fmt.Errorf("%w: no subject terms", ErrInvalidQuery)
	}
	if q.From.IsZero() || q.To.IsZero() {
		return fmt.Errorf("%w: date range is not set", ErrInvalidQuery)
	}
	if q.To.Before(q.From) {
		return fmt.Errorf("%w: range end %s before start %s", ErrInvalidQuery,
			q.To.Format(time.DateOnly), q.From.Format(time.DateOnly))
	}
	return nil
}

// TruncateDay drops the clock part of t in UTC.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CostModel converts a query into provider budget units before it is issued.
type CostModel interface {
	Kind() string
	Estimate(q Query) int64
}

const (
	CostModelFlat       = "flat"
	CostModelRangeToken = "range-token"
)

// FlatCost charges the same amount for every request.
type FlatCost struct {
	UnitsPerRequest int64
}

func (FlatCost) Kind() string { return CostModelFlat }

func (f FlatCost) Estimate(Query) int64 {
	if f.UnitsPerRequest <= 0 {
		return 1
	}
	return f.UnitsPerRequest
}

// RangeTokenCost charges per year of the requested time range.
type RangeTokenCost struct {
	UnitsPerYear int64
}

func (RangeTokenCost) Kind() string { return CostModelRangeToken }

func (r RangeTokenCost) Estimate(q Query) int64 {
	units := r.UnitsPerYear
	if units <= 0 {
		units = 5
	}
	return units * int64(q.YearsSpanned())
}

// NewCostModel builds the tagged cost model from its configuration name.
func NewCostModel(kind string, unitsPerRequest, unitsPerYear int64) (CostModel, error) {
	switch kind {
	case CostModelFlat, "":
		return FlatCost{UnitsPerRequest: unitsPerRequest}, nil
	case CostModelRangeToken:
		return RangeTokenCost{UnitsPerYear: unitsPerYear}, nil
	default:
		return nil, fmt.Errorf("%w: unknown cost model %q", ErrInvalidQuery, kind)
	}
}

// Source is a provider with its own quota and cost model. Immutable for a run.
type Source struct {
	Name              string
	Kind              string
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
	Cost              CostModel
	TotalBudget       int64
	PageSize          int
	Options           map[string]string
}

// EstimateCost evaluates the source cost model, defaulting to one unit per call.
func (s Source) EstimateCost(q Query) int64 {
	if s.Cost == nil {
		return FlatCost{}.Estimate(q)
	}
	return s.Cost.Estimate(q)
}
