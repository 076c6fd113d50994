package calendar

import (
	"fmt"
	"strings"
	"time"

	"NewsCollector/internal/domain"
)

// Calendar decides which days are eligible collection targets.
type Calendar struct {
	holidays map[time.Time]struct{}
}

// New builds a calendar over a static holiday list.
func New(holidays []time.Time) *Calendar {
	set := make(map[time.Time]struct{}, len(holidays))
	for _, h := range holidays {
		set[domain.TruncateDay(h)] = struct{}{}
	}
	return &Calendar{holidays: set}
}

// ParseHolidays reads YYYY-MM-DD strings from configuration.
func ParseHolidays(values []string) ([]time.Time, error) {
	days := make([]time.Time, 0, len(values))
	for _, v := range values {
		parsed, err := time.Parse(time.DateOnly, strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", v, err)
		}
		days = append(days, parsed)
	}
	return days, nil
}

// IsEligible is true for Monday to Friday days that are not holidays.
func (c *Calendar) IsEligible(day time.Time) bool {
	d := domain.TruncateDay(day)
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c == nil {
		return true
	}
	_, holiday := c.holidays[d]
	return !holiday
}

// EligibleDates lists eligible days in [start, end], ascending.
// An inverted range yields an empty slice.
func (c *Calendar) EligibleDates(start, end time.Time) []time.Time {
	from := domain.TruncateDay(start)
	to := domain.TruncateDay(end)
	if from.After(to) {
		return []time.Time{}
	}

	dates := make([]time.Time, 0)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.IsEligible(d) {
			dates = append(dates, d)
		}
	}
	return dates
}

// Sample picks n evenly spaced dates, keeping the first and last.
func Sample(dates []time.Time, n int) []time.Time {
	if n <= 0 || n >= len(dates) {
		out := make([]time.Time, len(dates))
		copy(out, dates)
		return out
	}
	if n == 1 {
		return []time.Time{dates[0]}
	}

	out := make([]time.Time, 0, n)
	step := float64(len(dates)-1) / float64(n-1)
	last := -1
	for i := 0; i < n; i++ {
		idx := int(float64(i)*step + 0.5)
		if idx <= last {
			idx = last + 1
		}
		out = append(out, dates[idx])
		last = idx
	}
	return out
}
