package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator"

	"NewsCollector/internal/calendar"
	"NewsCollector/internal/domain"
)

var structValidator = validator.New()

// Validate checks struct tags first, then cross-field rules. Every failure
// wraps domain.ErrInvalidQuery.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			f := fields[0]
			return fmt.Errorf("%w: %s failed %q", domain.ErrInvalidQuery, f.Namespace(), f.Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err)
	}
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err)
	}
	return nil
}

func (c *Config) validate() error {
	sources := map[string]bool{}
	for i, s := range c.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)
		if sources[s.Name] {
			return fmt.Errorf("%s.name %q is duplicated", prefix, s.Name)
		}
		sources[s.Name] = true
		if s.CostModel == domain.CostModelRangeToken && s.UnitsPerRequest > 0 {
			return fmt.Errorf("%s.unitsPerRequest applies to flat cost models only", prefix)
		}
	}

	phases := map[string]bool{}
	for i, p := range c.Phases {
		if err := p.validate(fmt.Sprintf("phases[%d]", i), sources); err != nil {
			return err
		}
		if phases[p.Name] {
			return fmt.Errorf("phases[%d].name %q is duplicated", i, p.Name)
		}
		phases[p.Name] = true
	}

	if _, err := calendar.ParseHolidays(c.Calendar.Holidays); err != nil {
		return fmt.Errorf("calendar.holidays: %w", err)
	}

	if _, err := c.FetchTimeout(); err != nil {
		return err
	}
	if _, err := c.Scheduler.Every(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case StoragePostgres:
		if c.Storage.Database.DSN == "" {
			return errors.New("storage.database.dsn is required for the postgres backend")
		}
	case StorageMongo:
		if c.Storage.Mongo.URI == "" {
			return errors.New("storage.mongo.uri is required for the mongo backend")
		}
		if c.Storage.Mongo.Database == "" || c.Storage.Mongo.Collection == "" {
			return errors.New("storage.mongo.database and storage.mongo.collection are required")
		}
	}
	return nil
}

func (p PhaseConfig) validate(prefix string, sources map[string]bool) error {
	if p.Strategy == string(domain.StrategyHistorical) {
		from, to, err := p.Range()
		if err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		if from.IsZero() || to.IsZero() {
			return fmt.Errorf("%s.from and %s.to are required for historical phases", prefix, prefix)
		}
		if to.Before(from) {
			return fmt.Errorf("%s.to (%s) is before %s.from (%s)", prefix, p.To, prefix, p.From)
		}
	}

	for name, units := range p.Allocations {
		if name != "*" && !sources[name] {
			return fmt.Errorf("%s.allocations references unknown source %q", prefix, name)
		}
		if units < 0 {
			return fmt.Errorf("%s.allocations[%s] must be >= 0", prefix, name)
		}
	}
	return nil
}

// Range parses the historical bounds; empty values stay zero.
func (p PhaseConfig) Range() (time.Time, time.Time, error) {
	from, err := parseDate(p.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
	}
	to, err := parseDate(p.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
	}
	return from, to, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, value)
}

// FetchTimeout parses collector.fetchTimeout; empty means no override.
func (c Config) FetchTimeout() (time.Duration, error) {
	if c.Collector.FetchTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Collector.FetchTimeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("collector.fetchTimeout %q is not a valid duration", c.Collector.FetchTimeout)
	}
	return d, nil
}

// Every parses scheduler.interval; zero means run once.
func (s SchedulerConfig) Every() (time.Duration, error) {
	if s.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Interval)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("scheduler.interval %q is not a valid duration", s.Interval)
	}
	return d, nil
}

// Window converts mergeWindowHours to a duration.
func (d DedupeConfig) Window() time.Duration {
	return time.Duration(d.MergeWindowHours) * time.Hour
}
