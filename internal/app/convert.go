package app

import (
	"fmt"
	"strings"

	"NewsCollector/internal/config"
	"NewsCollector/internal/domain"
	"NewsCollector/internal/usecase"
)

func sourcesFrom(cfg config.Config) ([]domain.Source, error) {
	out := make([]domain.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		cost, err := domain.NewCostModel(sc.CostModel, sc.UnitsPerRequest, sc.UnitsPerYear)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		out = append(out, domain.Source{
			Name:              sc.Name,
			Kind:              strings.ToLower(sc.Kind),
			BaseURL:           sc.BaseURL,
			APIKey:            sc.APIKey,
			RequestsPerMinute: sc.RequestsPerMinute,
			Cost:              cost,
			TotalBudget:       sc.TotalBudgetUnits,
			PageSize:          sc.PageSize,
			Options:           sc.Options,
		})
	}
	return out, nil
}

func runConfigFrom(cfg config.Config) (usecase.RunConfig, error) {
	phases := make([]usecase.PhaseSpec, 0, len(cfg.Phases))
	for _, pc := range cfg.Phases {
		from, to, err := pc.Range()
		if err != nil {
			return usecase.RunConfig{}, fmt.Errorf("%w: phase %s: %v", domain.ErrInvalidQuery, pc.Name, err)
		}
		phases = append(phases, usecase.PhaseSpec{
			Name:        pc.Name,
			Strategy:    domain.Strategy(pc.Strategy),
			TargetCount: pc.TargetCount,
			Priority:    pc.Priority,
			WindowDays:  pc.WindowDays,
			SplitDaily:  pc.SplitDaily,
			From:        from,
			To:          to,
			SampleSize:  pc.SampleSize,
			Allocations: pc.Allocations,
		})
	}
	return usecase.RunConfig{
		Subject: cfg.Subject,
		Terms:   cfg.Terms,
		Phases:  phases,
	}, nil
}
