package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"NewsCollector/internal/adapter"
	"NewsCollector/internal/calendar"
	"NewsCollector/internal/config"
	"NewsCollector/internal/dedupe"
	"NewsCollector/internal/domain"
	"NewsCollector/internal/infrastructure/scheduler"
	"NewsCollector/internal/infrastructure/sources"
	"NewsCollector/internal/infrastructure/storage"
	"NewsCollector/internal/infrastructure/telegram"
	"NewsCollector/internal/logging"
	"NewsCollector/internal/ports"
	"NewsCollector/internal/quota"
	"NewsCollector/internal/usecase"
)

const httpTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	runCfg    usecase.RunConfig
	collector *usecase.Collector
	campaign  *usecase.Campaign
	interval  time.Duration
	closers   []func(context.Context) error
}

// New builds the application from a validated configuration.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	runCfg, err := runConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	srcs, err := sourcesFrom(cfg)
	if err != nil {
		return nil, err
	}
	holidays, err := calendar.ParseHolidays(cfg.Calendar.Holidays)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err)
	}
	fetchTimeout, err := cfg.FetchTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err)
	}
	interval, err := cfg.Scheduler.Every()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err)
	}

	registry := adapter.NewRegistry()
	sources.Register(registry)
	env := adapter.Env{
		HTTPClient: &http.Client{Timeout: httpTimeout},
		Logger:     baseLogger.With("component", "adapter"),
	}
	adapters := make([]adapter.Adapter, 0, len(srcs))
	for _, src := range srcs {
		a, err := registry.Build(src, env)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	collector := usecase.NewCollector(usecase.CollectorDeps{
		Adapters: adapters,
		Ledger:   quota.New(srcs...),
		Calendar: calendar.New(holidays),
		Dedupe: dedupe.Options{
			Threshold: cfg.Dedupe.SimilarityThreshold,
			Window:    cfg.Dedupe.Window(),
		},
		FetchTimeout: fetchTimeout,
		Logger:       baseLogger.With("component", "collector"),
	})

	application := &Application{
		cfg:       cfg,
		logger:    baseLogger,
		runCfg:    runCfg,
		collector: collector,
		interval:  interval,
	}

	store, err := application.openStore(ctx)
	if err != nil {
		return nil, err
	}

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	application.campaign = usecase.NewCampaign(usecase.CampaignDeps{
		Collector: collector,
		Store:     store,
		Notifier:  notifier,
		Logger:    baseLogger.With("component", "campaign"),
	})
	return application, nil
}

func (a *Application) openStore(ctx context.Context) (ports.CorpusStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		db, err := sql.Open("postgres", a.cfg.Storage.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := storage.NewPostgresRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		return repo, nil
	case config.StorageMongo:
		m := a.cfg.Storage.Mongo
		repo, err := storage.NewMongoRepository(ctx, m.URI, m.Database, m.Collection)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	default:
		return nil, nil
	}
}

// Plan returns the phases a run would execute without calling any provider.
func (a *Application) Plan() ([]domain.CollectionPhase, error) {
	return a.collector.Plan(a.runCfg)
}

// RunOnce performs a single campaign.
func (a *Application) RunOnce(ctx context.Context) (domain.CollectionResult, error) {
	return a.campaign.Run(ctx, a.runCfg)
}

// Run executes one campaign, or keeps repeating it on the configured interval
// until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if a.interval <= 0 {
		_, err := a.RunOnce(ctx)
		return err
	}

	sched := usecase.NewScheduler(
		scheduler.NewIntervalScheduler(a.interval),
		func(ctx context.Context, trigger time.Time) (domain.CollectionResult, error) {
			a.logger.Info("scheduled campaign", "trigger", trigger.In(a.cfg.Scheduler.Location()))
			return a.RunOnce(ctx)
		},
		a.logger.With("component", "scheduler"),
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	return sched.Stop(stopCtx)
}

// Close releases storage connections.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
