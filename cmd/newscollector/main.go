package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"NewsCollector/internal/app"
	"NewsCollector/internal/config"
	"NewsCollector/internal/logging"
)

func main() {
	planOnly := flag.Bool("plan", false, "print the phase plan and exit without calling providers")
	flag.Parse()

	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		logging.New("error").Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	logger := logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Close(closeCtx); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	if *planOnly {
		phases, err := application.Plan()
		if err != nil {
			logger.Error("plan failed", "error", err)
			os.Exit(1)
		}
		for _, p := range phases {
			logger.Info("planned phase",
				"name", p.Name,
				"priority", p.Priority,
				"strategy", p.Strategy,
				"target", p.TargetCount,
				"dates", len(p.Dates),
				"allocation", p.Allocation,
			)
		}
		return
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
