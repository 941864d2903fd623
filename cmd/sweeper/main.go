package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowkit/journey/internal/adminhttp"
	"github.com/flowkit/journey/internal/catalog"
	"github.com/flowkit/journey/internal/config"
	"github.com/flowkit/journey/internal/health"
	"github.com/flowkit/journey/internal/infrastructure/postgres"
	"github.com/flowkit/journey/internal/metrics"
	"github.com/flowkit/journey/internal/obslog"
	"github.com/flowkit/journey/internal/sched"
	"github.com/flowkit/journey/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		stop()
		log.Fatalf("migrate: %v", err)
	}
	logger.Info("db connected and migrated")

	metrics.Register()
	metrics.SweeperStartTime.SetToCurrentTime()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	cat := catalog.New()
	if err := cat.RegisterAll(cfg.Graphs); err != nil {
		stop()
		log.Fatalf("register graphs: %v", err)
	}

	execs := postgres.NewExecutionStore(pool)
	values := postgres.NewValueStore(pool)
	comps := postgres.NewComputationStore(pool)
	runs := postgres.NewSweepRunStore(pool)

	scheduler := sched.New(execs, values, comps, cat, logger)

	sweeps := []sweep.Sweep{
		&sweep.ScheduleFireSweep{Runs: runs, Scheduler: scheduler, BatchSize: cfg.AdvanceWorkers, Logger: logger},
		&sweep.AbandonedSweep{Comps: comps, Reconciler: scheduler, BatchSize: cfg.GrabBatchSize, Logger: logger},
		&sweep.RecurringRescheduleSweep{Runs: runs, Scheduler: scheduler, BatchSize: cfg.AdvanceWorkers, Logger: logger},
	}
	driver := sweep.NewDriver(
		runs,
		sweeps,
		time.Duration(cfg.SweepIntervalSec)*time.Second,
		time.Duration(cfg.SweepOverlapSec)*time.Second,
		time.Duration(cfg.SweepLookbackFallbackSec)*time.Second,
		logger,
	)
	go driver.Start(ctx)

	adminSrv := http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: adminhttp.NewRouter(checker, logger),
	}
	go func() {
		logger.Info("admin http started", "port", cfg.MetricsPort)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin http server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin http shutdown", "error", err)
	}

	metrics.SweeperShutdownsTotal.Inc()
	logger.Info("sweeper shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(obslog.NewContextHandler(inner))
}
