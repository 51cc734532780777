package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/config"
	"github.com/platinummonkey/galaxyhub/pkg/importer"
	"github.com/platinummonkey/galaxyhub/pkg/notify"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/search"
	"github.com/platinummonkey/galaxyhub/pkg/storage/postgres"
	"github.com/platinummonkey/galaxyhub/pkg/webhooks"
)

var (
	runOnce = flag.Bool("run-once", false, "Run every job once and exit")
	only    = flag.String("job", "", "With --run-once, run only the named job")
	workers = flag.Int("score-workers", 4, "Concurrent community score recomputations")
)

// job is one scheduled maintenance task.
type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	observability.ConfigureStandard(cfg.Observability.LogLevel, os.Stdout)
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("component", "maintenance")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Maintenance failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := observability.WithLogger(context.Background(), logger)
	if cfg.Storage.Type != "postgres" {
		return fmt.Errorf("maintenance needs shared storage, got storage type %q", cfg.Storage.Type)
	}

	store, err := postgres.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	dsn := cfg.Webhooks.StoreDSN
	if dsn == "" {
		dsn = cfg.Storage.PostgresURL
	}
	hookStore, err := webhooks.OpenStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer hookStore.Close()
	hooks := webhooks.NewManager(ctx, hookStore, webhooks.Options{Workers: 1}, nil)
	defer hooks.Shutdown(30 * time.Second)

	var indexer search.Indexer
	if cfg.SearchEngine() == "postgres" {
		indexer = search.NewPostgresEngine(store.DB())
	}

	notifier := notify.NewService(store)
	surveys := notify.NewSurveys(store, notifier)
	tokens := auth.NewTokenService(store, cfg.Maintenance.TokenLifetime)
	imp := importer.New(ctx, importer.Deps{
		Store:    store,
		Notifier: notifier,
		Events:   hooks,
	}, importer.Options{Workers: 1})
	defer imp.Shutdown(5 * time.Second)

	jobs := []job{
		{"reindex", cfg.Maintenance.ReindexSchedule, func(ctx context.Context) error {
			if indexer == nil {
				logger.Info("Search index lives in the API process; skipping reindex")
				return nil
			}
			n, err := indexer.Rebuild(ctx)
			if err == nil {
				logger.WithField("documents", n).Info("Search index rebuilt")
			}
			return err
		}},
		{"stale-imports", cfg.Maintenance.StaleImportsSchedule, func(ctx context.Context) error {
			n, err := imp.FailStale(ctx, cfg.Imports.StaleAfter)
			if n > 0 {
				logger.WithField("tasks", n).Warn("Failed stale import tasks")
			}
			return err
		}},
		{"purge-notifications", cfg.Maintenance.PurgeNotifications, func(ctx context.Context) error {
			before := time.Now().UTC().Add(-cfg.Maintenance.NotificationRetention)
			n, err := store.PurgeNotifications(ctx, before)
			if err != nil {
				return err
			}
			d, err := hookStore.PurgeDeliveries(ctx, before)
			if err != nil {
				return err
			}
			logger.WithFields(map[string]interface{}{"notifications": n, "deliveries": d}).Info("Purged old records")
			return nil
		}},
		{"recompute-scores", cfg.Maintenance.RecomputeScores, func(ctx context.Context) error {
			n, err := surveys.RecomputeAll(ctx, *workers)
			logger.WithField("objects", n).Info("Community scores recomputed")
			return err
		}},
		{"expire-tokens", cfg.Maintenance.ExpireTokens, func(ctx context.Context) error {
			n, err := tokens.PurgeExpired(ctx)
			if n > 0 {
				logger.WithField("tokens", n).Info("Expired API tokens removed")
			}
			return err
		}},
	}

	if *runOnce {
		return runAll(ctx, logger, jobs, *only)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)))
	for _, j := range jobs {
		if j.schedule == "" {
			logger.WithField("job", j.name).Info("No schedule configured; job disabled")
			continue
		}
		if _, err := c.AddFunc(j.schedule, func() {
			if err := execute(ctx, logger, j); err != nil {
				logger.WithError(err).WithField("job", j.name).Error("Job failed")
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
		logger.WithFields(map[string]interface{}{"job": j.name, "schedule": j.schedule}).Info("Job scheduled")
	}

	c.Start()
	logger.Info("Maintenance scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	stopped := c.Stop()
	<-stopped.Done()
	logger.Info("Maintenance scheduler stopped")
	return nil
}

func runAll(ctx context.Context, logger *observability.Logger, jobs []job, only string) error {
	ran := false
	for _, j := range jobs {
		if only != "" && j.name != only {
			continue
		}
		ran = true
		if err := execute(ctx, logger, j); err != nil {
			return fmt.Errorf("%s: %w", j.name, err)
		}
	}
	if !ran {
		return fmt.Errorf("unknown job %q", only)
	}
	return nil
}

func execute(ctx context.Context, logger *observability.Logger, j job) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, time.Hour)
	defer cancel()
	err := j.run(ctx)
	logger.WithFields(map[string]interface{}{"job": j.name, "duration": time.Since(start).String()}).Info("Job finished")
	return err
}
