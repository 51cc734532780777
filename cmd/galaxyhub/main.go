package main

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/api"
	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/config"
	"github.com/platinummonkey/galaxyhub/pkg/importer"
	"github.com/platinummonkey/galaxyhub/pkg/middleware"
	"github.com/platinummonkey/galaxyhub/pkg/notify"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/search"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
	"github.com/platinummonkey/galaxyhub/pkg/storage/memory"
	"github.com/platinummonkey/galaxyhub/pkg/storage/postgres"
	"github.com/platinummonkey/galaxyhub/pkg/webhooks"
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	observability.ConfigureStandard(cfg.Observability.LogLevel, os.Stdout)
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("galaxyhub stopped with an error")
		os.Exit(1)
	}
}

// backends are the storage handles chosen by configuration.
type backends struct {
	store     storage.Store
	artifacts storage.ArtifactStore
	db        *sql.DB
	redis     *redis.Client
}

func openBackends(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*backends, error) {
	b := &backends{}
	switch cfg.Storage.Type {
	case "postgres":
		pg, err := postgres.New(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		b.store, b.db = pg, pg.DB()
		logger.WithField("replicas", len(cfg.Storage.PostgresReplicaURLs)).Info("Connected to PostgreSQL")
	default:
		b.store = memory.New()
		logger.Warn("Using in-memory storage; data is lost on restart")
	}

	switch cfg.Storage.ArtifactBackend {
	case "s3":
		s3, err := postgres.NewS3Artifacts(ctx, cfg.Storage)
		if err != nil {
			b.store.Close()
			return nil, err
		}
		b.artifacts = s3
		logger.WithField("bucket", cfg.Storage.S3Bucket).Info("Storing artifacts in S3")
	default:
		fs, err := storage.NewFileSystemArtifacts(cfg.Storage.FilesystemRoot)
		if err != nil {
			b.store.Close()
			return nil, err
		}
		b.artifacts = fs
		logger.WithField("root", cfg.Storage.FilesystemRoot).Info("Storing artifacts on the filesystem")
	}

	if cfg.Storage.RedisURL != "" {
		cache, err := postgres.NewRedisCache(cfg.Storage)
		if err != nil {
			b.store.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		b.redis = cache.Client()
	}
	return b, nil
}

func openSearch(ctx context.Context, cfg *config.Config, b *backends, logger *observability.Logger) (search.Engine, search.Indexer, error) {
	if cfg.SearchEngine() == "postgres" {
		engine := search.NewPostgresEngine(b.db)
		return engine, engine, nil
	}
	engine, err := search.NewMemoryEngine(b.store)
	if err != nil {
		return nil, nil, err
	}
	n, err := engine.Rebuild(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build search index: %w", err)
	}
	logger.WithField("documents", n).Info("Search index built")
	return engine, engine, nil
}

// webhookDSN defaults the subscription store to the main database, or to a
// SQLite file next to the artifacts.
func webhookDSN(cfg *config.Config) string {
	if cfg.Webhooks.StoreDSN != "" {
		return cfg.Webhooks.StoreDSN
	}
	if cfg.Storage.Type == "postgres" {
		return cfg.Storage.PostgresURL
	}
	return "sqlite:" + filepath.Join(cfg.Storage.FilesystemRoot, "webhooks.db")
}

func newRateLimit(cfg *config.Config, b *backends, audit *auth.AuditLogger) *middleware.RateLimitMiddleware {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	userCfg := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.RateLimit.Burst,
	}
	anonCfg := middleware.AnonymousRateLimitConfig(userCfg)

	var user, anon middleware.Limiter
	if b.redis != nil && cfg.RateLimit.Distributed {
		user = middleware.NewDistributedRateLimiter(b.redis, userCfg, "galaxy:ratelimit:user")
		anon = middleware.NewDistributedRateLimiter(b.redis, anonCfg, "galaxy:ratelimit:anon")
	} else {
		user = middleware.NewRateLimiter(userCfg)
		anon = middleware.NewRateLimiter(anonCfg)
	}
	rl := middleware.NewRateLimitMiddleware(user, anon, audit)
	rl.SetFailOpen(true)
	return rl
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	var otelMetrics *observability.OTelMetrics
	if providers != nil {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return err
		}
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}
	audit := auth.NewAuditLogger(logrus.StandardLogger())

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	engine, indexer, err := openSearch(ctx, cfg, b, logger)
	if err != nil {
		b.store.Close()
		return err
	}

	hookStore, err := webhooks.OpenStore(ctx, webhookDSN(cfg))
	if err != nil {
		b.store.Close()
		return err
	}
	retry := webhooks.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Webhooks.MaxRetries
	hooks := webhooks.NewManager(ctx, hookStore, webhooks.Options{
		Workers:           cfg.Webhooks.DeliveryWorkers,
		Retry:             retry,
		PerEndpointPerMin: cfg.Webhooks.PerEndpointPerMin,
	}, metrics)

	notifier := notify.NewService(b.store)
	source, err := importer.NewGitHubSource(cfg.GitHub.APIURL, cfg.GitHub.Token)
	if err != nil {
		b.store.Close()
		return err
	}
	imp := importer.New(ctx, importer.Deps{
		Store:     b.store,
		Artifacts: b.artifacts,
		Source:    source,
		Indexer:   indexer,
		Notifier:  notifier,
		Events:    hooks,
		Metrics:   metrics,
		OTel:      otelMetrics,
	}, importer.Options{
		Workers:          cfg.Imports.Workers,
		QueueSize:        cfg.Imports.QueueSize,
		TaskTimeout:      cfg.Imports.TaskTimeout,
		MaxArtifactBytes: cfg.Imports.MaxArtifactBytes,
	})

	github, err := auth.NewGitHubClient(cfg.GitHub.APIURL)
	if err != nil {
		b.store.Close()
		return err
	}
	tokens := auth.NewTokenService(b.store, cfg.Maintenance.TokenLifetime)

	var travisKey *rsa.PublicKey
	if cfg.Webhooks.TravisPublicKeyPath != "" {
		if travisKey, err = webhooks.LoadTravisPublicKey(cfg.Webhooks.TravisPublicKeyPath); err != nil {
			b.store.Close()
			return err
		}
	}
	inbound := webhooks.NewInboundHandlers(b.store, imp, webhooks.InboundConfig{
		GitHubSecret:    cfg.Webhooks.GitHubSecret,
		TravisPublicKey: travisKey,
	}, audit, metrics)
	if travisKey != nil {
		if err := webhooks.WatchTravisPublicKey(ctx, cfg.Webhooks.TravisPublicKeyPath, inbound, logger); err != nil {
			logger.WithError(err).Warn("Travis public key rotation will need a restart")
		}
	}

	registry := access.Default()
	access.RegisterDefaults(registry, b.store)
	if metrics != nil {
		registry.SetDecisionCounter(metrics.AccessDecisionsTotal)
	}

	server := api.NewServer(api.Deps{
		Store:          b.store,
		Artifacts:      b.artifacts,
		Importer:       imp,
		Notifier:       notifier,
		Surveys:        notify.NewSurveys(b.store, notifier),
		Tokens:         tokens,
		Exchanger:      auth.NewExchanger(github, b.store, tokens, audit),
		Permission:     access.NewModelAccessPermission(registry, audit),
		Search:         search.NewService(engine, b.store, metrics, otelMetrics),
		Indexer:        indexer,
		Webhooks:       hooks,
		Inbound:        inbound,
		Events:         hooks,
		RateLimit:      newRateLimit(cfg, b, audit),
		Metrics:        metrics,
		Audit:          audit,
		Logger:         logger,
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	var handler http.Handler = server
	if providers != nil {
		handler = observability.WrapHandler(server, "galaxyhub")
	}
	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	checker := observability.NewHealthChecker(b.db, b.redis)
	if b.db == nil {
		checker.AddCheck("storage", b.store.HealthCheck, true)
	}
	checker.AddCheck("webhook_store", hookStore.HealthCheck, false)
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, checker)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthRouter, prometheus.DefaultGatherer)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.Register("importer", func(ctx context.Context) error {
		return imp.Shutdown(time.Until(deadline(ctx)))
	})
	shutdown.Register("webhooks", func(ctx context.Context) error {
		return hooks.Shutdown(time.Until(deadline(ctx)))
	})
	shutdown.Register("webhook_store", func(context.Context) error { return hookStore.Close() })
	shutdown.Register("storage", func(context.Context) error { return b.store.Close() })
	if b.redis != nil {
		shutdown.Register("redis", func(context.Context) error { return b.redis.Close() })
	}
	if providers != nil {
		shutdown.Register("otel", providers.Shutdown)
	}

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		go func() {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
		}()
	}

	return shutdown.WaitOrFail(ctx, serveErr)
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(30 * time.Second)
}
