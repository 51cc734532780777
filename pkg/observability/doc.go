// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for galaxyhub.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("namespace", "acme").Info("namespace created")
//
// Request-scoped loggers carry request_id and user_id:
//
//	observability.FromContext(ctx).WithError(err).Error("import failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("artifacts", artifacts.HealthCheck, true)
//	observability.RegisterHealthRoutes(opsRouter, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "galaxyhub",
//	}, logger)
//	defer providers.Shutdown(ctx)
package observability
