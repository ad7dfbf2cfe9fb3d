// Package observability provides structured logging, Prometheus metrics, health
// probes and OpenTelemetry tracing for the audit service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("entity_type", "Product").Info("audit record stored")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.AuditRecordsTotal.WithLabelValues("Product", "CREATE").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "shina-audit",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
