package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shinamagazin/shina-audit/pkg/audit"
	"github.com/shinamagazin/shina-audit/pkg/auth"
	"github.com/shinamagazin/shina-audit/pkg/config"
	"github.com/shinamagazin/shina-audit/pkg/httputil"
	"github.com/shinamagazin/shina-audit/pkg/middleware"
	"github.com/shinamagazin/shina-audit/pkg/observability"
	"github.com/shinamagazin/shina-audit/pkg/storage"
	"github.com/shinamagazin/shina-audit/pkg/storage/postgres"
)

var (
	ensureSchema = flag.Bool("ensure-schema", true, "Create the audit_logs table and indexes on startup")
	ingest       = flag.Bool("ingest", true, "Accept change events on POST /v1/audit-logs/events")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("shina-audit stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel("api"), logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
	if err != nil {
		return err
	}
	conns.StartHealthCheckRoutine(ctx, time.Minute)

	store := audit.NewDBStore(conns, metrics)
	if *ensureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	fields := audit.DefaultFieldRegistry()
	if path := cfg.Audit.RegistryFile; path != "" {
		if err := fields.LoadFile(path); err != nil {
			return err
		}
		if cfg.Audit.RegistryReload {
			if err := audit.WatchRegistryFile(ctx, path, fields, logger); err != nil {
				logger.WithError(err).Warn("field registry hot reload disabled")
			}
		}
	}

	var (
		redisClient *postgres.RedisClient
		distinct    audit.DistinctCache
	)
	if cfg.Storage.CacheEnabled && cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, running without shared cache and export limits")
			redisClient = nil
		} else {
			distinct = audit.NewRedisDistinctCache(redisClient,
				cfg.Storage.TTL(storage.CacheDistinctValues, 5*time.Minute), logger, metrics)
		}
	}

	users := audit.NewCachedUserDirectory(audit.NewDBUserDirectory(conns.Primary()),
		cfg.Audit.UserCacheSize, cfg.Audit.UserCacheTTL, metrics)

	recorder := audit.NewRecorder(ctx, store, users, fields, audit.RecorderConfig{
		Workers:      cfg.Audit.Workers,
		QueueSize:    cfg.Audit.QueueSize,
		WriteTimeout: cfg.Audit.WriteTimeout,
	}, logger, metrics)

	service := audit.NewService(store, fields, distinct, cfg.Audit.MaxExportRows, logger)
	handlers := audit.NewHandlers(service, logger)
	if *ingest {
		handlers.WithRecorder(recorder)
	}
	if redisClient != nil {
		limiter := middleware.NewRateLimiter(redisClient.Client(), middleware.ExportRateLimitConfig(), "shina-audit:export")
		handlers.WithExportLimit(middleware.RateLimit(limiter, logger))
	}

	authMiddleware := middleware.NewAuthMiddleware(auth.NewDBTokenValidator(conns.Primary()), false, logger)

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	router.Use(mux.MiddlewareFunc(authMiddleware.Handler))
	router.Use(audit.RequestContextMiddleware)
	handlers.RegisterRoutes(router)

	stack := httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
	)(router)

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(stack, "shina-audit"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(conns.Primary(), nil).WithVersion(cfg.Observability.OTelServiceVersion)
	if redisClient != nil {
		health.AddCheck("redis", redisClient.Ping)
	}
	health.AddCheck("replicas", conns.HealthCheck)

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.HealthAddr(),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.Register("audit recorder", func(ctx context.Context) error {
		timeout := cfg.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		return recorder.Close(timeout)
	})
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("postgres", func(context.Context) error { return conns.Close() })
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("audit API listening")
		return listen(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		return listen(healthServer)
	})
	g.Go(func() error {
		err := shutdown.WaitForSignal(gctx)
		cancel()
		return err
	})

	return g.Wait()
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
