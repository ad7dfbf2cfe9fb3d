package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/shinamagazin/shina-audit/pkg/audit"
	"github.com/shinamagazin/shina-audit/pkg/config"
	"github.com/shinamagazin/shina-audit/pkg/observability"
	"github.com/shinamagazin/shina-audit/pkg/storage"
	"github.com/shinamagazin/shina-audit/pkg/storage/postgres"
)

var (
	runOnce     = flag.Bool("run-once", false, "Run one retention sweep and exit")
	days        = flag.Int("days", 0, "Days of audit history to keep (default: SHINA_AUDIT_RETENTION_DAYS)")
	schedule    = flag.String("schedule", "", "Cron schedule for the sweep (default: SHINA_AUDIT_RETENTION_SCHEDULE)")
	noArchive   = flag.Bool("no-archive", false, "Purge without copying records to S3 first")
	jsonLogs    = flag.Bool("json-logs", false, "Log as JSON instead of text")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9091")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stdout)
	if *jsonLogs {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel.String()); err == nil {
		log.SetLevel(level)
	}

	keep := cfg.Audit.RetentionDays
	if *days > 0 {
		keep = *days
	}
	spec := cfg.Audit.RetentionSchedule
	if *schedule != "" {
		spec = *schedule
	}

	// Components log through the service's structured logger.
	componentLogger := observability.NewLogger(cfg.Observability.LogLevel, log.Out).
		WithField("service", "audit-retention")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), componentLogger)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer conns.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel("retention"), componentLogger)
	if err != nil {
		log.WithError(err).Warn("Tracing disabled")
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = observability.ShutdownOTel(shutdownCtx, otelProviders, componentLogger)
	}()

	var archive audit.ObjectWriter
	if cfg.Audit.ArchiveBeforePurge && !*noArchive {
		s3Client, err := postgres.NewS3Client(ctx, cfg.Storage)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to archive bucket")
		}
		archive = s3Client
		log.WithField("bucket", s3Client.Bucket()).Info("Archiving purged records")
	}

	var distinct audit.DistinctCache
	if cfg.Storage.CacheEnabled && cfg.Storage.RedisURL != "" {
		redisClient, err := postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, cached distinct values will expire on their own")
		} else {
			defer redisClient.Close()
			distinct = audit.NewRedisDistinctCache(redisClient,
				cfg.Storage.TTL(storage.CacheDistinctValues, 5*time.Minute), componentLogger, metrics)
		}
	}

	retention := audit.NewRetention(audit.NewDBStore(conns, metrics), archive, componentLogger, metrics)
	sweep := func() error {
		start := time.Now()
		result, err := retention.CleanupOldLogs(ctx, keep)
		entry := log.WithFields(logrus.Fields{
			"days":     keep,
			"cutoff":   result.Cutoff.Format(time.RFC3339),
			"archived": result.Archived,
			"objects":  result.Objects,
			"purged":   result.Purged,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Error("Retention sweep failed")
			return err
		}
		if result.Purged > 0 && distinct != nil {
			distinct.Invalidate(ctx)
		}
		entry.Info("Retention sweep completed")
		return nil
	}

	if *metricsAddr != "" {
		metricsMux := http.NewServeMux()
		observability.RegisterMetricsEndpoint(metricsMux, registry)
		srv := &http.Server{Addr: *metricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	if *runOnce {
		if err := sweep(); err != nil {
			os.Exit(1)
		}
		return
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(log)))
	_, err = c.AddFunc(spec, func() {
		defer observability.RecoverPanic(componentLogger, "retention sweep")
		sweep()
	})
	if err != nil {
		log.WithError(err).WithField("schedule", spec).Fatal("Failed to schedule retention sweep")
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"schedule": spec,
		"days":     keep,
		"archive":  archive != nil,
	}).Info("Audit retention worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down gracefully...")

	cancel()
	stopCtx := c.Stop()
	<-stopCtx.Done()

	log.Info("Retention worker stopped")
}
