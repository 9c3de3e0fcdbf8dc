package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/auth"
	"gastos/internal/cache"
	"gastos/internal/cli"
	"gastos/internal/export"
	apphttp "gastos/internal/http"
	"gastos/internal/log"
	"gastos/internal/query"
	"gastos/internal/report"
	"gastos/internal/resilience"
	"gastos/internal/services"
	"gastos/internal/telemetry"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = time.Minute
	// persisted snapshots older than this are dropped at startup.
	durableRetention = 7 * 24 * time.Hour
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel)

	shutdownTracing, err := telemetry.Setup(context.Background(), "gastos", cfg.OTELEndpoint)
	if err != nil {
		logger.Warn("Tracing disabled", log.FieldError, err)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	result := cli.InitBackend(bootCtx, logger, cfg)
	bootCancel()
	be := result.Backend

	online := resilience.NewConnectivity()
	retrier := cli.NewRetrier(cfg, online, logger)
	registry := query.NewRegistry()

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, changes stay local", log.FieldError, err)
			amqpClient = nil
		} else {
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "origin", amqpClient.Origin())
		}
	} else {
		logger.Info("AMQP disabled - changes are not broadcast")
	}

	svcOpts := services.Options{
		Registry:  registry,
		Retrier:   retrier,
		Timeout:   cfg.QueryTimeout,
		RateLimit: cfg.QueryRateLimit,
		Logger:    logger,
	}
	if amqpClient != nil {
		svcOpts.Publisher = amqpClient
	}
	records := services.NewService(be, svcOpts)
	reports := report.NewService(be, report.Options{
		Registry:  registry,
		Retrier:   retrier,
		Timeout:   cfg.ReportTimeout,
		RateLimit: cfg.QueryRateLimit,
		Logger:    logger,
	})
	exporter := export.NewExporter(records, logger)

	sessions := auth.NewSessions(be, auth.Options{
		TTL:          cfg.SessionTTL,
		MaxSessions:  cfg.MaxSessions,
		JWTSecret:    cfg.SupabaseJWTSecret,
		QueryTimeout: cfg.QueryTimeout,
		Retrier:      retrier,
		Logger:       logger,
	})
	sessions.Subscribe(func(e auth.Event) {
		if e.Kind == auth.SignedOut {
			records.ForgetUser(e.Viewer.UserID)
		}
	})

	durable := cli.InitCacheStore(logger, cfg.CacheDBPath)
	purgeCtx, purgeCancel := context.WithTimeout(context.Background(), resilience.ProbeTimeout)
	if n, err := durable.PurgeOlderThan(purgeCtx, time.Now().Add(-durableRetention)); err != nil {
		logger.Warn("Failed to purge stale cache entries", log.FieldError, err)
	} else if n > 0 {
		logger.Info("Purged stale cache entries", "removed", n)
	}
	purgeCancel()

	sweeper := cache.NewManager(logger)
	sweeper.Register(sessions.Cache())

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Sessions:     sessions,
		Records:      records,
		Reports:      reports,
		Exporter:     exporter,
		Durable:      durable,
		Ready:        be.Ping,
		Connectivity: online,
		Logger:       logger,
	}, apphttp.Options{
		CookieSecure: cfg.CookieSecure,
		SessionTTL:   cfg.SessionTTL,
		CacheTTL:     cfg.CacheTTL,
		AutoRefresh:  cfg.AutoRefresh,
	})
	if err != nil {
		logger.Error("Failed to build HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	var background sync.WaitGroup
	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		background.Wait()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := durable.Close(); err != nil {
			logger.Warn("Cache database close error", log.FieldError, err)
		}
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Warn("Backend cleanup error", log.FieldError, err)
			}
		}
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("Tracing shutdown error", log.FieldError, err)
		}
	})

	background.Add(2)
	go func() {
		defer background.Done()
		online.Watch(ctx, cfg.ConnectivityProbe, be.Ping, logger)
	}()
	go func() {
		defer background.Done()
		sweeper.Run(ctx, sweepInterval)
	}()

	if amqpClient != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := amqpClient.ConsumeBroadcast(ctx, records.HandleChange); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Change consumer stopped", log.FieldError, err)
			}
		}()
	}

	logger.Info("Starting gastos server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
