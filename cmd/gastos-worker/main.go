package main

import (
	"context"
	"errors"
	"os"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/cli"
	"gastos/internal/core"
	"gastos/internal/export"
	"gastos/internal/log"
	"gastos/internal/resilience"
	"gastos/internal/services"
	gsheet "gastos/internal/sheets/google"
	"gastos/internal/telemetry"
	"gastos/internal/worker"
)

const (
	shutdownTimeout = 45 * time.Second
	flushInterval   = time.Second
	// reconcileInterval re-exports the recent months in case events were lost.
	reconcileInterval = 6 * time.Hour
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentWorker)

	logger.Info("Starting gastos-worker")

	if !cfg.SheetsEnabled() {
		logger.Error("GOOGLE_SPREADSHEET_ID is required by the worker")
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}
	if cfg.SupabaseServiceKey == "" {
		logger.Warn("SUPABASE_SERVICE_KEY not set, exports run with the anonymous key")
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), "gastos-worker", cfg.OTELEndpoint)
	if err != nil {
		logger.Warn("Tracing disabled", log.FieldError, err)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	result := cli.InitBackend(bootCtx, logger, cfg)
	bootCancel()

	// The credentials keep using this context to refresh tokens.
	sheetsClient, err := gsheet.New(context.Background(), gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		CredentialsJSON: cfg.GoogleCredentialsJSON,
		CredentialsFile: cfg.GoogleCredentialsFile,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	online := resilience.NewConnectivity()
	records := services.NewService(result.Backend, services.Options{
		Retrier:   cli.NewRetrier(cfg, online, logger),
		Timeout:   cfg.ReportTimeout,
		RateLimit: cfg.QueryRateLimit,
		Logger:    logger,
	})
	exporter := export.NewExporter(records, logger)

	// The worker reads every record, so it acts as an admin holding the
	// service key.
	viewer := core.Viewer{
		Email:       "sheets-sync@gastos",
		Role:        core.RoleAdmin,
		AccessToken: cfg.SupabaseServiceKey,
	}
	syncWorker := worker.NewSyncWorker(exporter, sheetsClient, viewer, cfg.SheetsSyncDebounce, logger)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	runDone := make(chan struct{})
	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		select {
		case <-runDone:
		case <-ctx.Done():
			logger.Warn("Final flush did not finish", "pending", syncWorker.Pending())
		}
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err)
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

	go online.Watch(ctx, cfg.ConnectivityProbe, result.Backend.Ping, logger)

	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", log.FieldError, err)
	}

	go func() {
		if err := amqpClient.ConsumeDurable(ctx, syncWorker.HandleChange); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Change consumer stopped", log.FieldError, err)
		}
	}()

	go func() {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := syncWorker.StartupSyncCheck(ctx); err != nil {
					logger.Error("Periodic reconcile failed", log.FieldError, err)
				}
			}
		}
	}()

	go func() {
		defer close(runDone)
		syncWorker.Run(ctx, flushInterval)
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
