// Command gastosctl runs one-off maintenance tasks against the configured
// backend and cache database.
//
//	gastosctl ping
//	gastosctl export -year 2024 -month 5 -email admin@example.com -password ... [-o file.csv]
//	gastosctl cache-clear [-pattern dashboard_admin]
//	gastosctl sync -year 2024 -month 5
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gastos/internal/auth"
	"gastos/internal/cli"
	"gastos/internal/config"
	"gastos/internal/core"
	"gastos/internal/export"
	"gastos/internal/log"
	"gastos/internal/resilience"
	"gastos/internal/services"
	gsheet "gastos/internal/sheets/google"
	"gastos/internal/worker"
)

const commandTimeout = 2 * time.Minute

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *app, args []string) error
}

type app struct {
	cfg    *config.Config
	logger *log.Logger
}

var commands = []command{
	{"ping", "check that the backend answers", runPing},
	{"export", "write a month report as CSV", runExport},
	{"cache-clear", "delete persisted dashboard snapshots", runCacheClear},
	{"sync", "write a month report to the spreadsheet", runSync},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	name := os.Args[1]
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		if name != "help" && name != "-h" {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		}
		usage(os.Stderr)
		os.Exit(2)
	}

	cli.LoadEnvFile()
	logger := cli.SetupLogger(envOr("LOG_LEVEL", "warn"))
	env := &app{cfg: cli.LoadAndValidateConfig(logger), logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := cmd.run(ctx, env, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd.name, err)
		cancel()
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: gastosctl <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.usage)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runPing(ctx context.Context, env *app, args []string) error {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	result := cli.InitBackend(ctx, env.logger, env.cfg)
	defer cleanup(env.logger, result.Cleanup)

	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, resilience.ProbeTimeout)
	defer cancel()
	if err := result.Backend.Ping(pctx); err != nil {
		return fmt.Errorf("%s backend unreachable: %w", env.cfg.DataBackend, err)
	}
	fmt.Printf("%s backend ok (%s)\n", env.cfg.DataBackend, time.Since(start).Round(time.Millisecond))
	return nil
}

func runExport(ctx context.Context, env *app, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	now := core.DateOf(time.Now().In(core.Bogota))
	year := fs.Int("year", now.Year(), "report year")
	month := fs.Int("month", int(now.Month()), "report month, 1-12")
	email := fs.String("email", os.Getenv("GASTOS_EMAIL"), "sign in as this user")
	password := fs.String("password", os.Getenv("GASTOS_PASSWORD"), "password of -email")
	out := fs.String("o", "", "output file, defaults to the report file name; - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *month < 1 || *month > 12 {
		return fmt.Errorf("invalid month %d", *month)
	}

	result := cli.InitBackend(ctx, env.logger, env.cfg)
	defer cleanup(env.logger, result.Cleanup)
	retrier := cli.NewRetrier(env.cfg, resilience.NewConnectivity(), env.logger)

	sessions := auth.NewSessions(result.Backend, auth.Options{
		JWTSecret:    env.cfg.SupabaseJWTSecret,
		QueryTimeout: env.cfg.QueryTimeout,
		Retrier:      retrier,
		Logger:       env.logger,
	})
	sess, err := sessions.SignIn(ctx, *email, *password)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	defer func() { _ = sessions.SignOut(context.WithoutCancel(ctx), sess.ID) }()

	records := services.NewService(result.Backend, services.Options{
		Retrier: retrier,
		Timeout: env.cfg.ReportTimeout,
		Logger:  env.logger,
	})
	rep, err := export.NewExporter(records, env.logger).Month(ctx, sess.Viewer, *year, *month)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = export.Filename(rep.Name(), now)
	}
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := export.WriteCSV(w, rep.Rows()); err != nil {
		return err
	}
	if path != "-" {
		fmt.Fprintf(os.Stderr, "wrote %s (%d incomes, %d expenses)\n", path, len(rep.Incomes), len(rep.Expenses))
	}
	return nil
}

func runCacheClear(ctx context.Context, env *app, args []string) error {
	fs := flag.NewFlagSet("cache-clear", flag.ContinueOnError)
	pattern := fs.String("pattern", "", "only keys containing this text; empty clears everything")
	olderThan := fs.Duration("older-than", 0, "instead of matching keys, drop entries older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store := cli.InitCacheStore(env.logger, env.cfg.CacheDBPath)
	defer store.Close()

	var (
		n   int64
		err error
	)
	if *olderThan > 0 {
		n, err = store.PurgeOlderThan(ctx, time.Now().Add(-*olderThan))
	} else {
		n, err = store.DeleteMatching(ctx, *pattern)
	}
	if err != nil {
		return err
	}
	fmt.Printf("removed %d entries from %s\n", n, env.cfg.CacheDBPath)
	return nil
}

func runSync(ctx context.Context, env *app, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	now := core.DateOf(time.Now().In(core.Bogota))
	year := fs.Int("year", now.Year(), "report year")
	month := fs.Int("month", int(now.Month()), "report month, 1-12")
	recent := fs.Bool("recent", false, "sync the current and previous months instead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !env.cfg.SheetsEnabled() {
		return errors.New("GOOGLE_SPREADSHEET_ID is not set")
	}

	result := cli.InitBackend(ctx, env.logger, env.cfg)
	defer cleanup(env.logger, result.Cleanup)

	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   env.cfg.GoogleSpreadsheetID,
		CredentialsJSON: env.cfg.GoogleCredentialsJSON,
		CredentialsFile: env.cfg.GoogleCredentialsFile,
	}, env.logger)
	if err != nil {
		return err
	}
	records := services.NewService(result.Backend, services.Options{
		Retrier: cli.NewRetrier(env.cfg, resilience.NewConnectivity(), env.logger),
		Timeout: env.cfg.ReportTimeout,
		Logger:  env.logger,
	})
	viewer := core.Viewer{Role: core.RoleAdmin, AccessToken: env.cfg.SupabaseServiceKey}
	w := worker.NewSyncWorker(export.NewExporter(records, env.logger), client, viewer, 0, env.logger)
	if *recent {
		return w.StartupSyncCheck(ctx)
	}
	if err := w.SyncMonth(ctx, *year, *month); err != nil {
		return err
	}
	fmt.Printf("synced %04d-%02d\n", *year, *month)
	return nil
}

func cleanup(logger *log.Logger, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		logger.Warn("Backend cleanup error", log.FieldError, err)
	}
}
