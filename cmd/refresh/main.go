package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-critic/config"
	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/monitor"
	"github.com/aluiziolira/go-critic/providers"
	"github.com/aluiziolira/go-critic/refresh"
	"github.com/aluiziolira/go-critic/store"
	"github.com/aluiziolira/go-critic/upstream"
)

func main() {
	defaults := refresh.DefaultOptions()

	staleDefault := envIntOr("REFRESH_STALE_DAYS", defaults.StaleDays)
	maxItemsDefault := envIntOr("REFRESH_MAX_ITEMS", defaults.MaxItems)
	retryDefault := envIntOr("REFRESH_MIN_RETRY_HOURS", defaults.MinRetryHours)
	delayDefault := envIntOr("REFRESH_REQUEST_DELAY_MS", int(defaults.RequestDelay/time.Millisecond))
	dryRunDefault := false
	if value, ok, err := config.EnvBool("REFRESH_DRY_RUN"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid REFRESH_DRY_RUN: %v\n", err)
		os.Exit(1)
	} else if ok {
		dryRunDefault = value
	}
	reportDefault, _ := config.EnvString("REFRESH_REPORT")
	formatDefault := refresh.FormatCSV
	if value, ok := config.EnvString("REFRESH_REPORT_FORMAT"); ok {
		formatDefault = value
	}

	staleDays := flag.Int("stale-days", staleDefault, "Refresh items not refreshed for at least this many days")
	maxItems := flag.Int("max-items", maxItemsDefault, "Maximum items to process in one run")
	minRetryHours := flag.Int("min-retry-hours", retryDefault, "Skip items attempted within this many hours")
	dryRun := flag.Bool("dry-run", dryRunDefault, "Fetch and validate without writing to the database")
	requestDelayMs := flag.Int("request-delay-ms", delayDefault, "Delay before each provider call (milliseconds)")
	reportPath := flag.String("report", reportDefault, "Optional per-item report file")
	reportFormat := flag.String("format", formatDefault, "Report format: csv, jsonl, or both")
	configPath := flag.String("config", "", "Path to a YAML config file (defaults to $"+config.ConfigPathEnvVar+")")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, level := config.NewLogger(os.Stderr, *verbose || cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	opts := refresh.Options{
		StaleDays:     *staleDays,
		MaxItems:      *maxItems,
		MinRetryHours: *minRetryHours,
		DryRun:        *dryRun,
		RequestDelay:  time.Duration(*requestDelayMs) * time.Millisecond,
	}
	if err := opts.Validate(); err != nil {
		slog.Error("invalid options", slog.Any("error", err))
		os.Exit(2)
	}
	if cfg.DatabaseURL == "" {
		slog.Error("database_url is required for the refresh job")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, cfg, opts, *reportPath, *reportFormat, logger)
	if result != nil {
		fmt.Println(refresh.Summary(result))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("refresh interrupted")
			os.Exit(130)
		}
		slog.Error("refresh failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts refresh.Options, reportPath, reportFormat string, logger *slog.Logger) (*models.RefreshResult, error) {
	if err := store.Migrate(ctx, cfg.DatabaseURL, logger); err != nil {
		return nil, err
	}
	pool, err := store.Connect(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConns))
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	// Upstream outcomes are counted on a local registry; the job has no
	// scrape endpoint but the executor still reports through it.
	agg := monitor.NewAggregator(monitor.DefaultOptions())
	exec := upstream.NewExecutor(upstream.ExecutorOptions{
		Timeout:    cfg.HTTPTimeout,
		UserAgent:  cfg.UserAgent,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	}, agg)
	factory := providers.NewFactory(providers.Settings{
		OMDBAPIKey:   cfg.OMDBAPIKey,
		RAWGAPIKey:   cfg.RAWGAPIKey,
		OMDBBaseURL:  cfg.OMDBBaseURL,
		RAWGBaseURL:  cfg.RAWGBaseURL,
		JikanBaseURL: cfg.JikanBaseURL,
	}, exec)

	jobOpts := []refresh.Option{refresh.WithLogger(logger)}
	var report refresh.ReportWriter
	if reportPath != "" {
		report, err = refresh.NewReportWriter(reportPath, reportFormat)
		if err != nil {
			return nil, err
		}
		jobOpts = append(jobOpts, refresh.WithReport(report))
	}

	job := refresh.NewJob(store.NewPostgres(pool), factory, jobOpts...)
	result, err := job.Run(ctx, opts)

	calls := agg.Snapshot(ctx).ExternalAPICalls
	logger.Debug("upstream calls", slog.Any("calls", calls))

	if report != nil {
		if reportErr := refresh.FinishReport(report, result); reportErr != nil {
			return result, errors.Join(err, reportErr)
		}
	}
	return result, err
}

func envIntOr(key string, fallback int) int {
	value, ok, err := config.EnvInt(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if !ok {
		return fallback
	}
	return value
}
