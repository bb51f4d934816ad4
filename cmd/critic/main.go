package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-critic/api"
	"github.com/aluiziolira/go-critic/config"
	"github.com/aluiziolira/go-critic/monitor"
	"github.com/aluiziolira/go-critic/providers"
	"github.com/aluiziolira/go-critic/store"
	"github.com/aluiziolira/go-critic/upstream"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (defaults to $"+config.ConfigPathEnvVar+")")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Verbose = true
	}

	logger, level := config.NewLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry := monitor.NewTelemetry(monitor.TelemetryOptions{
		BaseURL:   cfg.PrometheusBaseURL,
		Namespace: cfg.PrometheusNamespace,
		PodRegex:  cfg.PrometheusPodRegex,
		Timeout:   cfg.PrometheusQueryTimeout,
	})
	agg := monitor.NewAggregator(monitor.Options{
		Window:               cfg.MonitoringWindow,
		FailureRateThreshold: cfg.FailureRateThreshold,
		Telemetry:            telemetry,
	})

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

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	server := api.NewServer(api.Options{
		Factory:    factory,
		Store:      st,
		Aggregator: agg,
		Monitoring: monitor.HandlerOptions{
			AdminToken:         cfg.AdminToken,
			MetricsRequireAuth: cfg.MetricsRequireAuth,
			Logger:             logger,
		},
		CacheSize: cfg.SearchCacheSize,
		CacheTTL:  cfg.SearchCacheTTL,
		RateLimit: cfg.SearchRateLimit,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore uses Postgres when a database URL is configured and an
// in-process store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database_url configured, items are kept in memory only")
		return store.NewMemory(), func() {}, nil
	}
	if err := store.Migrate(ctx, cfg.DatabaseURL, logger); err != nil {
		return nil, nil, err
	}
	pool, err := store.Connect(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConns))
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgres(pool), pool.Close, nil
}
