// Command tracker is the family location tracking service. It consumes
// location events from the inbound queue, keeps live state in Redis,
// raises zone alerts and flushes qualifying points to Postgres.
//
// Usage:
//
//	tracker
//	API_PORT=8080 INGEST_WORKERS=16 tracker

// @title famtrack ops API
// @version 1.0.0
// @description Operator surface of the family location tracker: health, metrics, latest locations and pipeline depth.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name famtrack
// @license.name MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/albapepper/famtrack/internal/api"
	"github.com/albapepper/famtrack/internal/api/handler"
	"github.com/albapepper/famtrack/internal/app"
	"github.com/albapepper/famtrack/internal/config"
	"github.com/albapepper/famtrack/internal/db"
	"github.com/albapepper/famtrack/internal/listener"
	"github.com/albapepper/famtrack/internal/maintenance"
	"github.com/albapepper/famtrack/internal/observability"
)

const version = "1.0.0"

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Tracker failed", "error", err)
		os.Exit(1)
	}
}

// newLogger logs text in development and JSON everywhere else.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Debug {
		opts.Level = slog.LevelDebug
	}
	if cfg.Environment == "development" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	metricsHandler, shutdownMetrics, err := observability.Init("famtrack", version)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn("Metrics shutdown error", "error", err)
		}
	}()
	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("create instruments: %w", err)
	}

	logger.Info("Connecting to database and redis...")
	a, err := app.Build(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	router := api.NewRouter(handler.New(handler.Deps{
		DB:      a.Pool,
		Cache:   a.Cache,
		Buffer:  a.Buffer,
		Queue:   a.Queue,
		Version: version,
	}), metricsHandler, cfg)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Inbound queue consumer
	consumer := a.Consumer()
	g.Go(func() error { return consumer.Run(gctx) })

	// LISTEN/NOTIFY consumer for membership changes
	g.Go(func() error {
		listener.Start(gctx, cfg.DatabaseURL, a.Membership, logger)
		return nil
	})

	// Flush and retention tickers
	g.Go(func() error {
		maintenance.Start(gctx, maintenance.Config{
			FlushInterval:     cfg.FlushInterval,
			RetentionInterval: cfg.RetentionInterval,
			TaskTimeout:       cfg.StoreTimeout,
		}, a.Flusher, a.Sweeper, logger)
		return nil
	})

	// Ops server
	g.Go(func() error {
		logger.Info("Starting ops server",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Tracker stopped")
	return err
}
