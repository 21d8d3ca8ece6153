// Package app assembles the pipeline components from configuration. Both
// the tracker service and the trackctl CLI build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/albapepper/famtrack/internal/alerts"
	"github.com/albapepper/famtrack/internal/buffer"
	"github.com/albapepper/famtrack/internal/cache"
	"github.com/albapepper/famtrack/internal/config"
	"github.com/albapepper/famtrack/internal/db"
	"github.com/albapepper/famtrack/internal/fanout"
	"github.com/albapepper/famtrack/internal/flush"
	"github.com/albapepper/famtrack/internal/geofence"
	"github.com/albapepper/famtrack/internal/ingest"
	"github.com/albapepper/famtrack/internal/maintenance"
	"github.com/albapepper/famtrack/internal/membership"
	"github.com/albapepper/famtrack/internal/observability"
	"github.com/albapepper/famtrack/internal/queue"
	"github.com/albapepper/famtrack/internal/storage/postgres"
)

// App holds the connected clients and every pipeline component.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.Metrics

	Pool  *db.Pool
	Redis *goredis.Client

	Store      *postgres.Store
	Cache      *cache.Store
	Buffer     *buffer.Pending
	Queue      *queue.Queue
	Publisher  *fanout.Publisher
	Membership *membership.Resolver
	Emitter    *alerts.Emitter
	Geofence   *geofence.Engine
	Stage      *ingest.Stage
	Flusher    *flush.Flusher
	Sweeper    *maintenance.RetentionSweeper
}

// Build connects to Postgres and Redis and wires the components. The caller
// must Close the returned App.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*App, error) {
	pool, err := db.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	rdb, err := cache.Connect(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Pool:    pool,
		Redis:   rdb,
	}

	a.Store = postgres.New(pool)
	a.Cache = cache.New(rdb, cache.Options{
		ZoneStateTTL:  cfg.ZoneStateTTL,
		AlertCooldown: cfg.AlertCooldown,
	})
	a.Buffer = buffer.New(rdb, config.PendingBufferKey, logger)
	a.Queue = queue.New(rdb, config.InboundQueueKey)
	a.Publisher = fanout.NewPublisher(rdb, config.LiveUpdatesChannel, config.AlertsChannel)
	a.Membership = membership.NewResolver(a.Store, a.Cache, logger)
	a.Emitter = alerts.NewEmitter(a.Store, a.Publisher, a.Cache, metrics, logger)
	a.Geofence = geofence.New(geofence.Config{
		Oracle:        a.Store,
		Lookup:        a.Store,
		State:         a.Cache,
		Emitter:       a.Emitter,
		Users:         a.Store,
		OracleTimeout: cfg.OracleTimeout,
		Logger:        logger,
	})
	a.Stage = ingest.NewStage(ingest.StageDeps{
		Latest:   a.Cache,
		Buffer:   a.Buffer,
		Groups:   a.Membership,
		Live:     a.Publisher,
		Geofence: a.Geofence,
		Metrics:  metrics,
		Logger:   logger,
	})
	a.Flusher = flush.New(a.Buffer, a.Store, cfg.MinDistanceMeters, cfg.StoreTimeout, metrics, logger)
	a.Sweeper = maintenance.NewRetentionSweeper(a.Store, cfg.RetentionWindow, metrics, logger)

	return a, nil
}

// Consumer returns the inbound queue consumer feeding the ingest stage.
func (a *App) Consumer() *ingest.Consumer {
	return ingest.NewConsumer(a.Queue, a.Stage, a.Config.IngestWorkers, a.Config.EventTimeout, a.Metrics, a.Logger)
}

// Names returns a fresh per-operation name resolver.
func (a *App) Names() *alerts.NameResolver {
	return alerts.NewNameResolver(a.Store, a.Logger)
}

// Close releases the Redis client and the pool.
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("Redis close failed", "error", err)
	}
	a.Pool.Close()
}
