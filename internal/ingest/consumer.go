package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/albapepper/famtrack/internal/location"
	"github.com/albapepper/famtrack/internal/observability"
	"github.com/albapepper/famtrack/internal/queue"
)

const (
	popTimeout   = time.Second
	shardBacklog = 64
	errorBackoff = 500 * time.Millisecond
	maxBackoff   = 10 * time.Second
)

// Source yields raw inbound payloads; it returns queue.ErrEmpty on timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Handler processes one decoded event.
type Handler interface {
	Handle(ctx context.Context, ev location.Event) error
}

// Consumer pulls events off the inbound queue and fans them across worker
// shards by user, so one user's events are handled in order by a single
// goroutine while different users proceed in parallel.
type Consumer struct {
	src          Source
	handler      Handler
	workers      int
	eventTimeout time.Duration
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewConsumer creates a Consumer with the given number of shards.
func NewConsumer(src Source, h Handler, workers int, eventTimeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		src:          src,
		handler:      h,
		workers:      workers,
		eventTimeout: eventTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run consumes until ctx is cancelled. Events already routed to a shard are
// finished before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	shards := make([]chan location.Event, c.workers)
	for i := range shards {
		shards[i] = make(chan location.Event, shardBacklog)
	}

	var g errgroup.Group
	for i, ch := range shards {
		g.Go(func() error {
			c.work(ctx, i, ch)
			return nil
		})
	}

	c.logger.Info("Ingest consumer started", "workers", c.workers)
	c.dispatch(ctx, shards)

	for _, ch := range shards {
		close(ch)
	}
	err := g.Wait()
	c.logger.Info("Ingest consumer stopped")
	return err
}

func (c *Consumer) dispatch(ctx context.Context, shards []chan location.Event) {
	backoff := errorBackoff
	for ctx.Err() == nil {
		raw, err := c.src.Pop(ctx, popTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			c.logger.Error("Inbound queue read failed", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
			}
			continue
		}
		backoff = errorBackoff

		var ev location.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.metrics.IngestEvent(ctx, "malformed")
			c.logger.Warn("Discarding malformed inbound event", "payload", string(raw), "error", err)
			continue
		}

		select {
		case shards[ShardFor(ev.UserID, len(shards))] <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// work handles one shard's events in order. Events run detached from ctx
// cancellation so shutdown does not cut a step in half.
func (c *Consumer) work(ctx context.Context, shard int, ch <-chan location.Event) {
	base := context.WithoutCancel(ctx)
	for ev := range ch {
		evCtx, cancel := context.WithTimeout(base, c.eventTimeout)
		if err := c.handler.Handle(evCtx, ev); err != nil {
			c.logger.Warn("Discarding invalid location event",
				"shard", shard, "user_id", ev.UserID, "error", err)
		}
		cancel()
	}
}

// ShardFor maps a user to a shard index in [0, n).
func ShardFor(userID string, n int) int {
	return int(xxhash.Sum64String(userID) % uint64(n))
}
