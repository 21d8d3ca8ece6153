// Package maintenance runs periodic background tasks as Go tickers: the
// buffer flush and the location retention sweep.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/albapepper/famtrack/internal/flush"
)

// Flusher runs one flush cycle.
type Flusher interface {
	RunOnce(ctx context.Context) (flush.Result, error)
}

// Sweeper runs one retention sweep and reports rows removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	FlushInterval     time.Duration
	RetentionInterval time.Duration
	TaskTimeout       time.Duration // Upper bound on one run of any task
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled, then runs a final flush so buffered points are not left behind.
// Intended to be called with `go`.
func Start(ctx context.Context, cfg Config, flusher Flusher, sweeper Sweeper, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"flush", cfg.FlushInterval,
		"retention", cfg.RetentionInterval)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	done := make(chan struct{}, 2)
	running := 0

	if cfg.FlushInterval > 0 && flusher != nil {
		t := time.NewTicker(cfg.FlushInterval)
		tickers = append(tickers, t)
		running++
		go runLoop(ctx, t.C, done, func() { runFlush(ctx, cfg.TaskTimeout, flusher, logger) })
	}

	if cfg.RetentionInterval > 0 && sweeper != nil {
		t := time.NewTicker(cfg.RetentionInterval)
		tickers = append(tickers, t)
		running++
		go runLoop(ctx, t.C, done, func() { runSweep(ctx, cfg.TaskTimeout, sweeper, logger) })
	}

	<-ctx.Done()
	for ; running > 0; running-- {
		<-done
	}

	if flusher != nil {
		runFlush(ctx, cfg.TaskTimeout, flusher, logger)
	}
	logger.Info("Maintenance tickers stopped")
}

// runLoop runs fn on every tick. Runs never overlap; ticks missed while fn
// is running collapse into one.
func runLoop(ctx context.Context, ch <-chan time.Time, done chan<- struct{}, fn func()) {
	defer func() { done <- struct{}{} }()
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// taskContext detaches from shutdown so a run in progress finishes its
// writes, bounded by timeout.
func taskContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, timeout)
}

func runFlush(ctx context.Context, timeout time.Duration, flusher Flusher, logger *slog.Logger) {
	ctx, cancel := taskContext(ctx, timeout)
	defer cancel()

	res, err := flusher.RunOnce(ctx)
	if err != nil {
		logger.Warn("Flush: cycle failed", "error", err)
		return
	}
	if res.Drained > 0 {
		logger.Info("Flush: cycle complete", "summary", res.Summary())
	}
}

func runSweep(ctx context.Context, timeout time.Duration, sweeper Sweeper, logger *slog.Logger) {
	ctx, cancel := taskContext(ctx, timeout)
	defer cancel()

	// The sweeper logs its own outcome.
	_, _ = sweeper.Sweep(ctx)
}
