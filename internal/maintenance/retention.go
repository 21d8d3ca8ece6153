package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/famtrack/internal/observability"
)

// LocationPruner deletes persisted locations older than cutoff.
type LocationPruner interface {
	DeleteLocationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionSweeper keeps only the most recent window of location history.
type RetentionSweeper struct {
	repo    LocationPruner
	window  time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewRetentionSweeper creates a sweeper removing rows older than window.
func NewRetentionSweeper(repo LocationPruner, window time.Duration, metrics *observability.Metrics, logger *slog.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		repo:    repo,
		window:  window,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Sweep deletes every location recorded before now minus the window.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := s.now().Add(-s.window)

	n, err := s.repo.DeleteLocationsBefore(ctx, cutoff)
	dur := time.Since(start).Round(time.Millisecond)
	if err != nil {
		s.logger.Warn("Retention: sweep failed", "cutoff", cutoff, "duration", dur, "error", err)
		return 0, fmt.Errorf("retention sweep: %w", err)
	}

	s.metrics.RetentionDeleted(ctx, n)
	if n > 0 {
		s.logger.Info("Retention: purged old locations", "count", n, "cutoff", cutoff, "duration", dur)
	}
	return n, nil
}
