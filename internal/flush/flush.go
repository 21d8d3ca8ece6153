// Package flush periodically moves buffered location events to durable
// storage. Each cycle drains the buffer atomically, drops events of unknown
// users, keeps only points that moved far enough from the user's previous
// accepted point, and bulk-inserts the rest in one statement.
package flush

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/albapepper/famtrack/internal/geo"
	"github.com/albapepper/famtrack/internal/location"
	"github.com/albapepper/famtrack/internal/observability"
)

// Buffer is the drained side of the pending buffer.
type Buffer interface {
	Drain(ctx context.Context) ([]location.Event, error)
}

// Repository is the durable location store.
type Repository interface {
	KnownUsers(ctx context.Context, userIDs []string) (map[string]struct{}, error)
	LastPoints(ctx context.Context, userIDs []string) (map[string]location.Persisted, error)
	InsertLocations(ctx context.Context, events []location.Event) (int64, error)
}

// Result summarizes one flush cycle.
type Result struct {
	Drained      int
	Users        int
	UnknownUsers int
	Discarded    int // events of unknown users
	Filtered     int // events closer than the minimum distance
	Persisted    int
	Duration     time.Duration
}

// Summary returns a one-line description for logs and the CLI.
func (r Result) Summary() string {
	return fmt.Sprintf("drained=%d users=%d unknown_users=%d discarded=%d filtered=%d persisted=%d duration=%s",
		r.Drained, r.Users, r.UnknownUsers, r.Discarded, r.Filtered, r.Persisted,
		r.Duration.Round(time.Millisecond))
}

// Flusher runs flush cycles.
type Flusher struct {
	buf         Buffer
	repo        Repository
	minDistance float64
	timeout     time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// New creates a Flusher. minDistance is in meters; timeout bounds one cycle.
func New(buf Buffer, repo Repository, minDistance float64, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Flusher {
	return &Flusher{
		buf:         buf,
		repo:        repo,
		minDistance: minDistance,
		timeout:     timeout,
		metrics:     metrics,
		logger:      logger,
	}
}

// RunOnce executes one flush cycle. A store failure after the drain
// abandons the whole batch: drained events are not returned to the buffer.
func (f *Flusher) RunOnce(ctx context.Context) (result Result, err error) {
	start := time.Now()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	events, err := f.buf.Drain(ctx)
	if err != nil {
		return result, fmt.Errorf("drain: %w", err)
	}
	result.Drained = len(events)
	if len(events) == 0 {
		return result, nil
	}

	defer func() {
		result.Duration = time.Since(start)
		f.metrics.FlushDuration(ctx, result.Duration)
	}()

	byUser := groupByUser(events)
	userIDs := make([]string, 0, len(byUser))
	for id := range byUser {
		userIDs = append(userIDs, id)
	}
	slices.Sort(userIDs)
	result.Users = len(userIDs)

	known, err := f.repo.KnownUsers(ctx, userIDs)
	if err != nil {
		return result, f.abandon(ctx, &result, "validate users", err)
	}

	valid := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := known[id]; ok {
			valid = append(valid, id)
			continue
		}
		result.UnknownUsers++
		result.Discarded += len(byUser[id])
		f.logger.Warn("Discarding buffered events for unknown user",
			"user_id", id, "count", len(byUser[id]))
	}
	f.metrics.FlushPoints(ctx, "unknown_user", result.Discarded)

	if len(valid) == 0 {
		return result, nil
	}

	last, err := f.repo.LastPoints(ctx, valid)
	if err != nil {
		return result, f.abandon(ctx, &result, "load last points", err)
	}

	var accepted []location.Event
	for _, id := range valid {
		var ref *location.Persisted
		if p, ok := last[id]; ok {
			ref = &p
		}
		q := Qualifying(byUser[id], ref, f.minDistance)
		result.Filtered += len(byUser[id]) - len(q)
		accepted = append(accepted, q...)
	}
	f.metrics.FlushPoints(ctx, "filtered", result.Filtered)

	if len(accepted) == 0 {
		return result, nil
	}

	n, err := f.repo.InsertLocations(ctx, accepted)
	if err != nil {
		return result, f.abandon(ctx, &result, "insert locations", err)
	}
	result.Persisted = int(n)
	f.metrics.FlushPoints(ctx, "persisted", result.Persisted)
	return result, nil
}

func (f *Flusher) abandon(ctx context.Context, result *Result, stage string, err error) error {
	lost := result.Drained - result.Discarded
	f.metrics.FlushPoints(ctx, "abandoned", lost)
	f.logger.Error("Flush batch abandoned",
		"stage", stage, "drained", result.Drained, "lost", lost, "error", err)
	return fmt.Errorf("%s: %w", stage, err)
}

// Qualifying returns the events of one user, sorted by timestamp, that each
// lie at least minDistance meters from the previously accepted point. The
// first reference is last; with no persisted point the earliest event is
// accepted outright and becomes the reference.
func Qualifying(events []location.Event, last *location.Persisted, minDistance float64) []location.Event {
	var (
		out    []location.Event
		ref    geo.Point
		hasRef bool
	)
	if last != nil {
		ref, hasRef = last.Point(), true
	}

	for _, ev := range events {
		p := ev.Point()
		if hasRef && geo.DistanceMeters(ref, p) < minDistance {
			continue
		}
		out = append(out, ev)
		ref, hasRef = p, true
	}
	return out
}

// groupByUser buckets events per user, each bucket stable-sorted by
// timestamp so equal timestamps keep arrival order.
func groupByUser(events []location.Event) map[string][]location.Event {
	out := make(map[string][]location.Event)
	for _, ev := range events {
		out[ev.UserID] = append(out[ev.UserID], ev)
	}
	for _, evs := range out {
		slices.SortStableFunc(evs, func(a, b location.Event) int {
			return cmp.Compare(a.Timestamp.UnixNano(), b.Timestamp.UnixNano())
		})
	}
	return out
}
