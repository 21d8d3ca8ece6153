// Package ingest runs every inbound location event through the live path:
// update the latest location, buffer it for persistence, fan it out to group
// members and evaluate geofences. Steps fail independently so a geofence or
// fanout problem never costs the buffered point.
package ingest

import (
	"context"
	"log/slog"

	"github.com/albapepper/famtrack/internal/fanout"
	"github.com/albapepper/famtrack/internal/geofence"
	"github.com/albapepper/famtrack/internal/location"
	"github.com/albapepper/famtrack/internal/observability"
)

// LatestStore overwrites a user's latest location.
type LatestStore interface {
	SetLatest(ctx context.Context, ev location.Event) error
}

// Buffer accepts events awaiting the next flush.
type Buffer interface {
	Append(ctx context.Context, ev location.Event) error
}

// GroupResolver returns a user's approved groups.
type GroupResolver interface {
	GroupIDs(ctx context.Context, userID string) ([]string, error)
}

// LivePublisher fans out live updates.
type LivePublisher interface {
	PublishLocation(ctx context.Context, u fanout.LiveUpdate) error
}

// Geofencer evaluates zone crossings.
type Geofencer interface {
	Evaluate(ctx context.Context, ev location.Event, groupIDs []string) (geofence.Outcome, error)
}

// Step names used in logs and metrics.
const (
	StepLatest   = "latest"
	StepBuffer   = "buffer"
	StepGroups   = "groups"
	StepPublish  = "publish"
	StepGeofence = "geofence"
)

// Stage handles one event at a time. It is safe for concurrent use across
// users; callers serialize events of the same user.
type Stage struct {
	latest   LatestStore
	buffer   Buffer
	groups   GroupResolver
	live     LivePublisher
	geofence Geofencer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// StageDeps carries the Stage collaborators.
type StageDeps struct {
	Latest   LatestStore
	Buffer   Buffer
	Groups   GroupResolver
	Live     LivePublisher
	Geofence Geofencer
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// NewStage creates a Stage.
func NewStage(d StageDeps) *Stage {
	return &Stage{
		latest:   d.Latest,
		buffer:   d.Buffer,
		groups:   d.Groups,
		live:     d.Live,
		geofence: d.Geofence,
		metrics:  d.Metrics,
		logger:   d.Logger,
	}
}

// Handle processes ev. Only an invalid event is reported as an error; step
// failures are logged and counted.
func (s *Stage) Handle(ctx context.Context, ev location.Event) error {
	if err := ev.Validate(); err != nil {
		s.metrics.IngestEvent(ctx, "invalid")
		return err
	}
	s.metrics.IngestEvent(ctx, "accepted")

	if err := s.latest.SetLatest(ctx, ev); err != nil {
		s.fail(ctx, StepLatest, ev, err)
	}

	if err := s.buffer.Append(ctx, ev); err != nil {
		s.fail(ctx, StepBuffer, ev, err)
	}

	groupIDs, err := s.groups.GroupIDs(ctx, ev.UserID)
	if err != nil {
		s.fail(ctx, StepGroups, ev, err)
		return nil
	}

	err = s.live.PublishLocation(ctx, fanout.LiveUpdate{
		UserID:    ev.UserID,
		Latitude:  ev.Latitude,
		Longitude: ev.Longitude,
		Timestamp: ev.Timestamp,
		GroupIDs:  groupIDs,
	})
	if err != nil {
		s.fail(ctx, StepPublish, ev, err)
	}

	if _, err := s.geofence.Evaluate(ctx, ev, groupIDs); err != nil {
		s.fail(ctx, StepGeofence, ev, err)
	}
	return nil
}

func (s *Stage) fail(ctx context.Context, step string, ev location.Event, err error) {
	s.metrics.StepFailure(ctx, step)
	s.logger.Warn("Ingest step failed", "step", step, "user_id", ev.UserID, "error", err)
}
