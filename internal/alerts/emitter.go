package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/famtrack/internal/fanout"
	"github.com/albapepper/famtrack/internal/observability"
	"github.com/albapepper/famtrack/internal/zones"
)

// Repository persists alerts.
type Repository interface {
	InsertAlert(ctx context.Context, a Alert) error
}

// Publisher delivers alerts to real-time subscribers.
type Publisher interface {
	PublishAlert(ctx context.Context, m fanout.AlertMessage) error
}

// Cooldowns tracks recently fired (direction, user, zone) triples.
type Cooldowns interface {
	CooldownActive(ctx context.Context, direction, userID, zoneID string) (bool, error)
	MarkCooldown(ctx context.Context, direction, userID, zoneID string) error
}

// Trigger is one zone crossing that may raise an alert.
type Trigger struct {
	UserID    string
	Zone      zones.Zone
	Direction Direction
}

// Emitter composes, persists and publishes alerts, deduplicating zone alerts
// through cooldown marks.
type Emitter struct {
	repo      Repository
	pub       Publisher
	cooldowns Cooldowns
	metrics   *observability.Metrics
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewEmitter creates an Emitter.
func NewEmitter(repo Repository, pub Publisher, cooldowns Cooldowns, metrics *observability.Metrics, logger *slog.Logger) *Emitter {
	return &Emitter{
		repo:      repo,
		pub:       pub,
		cooldowns: cooldowns,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Emit raises an alert for t unless one fired for the same direction, user
// and zone within the cooldown. It reports whether an alert was emitted.
//
// The cooldown mark is written after dispatch, so two concurrent crossings
// of the same zone may both fire.
func (e *Emitter) Emit(ctx context.Context, t Trigger, names *NameResolver) (bool, error) {
	dir := string(t.Direction)

	active, err := e.cooldowns.CooldownActive(ctx, dir, t.UserID, t.Zone.ID)
	if err != nil {
		// Fail open: a duplicate alert beats a missed one.
		e.logger.Warn("Cooldown check failed, emitting anyway",
			"user_id", t.UserID, "zone_id", t.Zone.ID, "direction", dir, "error", err)
	} else if active {
		e.metrics.AlertSuppressed(ctx)
		e.logger.Debug("Alert suppressed by cooldown",
			"user_id", t.UserID, "zone_id", t.Zone.ID, "direction", dir)
		return false, nil
	}

	a := Alert{
		ID:        e.newID(),
		GroupID:   t.Zone.GroupID,
		UserID:    t.UserID,
		UserName:  names.Resolve(ctx, t.UserID),
		ZoneID:    t.Zone.ID,
		ZoneName:  t.Zone.Name,
		Type:      TypeFor(t.Zone.Kind, t.Direction),
		CreatedAt: e.now().UTC(),
	}

	if err := e.dispatch(ctx, a); err != nil {
		return false, err
	}

	if err := e.cooldowns.MarkCooldown(ctx, dir, t.UserID, t.Zone.ID); err != nil {
		e.logger.Warn("Failed to set alert cooldown",
			"user_id", t.UserID, "zone_id", t.Zone.ID, "direction", dir, "error", err)
	}
	return true, nil
}

// RaiseSOS sends one SOS alert to each of the user's groups. SOS alerts are
// never deduplicated.
func (e *Emitter) RaiseSOS(ctx context.Context, userID string, groupIDs []string, names *NameResolver) ([]Alert, error) {
	if len(groupIDs) == 0 {
		return nil, fmt.Errorf("raise SOS for %s: user has no groups", userID)
	}

	name := names.Resolve(ctx, userID)
	sent := make([]Alert, 0, len(groupIDs))
	var errs []error
	for _, g := range groupIDs {
		a := Alert{
			ID:        e.newID(),
			GroupID:   g,
			UserID:    userID,
			UserName:  name,
			Type:      TypeSOS,
			CreatedAt: e.now().UTC(),
		}
		if err := e.dispatch(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", g, err))
			continue
		}
		sent = append(sent, a)
	}
	return sent, errors.Join(errs...)
}

// dispatch persists then publishes a. A persistence failure does not block
// the publish; the alert only counts as lost when both fail.
func (e *Emitter) dispatch(ctx context.Context, a Alert) error {
	persistErr := e.repo.InsertAlert(ctx, a)
	if persistErr != nil {
		e.logger.Warn("Failed to persist alert",
			"alert_id", a.ID, "type", a.Type, "user_id", a.UserID, "error", persistErr)
	}

	publishErr := e.pub.PublishAlert(ctx, a.Message())
	if publishErr != nil {
		e.logger.Warn("Failed to publish alert",
			"alert_id", a.ID, "type", a.Type, "user_id", a.UserID, "error", publishErr)
	}

	if persistErr != nil && publishErr != nil {
		return fmt.Errorf("dispatch alert %s: %w", a.ID, errors.Join(persistErr, publishErr))
	}

	e.metrics.AlertFired(ctx, string(a.Type))
	e.logger.Info("Alert emitted",
		"type", a.Type, "user_id", a.UserID, "zone_id", a.ZoneID, "group_id", a.GroupID)
	return nil
}
