// Package geofence detects zone entries and exits for one user by diffing
// the zones containing the current point against the stored zone set from
// the previous event. History is never re-scanned.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/albapepper/famtrack/internal/alerts"
	"github.com/albapepper/famtrack/internal/location"
	"github.com/albapepper/famtrack/internal/zones"
)

// State stores the per-user zone set.
type State interface {
	ZoneState(ctx context.Context, userID string) ([]string, error)
	SetZoneState(ctx context.Context, userID string, zoneIDs []string) error
}

// Emitter raises deduplicated alerts.
type Emitter interface {
	Emit(ctx context.Context, t alerts.Trigger, names *alerts.NameResolver) (bool, error)
}

// Outcome summarizes one evaluation.
type Outcome struct {
	Entered    []string
	Left       []string
	Fired      int
	Suppressed int
}

// Engine evaluates location events against zones.
type Engine struct {
	oracle        zones.Oracle
	lookup        zones.Lookup
	state         State
	emitter       Emitter
	users         alerts.UserNames
	oracleTimeout time.Duration
	logger        *slog.Logger
}

// Config carries the engine's collaborators.
type Config struct {
	Oracle        zones.Oracle
	Lookup        zones.Lookup
	State         State
	Emitter       Emitter
	Users         alerts.UserNames
	OracleTimeout time.Duration
	Logger        *slog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	return &Engine{
		oracle:        cfg.Oracle,
		lookup:        cfg.Lookup,
		state:         cfg.State,
		emitter:       cfg.Emitter,
		users:         cfg.Users,
		oracleTimeout: cfg.OracleTimeout,
		logger:        cfg.Logger,
	}
}

// Evaluate diffs the zones containing ev against the user's stored zone set,
// raises ENTER/LEAVE alerts per zone configuration, and stores the new set.
// Without groups there is nothing to evaluate. An oracle or state read
// failure leaves the stored set untouched.
func (e *Engine) Evaluate(ctx context.Context, ev location.Event, groupIDs []string) (Outcome, error) {
	var out Outcome
	if len(groupIDs) == 0 {
		return out, nil
	}

	current, err := e.containing(ctx, ev, groupIDs)
	if err != nil {
		return out, fmt.Errorf("query zones for %s: %w", ev.UserID, err)
	}

	previous, err := e.state.ZoneState(ctx, ev.UserID)
	if err != nil {
		return out, fmt.Errorf("load zone state for %s: %w", ev.UserID, err)
	}

	currentIDs := make([]string, 0, len(current))
	byID := make(map[string]zones.Zone, len(current))
	for _, z := range current {
		currentIDs = append(currentIDs, z.ID)
		byID[z.ID] = z
	}
	slices.Sort(currentIDs)
	currentIDs = slices.Compact(currentIDs)

	out.Entered = difference(currentIDs, previous)
	out.Left = difference(previous, currentIDs)

	names := alerts.NewNameResolver(e.users, e.logger)

	for _, id := range out.Entered {
		z := byID[id]
		if !z.AlertOn.OnEnter() {
			continue
		}
		e.emit(ctx, &out, alerts.Trigger{UserID: ev.UserID, Zone: z, Direction: alerts.DirectionEnter}, names)
	}

	for _, id := range out.Left {
		z, err := e.zoneByID(ctx, id)
		if errors.Is(err, zones.ErrNotFound) {
			continue
		}
		if err != nil {
			e.logger.Warn("Failed to load left zone", "user_id", ev.UserID, "zone_id", id, "error", err)
			continue
		}
		if !z.AlertOn.OnLeave() {
			continue
		}
		e.emit(ctx, &out, alerts.Trigger{UserID: ev.UserID, Zone: z, Direction: alerts.DirectionLeave}, names)
	}

	if err := e.state.SetZoneState(ctx, ev.UserID, currentIDs); err != nil {
		return out, fmt.Errorf("store zone state for %s: %w", ev.UserID, err)
	}

	if len(out.Entered) > 0 || len(out.Left) > 0 {
		e.logger.Debug("Zone membership changed",
			"user_id", ev.UserID, "entered", out.Entered, "left", out.Left,
			"fired", out.Fired, "suppressed", out.Suppressed)
	}
	return out, nil
}

func (e *Engine) emit(ctx context.Context, out *Outcome, t alerts.Trigger, names *alerts.NameResolver) {
	fired, err := e.emitter.Emit(ctx, t, names)
	switch {
	case err != nil:
		e.logger.Warn("Failed to emit zone alert",
			"user_id", t.UserID, "zone_id", t.Zone.ID, "direction", t.Direction, "error", err)
	case fired:
		out.Fired++
	default:
		out.Suppressed++
	}
}

func (e *Engine) containing(ctx context.Context, ev location.Event, groupIDs []string) ([]zones.Zone, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.oracle.Containing(ctx, zones.Query{Point: ev.Point(), GroupIDs: groupIDs, UserID: ev.UserID})
}

func (e *Engine) zoneByID(ctx context.Context, id string) (zones.Zone, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.lookup.ByID(ctx, id)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.oracleTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.oracleTimeout)
}

// difference returns the sorted IDs in a that are not in b.
func difference(a, b []string) []string {
	exclude := make(map[string]struct{}, len(b))
	for _, id := range b {
		exclude[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := exclude[id]; !ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
