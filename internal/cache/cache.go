// Package cache holds the per-user keyed state shared by every pipeline
// instance: latest location, zone membership state, group membership and
// alert cooldown marks. All of it lives in Redis with explicit TTLs.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/albapepper/famtrack/internal/location"
)

// Default TTLs for keyed state. Group entries never expire on their own.
const (
	DefaultZoneStateTTL  = 10 * time.Minute
	DefaultAlertCooldown = 5 * time.Minute
)

// Key builders.
func LatestLocationKey(userID string) string { return "user:" + userID + ":latest_location" }

func ZonesKey(userID string) string { return "user:" + userID + ":zones" }

func GroupsKey(userID string) string { return "user:" + userID + ":groups" }

// CooldownKey is alert:{enter|leave}:{userId}:{zoneId}.
func CooldownKey(direction, userID, zoneID string) string {
	return "alert:" + direction + ":" + userID + ":" + zoneID
}

// Options tunes TTLs. Zero values fall back to the defaults.
type Options struct {
	ZoneStateTTL  time.Duration
	AlertCooldown time.Duration
}

// Store reads and writes keyed pipeline state.
type Store struct {
	rdb          *goredis.Client
	zoneStateTTL time.Duration
	cooldown     time.Duration
}

// New wraps a Redis client.
func New(rdb *goredis.Client, opts Options) *Store {
	s := &Store{
		rdb:          rdb,
		zoneStateTTL: opts.ZoneStateTTL,
		cooldown:     opts.AlertCooldown,
	}
	if s.zoneStateTTL <= 0 {
		s.zoneStateTTL = DefaultZoneStateTTL
	}
	if s.cooldown <= 0 {
		s.cooldown = DefaultAlertCooldown
	}
	return s
}

// --------------------------------------------------------------------------
// Latest location
// --------------------------------------------------------------------------

// SetLatest overwrites the user's most recent event.
func (s *Store) SetLatest(ctx context.Context, ev location.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal latest location: %w", err)
	}
	return s.rdb.Set(ctx, LatestLocationKey(ev.UserID), b, 0).Err()
}

// Latest returns the user's most recent event; ok is false if none is cached.
func (s *Store) Latest(ctx context.Context, userID string) (ev location.Event, ok bool, err error) {
	ok, err = s.getJSON(ctx, LatestLocationKey(userID), &ev)
	return ev, ok, err
}

// --------------------------------------------------------------------------
// Zone membership state
// --------------------------------------------------------------------------

// ZoneState returns the zone IDs the user was last seen in. A missing or
// expired entry is the empty set.
func (s *Store) ZoneState(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if _, err := s.getJSON(ctx, ZonesKey(userID), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetZoneState overwrites the user's zone set and refreshes its TTL.
func (s *Store) SetZoneState(ctx context.Context, userID string, zoneIDs []string) error {
	if zoneIDs == nil {
		zoneIDs = []string{}
	}
	b, err := json.Marshal(zoneIDs)
	if err != nil {
		return fmt.Errorf("marshal zone state: %w", err)
	}
	return s.rdb.Set(ctx, ZonesKey(userID), b, s.zoneStateTTL).Err()
}

// --------------------------------------------------------------------------
// Group membership
// --------------------------------------------------------------------------

// Groups returns the cached approved group IDs; ok is false on a miss.
func (s *Store) Groups(ctx context.Context, userID string) (ids []string, ok bool, err error) {
	ok, err = s.getJSON(ctx, GroupsKey(userID), &ids)
	return ids, ok, err
}

// SetGroups caches the user's group IDs with no expiry.
func (s *Store) SetGroups(ctx context.Context, userID string, groupIDs []string) error {
	if groupIDs == nil {
		groupIDs = []string{}
	}
	b, err := json.Marshal(groupIDs)
	if err != nil {
		return fmt.Errorf("marshal groups: %w", err)
	}
	return s.rdb.Set(ctx, GroupsKey(userID), b, 0).Err()
}

// InvalidateGroups drops cached group entries for the given users.
func (s *Store) InvalidateGroups(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = GroupsKey(id)
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// --------------------------------------------------------------------------
// Alert cooldown marks
// --------------------------------------------------------------------------

// CooldownActive reports whether an alert for (direction, user, zone) fired
// within the cooldown window.
func (s *Store) CooldownActive(ctx context.Context, direction, userID, zoneID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, CooldownKey(direction, userID, zoneID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkCooldown starts the cooldown window for (direction, user, zone).
func (s *Store) MarkCooldown(ctx context.Context, direction, userID, zoneID string) error {
	return s.rdb.Set(ctx, CooldownKey(direction, userID, zoneID), "1", s.cooldown).Err()
}

// --------------------------------------------------------------------------
// Health
// --------------------------------------------------------------------------

// Stats returns connectivity and key count for the health endpoint.
func (s *Store) Stats(ctx context.Context) (map[string]interface{}, error) {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	size, err := s.rdb.DBSize(ctx).Result()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"connected":      true,
		"total_keys":     size,
		"zone_state_ttl": s.zoneStateTTL.String(),
		"alert_cooldown": s.cooldown.String(),
	}, nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
