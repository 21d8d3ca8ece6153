package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/famtrack/internal/location"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Options{}), mr
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "user:u1:latest_location", LatestLocationKey("u1"))
	assert.Equal(t, "user:u1:zones", ZonesKey("u1"))
	assert.Equal(t, "user:u1:groups", GroupsKey("u1"))
	assert.Equal(t, "alert:enter:u1:z9", CooldownKey("enter", "u1", "z9"))
}

func TestLatestLocationOverwrite(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	_, ok, err := s.Latest(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	ts := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLatest(ctx, location.Event{UserID: "u1", Latitude: 1, Longitude: 2, Timestamp: ts}))
	require.NoError(t, s.SetLatest(ctx, location.Event{UserID: "u1", Latitude: 3, Longitude: 4, Timestamp: ts.Add(time.Second)}))

	ev, ok, err := s.Latest(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, ev.Latitude)
	assert.Equal(t, time.Duration(0), mr.TTL(LatestLocationKey("u1")))
}

func TestZoneStateExpires(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetZoneState(ctx, "u1", []string{"z1", "z2"}))
	ids, err := s.ZoneState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"z1", "z2"}, ids)
	assert.Equal(t, DefaultZoneStateTTL, mr.TTL(ZonesKey("u1")))

	mr.FastForward(DefaultZoneStateTTL + time.Second)

	ids, err = s.ZoneState(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEmptyZoneStateIsStored(t *testing.T) {
	s, mr := newStore(t)

	require.NoError(t, s.SetZoneState(context.Background(), "u1", nil))
	got, err := mr.Get(ZonesKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestGroupsCacheAndInvalidate(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	_, ok, err := s.Groups(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetGroups(ctx, "u1", []string{"g1"}))
	require.NoError(t, s.SetGroups(ctx, "u2", []string{"g1", "g2"}))
	assert.Equal(t, time.Duration(0), mr.TTL(GroupsKey("u1")))

	ids, ok, err := s.Groups(ctx, "u2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"g1", "g2"}, ids)

	require.NoError(t, s.InvalidateGroups(ctx, "u1", "u2"))
	assert.False(t, mr.Exists(GroupsKey("u1")))
	assert.False(t, mr.Exists(GroupsKey("u2")))
}

func TestCooldownWindow(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	active, err := s.CooldownActive(ctx, "enter", "u1", "z1")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, s.MarkCooldown(ctx, "enter", "u1", "z1"))

	active, err = s.CooldownActive(ctx, "enter", "u1", "z1")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = s.CooldownActive(ctx, "leave", "u1", "z1")
	require.NoError(t, err)
	assert.False(t, active, "directions have independent cooldowns")

	mr.FastForward(DefaultAlertCooldown)

	active, err = s.CooldownActive(ctx, "enter", "u1", "z1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCorruptEntryReturnsError(t *testing.T) {
	s, mr := newStore(t)
	require.NoError(t, mr.Set(GroupsKey("u1"), "not-json"))

	_, _, err := s.Groups(context.Background(), "u1")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.SetGroups(context.Background(), "u1", []string{"g1"}))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, stats["connected"])
	assert.Equal(t, int64(1), stats["total_keys"])
}
