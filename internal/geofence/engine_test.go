package geofence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/famtrack/internal/alerts"
	"github.com/albapepper/famtrack/internal/cache"
	"github.com/albapepper/famtrack/internal/fanout"
	"github.com/albapepper/famtrack/internal/location"
	"github.com/albapepper/famtrack/internal/observability"
	"github.com/albapepper/famtrack/internal/zones"
)

// box is a test zone covering a latitude band.
type box struct {
	zone           zones.Zone
	minLat, maxLat float64
}

// fakeZones answers containment with latitude bands and serves lookups.
type fakeZones struct {
	mu    sync.Mutex
	boxes []box
	err   error
	calls int
}

func (f *fakeZones) Containing(_ context.Context, q zones.Query) ([]zones.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	groups := map[string]bool{}
	for _, g := range q.GroupIDs {
		groups[g] = true
	}
	var out []zones.Zone
	for _, b := range f.boxes {
		if !groups[b.zone.GroupID] {
			continue
		}
		if b.zone.TargetUserID != "" && b.zone.TargetUserID != q.UserID {
			continue
		}
		if q.Point.Lat >= b.minLat && q.Point.Lat <= b.maxLat {
			out = append(out, b.zone)
		}
	}
	return out, nil
}

func (f *fakeZones) ByID(_ context.Context, id string) (zones.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.boxes {
		if b.zone.ID == id {
			return b.zone, nil
		}
	}
	return zones.Zone{}, zones.ErrNotFound
}

type recorder struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (r *recorder) InsertAlert(_ context.Context, a alerts.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) PublishAlert(context.Context, fanout.AlertMessage) error { return nil }

func (r *recorder) types() []alerts.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alerts.Type, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Type
	}
	return out
}

type staticNames struct{}

func (staticNames) UserName(context.Context, string) (string, error) { return "Ana", nil }

type harness struct {
	engine *Engine
	zones  *fakeZones
	sink   *recorder
	store  *cache.Store
	mr     *miniredis.Miniredis
	clock  time.Time
}

func newHarness(t *testing.T, boxes ...box) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := cache.New(rdb, cache.Options{})
	fz := &fakeZones{boxes: boxes}
	sink := &recorder{}

	return &harness{
		engine: New(Config{
			Oracle:        fz,
			Lookup:        fz,
			State:         store,
			Emitter:       alerts.NewEmitter(sink, sink, store, observability.Nop(), logger),
			Users:         staticNames{},
			OracleTimeout: time.Second,
			Logger:        logger,
		}),
		zones: fz,
		sink:  sink,
		store: store,
		mr:    mr,
		clock: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (h *harness) at(t *testing.T, lat float64) Outcome {
	t.Helper()
	h.clock = h.clock.Add(5 * time.Second)
	out, err := h.engine.Evaluate(context.Background(),
		location.Event{UserID: "U", Latitude: lat, Longitude: 0, Timestamp: h.clock},
		[]string{"g1"})
	require.NoError(t, err)
	return out
}

func TestDangerZoneEnterScenario(t *testing.T) {
	z := zones.Zone{ID: "Z", GroupID: "g1", Name: "Quarry", Kind: zones.KindDanger, AlertOn: zones.AlertOnEnter}
	h := newHarness(t, box{zone: z, minLat: 10, maxLat: 20})

	// P1: inside no zones.
	h.at(t, 0)
	assert.Empty(t, h.sink.types())

	// P2: inside Z.
	out := h.at(t, 15)
	assert.Equal(t, []string{"Z"}, out.Entered)
	require.Len(t, h.sink.alerts, 1)
	assert.Equal(t, alerts.TypeDangerZoneEnter, h.sink.alerts[0].Type)
	assert.Equal(t, "U", h.sink.alerts[0].UserID)

	// P3: still inside.
	out = h.at(t, 16)
	assert.Empty(t, out.Entered)
	assert.Len(t, h.sink.alerts, 1)

	// P4: outside, ENTER-only zone.
	out = h.at(t, 30)
	assert.Equal(t, []string{"Z"}, out.Left)
	assert.Len(t, h.sink.alerts, 1)

	// Re-entry after the cooldown window.
	h.mr.FastForward(cache.DefaultAlertCooldown)
	out = h.at(t, 12)
	assert.Equal(t, 1, out.Fired)
	assert.Equal(t, []alerts.Type{alerts.TypeDangerZoneEnter, alerts.TypeDangerZoneEnter}, h.sink.types())
}

func TestBoundaryJitterWithinCooldownFiresOnce(t *testing.T) {
	z := zones.Zone{ID: "Z", GroupID: "g1", Name: "Park", Kind: zones.KindSafe, AlertOn: zones.AlertOnEnter}
	h := newHarness(t, box{zone: z, minLat: 10, maxLat: 20})

	for i := 0; i < 4; i++ {
		h.at(t, 19.9)
		h.at(t, 20.1)
	}

	assert.Equal(t, []alerts.Type{alerts.TypeSafeZoneEnter}, h.sink.types())
}

func TestStillInsideAfterStateExpiryCanFireAgain(t *testing.T) {
	z := zones.Zone{ID: "Z", GroupID: "g1", Name: "Park", Kind: zones.KindSafe, AlertOn: zones.AlertOnEnter}
	h := newHarness(t, box{zone: z, minLat: 10, maxLat: 20})

	h.at(t, 15)
	h.mr.FastForward(cache.DefaultZoneStateTTL + time.Second)
	h.at(t, 15)

	assert.Len(t, h.sink.alerts, 2)
}

func TestBothProducesEnterAndLeave(t *testing.T) {
	z := zones.Zone{ID: "Z", GroupID: "g1", Name: "School", Kind: zones.KindSafe, AlertOn: zones.AlertOnBoth}
	h := newHarness(t, box{zone: z, minLat: 10, maxLat: 20})

	h.at(t, 0)
	h.at(t, 15)
	h.at(t, 25)

	assert.Equal(t, []alerts.Type{alerts.TypeSafeZoneEnter, alerts.TypeSafeZoneLeave}, h.sink.types())
}

func TestLeaveOnlyZone(t *testing.T) {
	z := zones.Zone{ID: "Z", GroupID: "g1", Name: "Home", Kind: zones.KindSafe, AlertOn: zones.AlertOnLeave}
	h := newHarness(t, box{zone: z, minLat: 10, maxLat: 20})

	h.at(t, 15)
	assert.Empty(t, h.sink.types())
	h.at(t, 25)
	assert.Equal(t, []alerts.Type{alerts.TypeSafeZoneLeave}, h.sink.types())
}

func TestDeletedZoneOnLeaveIsSkipped(t *testing.T) {
	z := zones.Zone{ID: "Z", GroupID: "g1", Name: "Home", Kind: zones.KindSafe, AlertOn: zones.AlertOnBoth}
	h := newHarness(t, box{zone: z, minLat: 10, maxLat: 20})

	h.at(t, 15)
	h.zones.boxes = nil
	out := h.at(t, 15)

	assert.Equal(t, []string{"Z"}, out.Left)
	assert.Equal(t, []alerts.Type{alerts.TypeSafeZoneEnter}, h.sink.types())

	ids, err := h.store.ZoneState(context.Background(), "U")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTargetedZoneIgnoresOtherUsers(t *testing.T) {
	z := zones.Zone{ID: "Z", GroupID: "g1", Name: "Gym", Kind: zones.KindSafe, AlertOn: zones.AlertOnEnter, TargetUserID: "someone-else"}
	h := newHarness(t, box{zone: z, minLat: 10, maxLat: 20})

	out := h.at(t, 15)
	assert.Empty(t, out.Entered)
	assert.Empty(t, h.sink.types())
}

func TestNoGroupsIsNoop(t *testing.T) {
	h := newHarness(t)

	out, err := h.engine.Evaluate(context.Background(),
		location.Event{UserID: "U", Latitude: 1, Longitude: 1, Timestamp: h.clock}, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Entered)
	assert.Zero(t, h.zones.calls)
	assert.False(t, h.mr.Exists(cache.ZonesKey("U")))
}

func TestOracleFailureKeepsPreviousState(t *testing.T) {
	z := zones.Zone{ID: "Z", GroupID: "g1", Name: "Park", Kind: zones.KindSafe, AlertOn: zones.AlertOnBoth}
	h := newHarness(t, box{zone: z, minLat: 10, maxLat: 20})

	h.at(t, 15)
	h.zones.err = errors.New("statement timeout")

	_, err := h.engine.Evaluate(context.Background(),
		location.Event{UserID: "U", Latitude: 40, Longitude: 0, Timestamp: h.clock}, []string{"g1"})
	require.Error(t, err)

	ids, err := h.store.ZoneState(context.Background(), "U")
	require.NoError(t, err)
	assert.Equal(t, []string{"Z"}, ids)
}

func TestDifference(t *testing.T) {
	assert.Equal(t, []string{"a", "c"}, difference([]string{"c", "b", "a"}, []string{"b"}))
	assert.Empty(t, difference(nil, []string{"x"}))
	assert.Equal(t, []string{"x"}, difference([]string{"x", "x"}, nil))
}
