package alerts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/famtrack/internal/cache"
	"github.com/albapepper/famtrack/internal/fanout"
	"github.com/albapepper/famtrack/internal/observability"
	"github.com/albapepper/famtrack/internal/zones"
)

type mockRepo struct{ mock.Mock }

func (m *mockRepo) InsertAlert(ctx context.Context, a Alert) error {
	return m.Called(ctx, a).Error(0)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishAlert(ctx context.Context, msg fanout.AlertMessage) error {
	return m.Called(ctx, msg).Error(0)
}

type mockUsers struct{ mock.Mock }

func (m *mockUsers) UserName(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var quarry = zones.Zone{ID: "z1", GroupID: "g1", Name: "Quarry", Kind: zones.KindDanger, AlertOn: zones.AlertOnBoth}

type fixture struct {
	emitter *Emitter
	repo    *mockRepo
	pub     *mockPublisher
	users   *mockUsers
	mr      *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{repo: &mockRepo{}, pub: &mockPublisher{}, users: &mockUsers{}, mr: mr}
	f.emitter = NewEmitter(f.repo, f.pub, cache.New(rdb, cache.Options{}), observability.Nop(), discard)
	f.emitter.now = func() time.Time { return time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestTypeFor(t *testing.T) {
	assert.Equal(t, TypeDangerZoneEnter, TypeFor(zones.KindDanger, DirectionEnter))
	assert.Equal(t, TypeDangerZoneLeave, TypeFor(zones.KindDanger, DirectionLeave))
	assert.Equal(t, TypeSafeZoneEnter, TypeFor(zones.KindSafe, DirectionEnter))
	assert.Equal(t, TypeSafeZoneLeave, TypeFor(zones.KindSafe, DirectionLeave))
}

func TestEmitDeduplicatesWithinCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.users.On("UserName", mock.Anything, "u1").Return("Ana", nil).Once()
	f.repo.On("InsertAlert", mock.Anything, mock.MatchedBy(func(a Alert) bool {
		return a.Type == TypeDangerZoneEnter && a.UserName == "Ana" && a.GroupID == "g1" && a.ZoneName == "Quarry"
	})).Return(nil).Twice()
	f.pub.On("PublishAlert", mock.Anything, mock.MatchedBy(func(m fanout.AlertMessage) bool {
		return m.Type == "DANGER_ZONE_ENTER" && m.Area != nil && m.Area.ID == "z1"
	})).Return(nil).Twice()

	names := NewNameResolver(f.users, discard)
	trigger := Trigger{UserID: "u1", Zone: quarry, Direction: DirectionEnter}

	fired, err := f.emitter.Emit(ctx, trigger, names)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, cache.DefaultAlertCooldown, f.mr.TTL(cache.CooldownKey("enter", "u1", "z1")))

	fired, err = f.emitter.Emit(ctx, trigger, names)
	require.NoError(t, err)
	assert.False(t, fired, "second crossing within cooldown is suppressed")

	f.mr.FastForward(cache.DefaultAlertCooldown)

	fired, err = f.emitter.Emit(ctx, trigger, names)
	require.NoError(t, err)
	assert.True(t, fired, "cooldown expiry permits a new alert")

	f.repo.AssertExpectations(t)
	f.pub.AssertExpectations(t)
	f.users.AssertExpectations(t)
}

func TestEnterAndLeaveCooldownsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.users.On("UserName", mock.Anything, "u1").Return("Ana", nil).Once()
	f.repo.On("InsertAlert", mock.Anything, mock.Anything).Return(nil)
	f.pub.On("PublishAlert", mock.Anything, mock.Anything).Return(nil)

	names := NewNameResolver(f.users, discard)

	enter, err := f.emitter.Emit(ctx, Trigger{UserID: "u1", Zone: quarry, Direction: DirectionEnter}, names)
	require.NoError(t, err)
	leave, err := f.emitter.Emit(ctx, Trigger{UserID: "u1", Zone: quarry, Direction: DirectionLeave}, names)
	require.NoError(t, err)

	assert.True(t, enter)
	assert.True(t, leave)
	f.repo.AssertNumberOfCalls(t, "InsertAlert", 2)
}

func TestPersistFailureStillPublishesAndMarks(t *testing.T) {
	f := newFixture(t)

	f.users.On("UserName", mock.Anything, "u1").Return("Ana", nil)
	f.repo.On("InsertAlert", mock.Anything, mock.Anything).Return(errors.New("db down"))
	f.pub.On("PublishAlert", mock.Anything, mock.Anything).Return(nil).Once()

	fired, err := f.emitter.Emit(context.Background(),
		Trigger{UserID: "u1", Zone: quarry, Direction: DirectionEnter}, NewNameResolver(f.users, discard))
	require.NoError(t, err)
	assert.True(t, fired)
	assert.True(t, f.mr.Exists(cache.CooldownKey("enter", "u1", "z1")))
	f.pub.AssertExpectations(t)
}

func TestDispatchFailureLeavesNoMark(t *testing.T) {
	f := newFixture(t)

	f.users.On("UserName", mock.Anything, "u1").Return("Ana", nil)
	f.repo.On("InsertAlert", mock.Anything, mock.Anything).Return(errors.New("db down"))
	f.pub.On("PublishAlert", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	fired, err := f.emitter.Emit(context.Background(),
		Trigger{UserID: "u1", Zone: quarry, Direction: DirectionEnter}, NewNameResolver(f.users, discard))
	require.Error(t, err)
	assert.False(t, fired)
	assert.False(t, f.mr.Exists(cache.CooldownKey("enter", "u1", "z1")))
}

func TestCooldownCheckFailureFailsOpen(t *testing.T) {
	f := newFixture(t)

	f.users.On("UserName", mock.Anything, "u1").Return("Ana", nil)
	f.repo.On("InsertAlert", mock.Anything, mock.Anything).Return(nil)
	f.pub.On("PublishAlert", mock.Anything, mock.Anything).Return(nil)

	f.mr.SetError("LOADING")
	fired, err := f.emitter.Emit(context.Background(),
		Trigger{UserID: "u1", Zone: quarry, Direction: DirectionEnter}, NewNameResolver(f.users, discard))
	f.mr.SetError("")

	require.NoError(t, err)
	assert.True(t, fired)
}

func TestRaiseSOSIsNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.users.On("UserName", mock.Anything, "u1").Return("", nil).Once()
	f.repo.On("InsertAlert", mock.Anything, mock.MatchedBy(func(a Alert) bool {
		return a.Type == TypeSOS && a.ZoneID == "" && a.UserName == UnknownUserName
	})).Return(nil)
	f.pub.On("PublishAlert", mock.Anything, mock.MatchedBy(func(m fanout.AlertMessage) bool {
		return m.Type == "SOS" && m.Area == nil
	})).Return(nil)

	names := NewNameResolver(f.users, discard)
	for i := 0; i < 2; i++ {
		sent, err := f.emitter.RaiseSOS(ctx, "u1", []string{"g1", "g2"}, names)
		require.NoError(t, err)
		require.Len(t, sent, 2)
		assert.Equal(t, "g1", sent[0].GroupID)
		assert.Equal(t, "g2", sent[1].GroupID)
	}
	f.repo.AssertNumberOfCalls(t, "InsertAlert", 4)
}

func TestRaiseSOSWithoutGroups(t *testing.T) {
	f := newFixture(t)

	_, err := f.emitter.RaiseSOS(context.Background(), "u1", nil, NewNameResolver(f.users, discard))
	assert.Error(t, err)
}

func TestNameResolverDoesNotMemoizeErrors(t *testing.T) {
	users := &mockUsers{}
	users.On("UserName", mock.Anything, "u1").Return("", errors.New("timeout")).Once()
	users.On("UserName", mock.Anything, "u1").Return("Ana", nil).Once()

	r := NewNameResolver(users, discard)
	ctx := context.Background()

	assert.Equal(t, UnknownUserName, r.Resolve(ctx, "u1"))
	assert.Equal(t, "Ana", r.Resolve(ctx, "u1"))
	assert.Equal(t, "Ana", r.Resolve(ctx, "u1"))
	users.AssertExpectations(t)
}
