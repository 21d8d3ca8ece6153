package buffer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/famtrack/internal/location"
)

const testKey = "locations:pending"

func newPending(t *testing.T) (*Pending, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, testKey, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func event(user string, i int) location.Event {
	return location.Event{
		UserID:    user,
		Latitude:  10 + float64(i)*0.001,
		Longitude: 20,
		Timestamp: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

func TestDrainReturnsAppendOrderAndEmpties(t *testing.T) {
	p, mr := newPending(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Append(ctx, event("u1", i)))
	}

	got, err := p.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, ev := range got {
		assert.True(t, ev.Timestamp.Equal(event("u1", i).Timestamp))
	}
	assert.False(t, mr.Exists(testKey))

	n, err := p.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainEmptyBuffer(t *testing.T) {
	p, _ := newPending(t)

	got, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDrainSkipsMalformedEntries(t *testing.T) {
	p, mr := newPending(t)
	ctx := context.Background()

	require.NoError(t, p.Append(ctx, event("u1", 0)))
	_, err := mr.Push(testKey, "{broken")
	require.NoError(t, err)
	require.NoError(t, p.Append(ctx, event("u1", 1)))

	got, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// Every appended event is returned by exactly one drain, even when appends
// race with drains.
func TestConcurrentAppendAndDrainLosesNothing(t *testing.T) {
	p, _ := newPending(t)
	ctx := context.Background()

	const writers, perWriter = 4, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, p.Append(ctx, event(fmt.Sprintf("u%d", w), i)))
			}
		}(w)
	}

	seen := make(map[string]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drainInto := func() {
		got, err := p.Drain(ctx)
		require.NoError(t, err)
		for _, ev := range got {
			seen[fmt.Sprintf("%s/%s", ev.UserID, ev.Timestamp)]++
		}
	}

loop:
	for {
		select {
		case <-done:
			break loop
		default:
			drainInto()
		}
	}
	drainInto()

	assert.Len(t, seen, writers*perWriter)
	for k, n := range seen {
		assert.Equal(t, 1, n, "event %s drained more than once", k)
	}
}
