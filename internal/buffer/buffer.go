// Package buffer is the shared pending buffer of accepted location events
// awaiting the next flush. Appends are concurrent; a drain atomically takes
// everything present and leaves the buffer empty.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/albapepper/famtrack/internal/location"
)

// Pending is a Redis list of JSON-encoded events.
type Pending struct {
	rdb    *goredis.Client
	key    string
	logger *slog.Logger
}

// New returns a buffer stored under key.
func New(rdb *goredis.Client, key string, logger *slog.Logger) *Pending {
	return &Pending{rdb: rdb, key: key, logger: logger}
}

// Append adds an event to the tail of the buffer.
func (p *Pending) Append(ctx context.Context, ev location.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.key, b).Err(); err != nil {
		return fmt.Errorf("append to buffer: %w", err)
	}
	return nil
}

// Drain reads and deletes the whole buffer in one MULTI/EXEC transaction.
// Appends that land after the transaction stay for the next drain. Entries
// that fail to decode are logged and dropped.
func (p *Pending) Drain(ctx context.Context) ([]location.Event, error) {
	var lrange *goredis.StringSliceCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		lrange = pipe.LRange(ctx, p.key, 0, -1)
		pipe.Del(ctx, p.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain buffer: %w", err)
	}

	raw := lrange.Val()
	events := make([]location.Event, 0, len(raw))
	for _, item := range raw {
		var ev location.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			p.logger.Warn("Dropping malformed buffered event", "payload", item, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Len returns the number of buffered events.
func (p *Pending) Len(ctx context.Context) (int64, error) {
	return p.rdb.LLen(ctx, p.key).Result()
}
