// Package queue is the inbound event queue fed by tracked-device gateways.
// Producers LPUSH, the ingest consumer BRPOPs, so events leave in arrival
// order.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/albapepper/famtrack/internal/location"
)

// ErrEmpty is returned by Pop when nothing arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Queue is a Redis list of JSON location events.
type Queue struct {
	rdb *goredis.Client
	key string
}

// New returns a queue stored under key.
func New(rdb *goredis.Client, key string) *Queue {
	return &Queue{rdb: rdb, key: key}
}

// Enqueue publishes an event for ingestion.
func (q *Queue) Enqueue(ctx context.Context, ev location.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return q.rdb.LPush(ctx, q.key, b).Err()
}

// Pop blocks up to timeout for the next raw payload. Decoding is left to the
// caller so malformed payloads can be logged with their content.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	if len(res) < 2 {
		return nil, ErrEmpty
	}
	return []byte(res[1]), nil
}

// Len returns the number of queued events.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
