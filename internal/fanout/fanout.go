// Package fanout publishes live location updates and alerts to real-time
// subscribers over Redis pub/sub.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// LiveUpdate is the payload on the live location channel: the event plus the
// groups whose members should see it.
type LiveUpdate struct {
	UserID    string    `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	GroupIDs  []string  `json:"groupIds"`
}

// Ref is an id/name pair.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AlertMessage is the payload on the alerts channel.
type AlertMessage struct {
	Type      string    `json:"type"`
	User      Ref       `json:"user"`
	Area      *Ref      `json:"area,omitempty"`
	GroupID   string    `json:"groupId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Publisher sends fanout messages.
type Publisher struct {
	rdb          *goredis.Client
	liveChannel  string
	alertChannel string
}

// NewPublisher returns a publisher for the given channels.
func NewPublisher(rdb *goredis.Client, liveChannel, alertChannel string) *Publisher {
	return &Publisher{rdb: rdb, liveChannel: liveChannel, alertChannel: alertChannel}
}

// PublishLocation sends a live update. Delivery is best effort.
func (p *Publisher) PublishLocation(ctx context.Context, u LiveUpdate) error {
	if u.GroupIDs == nil {
		u.GroupIDs = []string{}
	}
	return p.publish(ctx, p.liveChannel, u)
}

// PublishAlert sends an alert to the alerts channel.
func (p *Publisher) PublishAlert(ctx context.Context, m AlertMessage) error {
	return p.publish(ctx, p.alertChannel, m)
}

func (p *Publisher) publish(ctx context.Context, channel string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", channel, err)
	}
	if err := p.rdb.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Message is a raw payload received by a subscriber.
type Message struct {
	Channel string
	Payload []byte
}

// Subscribe streams messages from the given channels until ctx is cancelled.
// The subscription is confirmed before Subscribe returns.
func Subscribe(ctx context.Context, rdb *goredis.Client, channels ...string) (<-chan Message, error) {
	sub := rdb.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
