// Package listener provides a Postgres LISTEN/NOTIFY consumer that keeps the
// group membership cache honest. It holds a dedicated pgx connection (not
// from the pool) listening on the `group_membership_changed` channel.
//
// The membership layer writes group_members; a trigger fires pg_notify with
// the affected user and this consumer drops that user's cached group list.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/famtrack/internal/config"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// MembershipChanged is the JSON payload from
// pg_notify('group_membership_changed', ...).
type MembershipChanged struct {
	UserID string `json:"user_id"`
}

// Invalidator drops cached group lists.
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...string) error
}

// Start opens a dedicated connection and listens for membership changes. It
// reconnects automatically on connection loss. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, inv Invalidator, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, inv, logger)
		if ctx.Err() != nil {
			logger.Info("Membership listener stopped (context cancelled)")
			return
		}

		logger.Error("Membership listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, inv Invalidator, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+config.MembershipChannel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", config.MembershipChannel, err)
	}
	logger.Info("Membership listener connected", "channel", config.MembershipChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		handle(ctx, notification.Payload, inv, logger)
	}
}

// handle invalidates the user named in payload. Invalidation is a single
// Redis DEL, so it runs inline.
func handle(ctx context.Context, payload string, inv Invalidator, logger *slog.Logger) {
	event, err := parsePayload(payload)
	if err != nil {
		logger.Warn("Failed to parse membership event", "payload", payload, "error", err)
		return
	}

	if err := inv.Invalidate(ctx, event.UserID); err != nil {
		logger.Warn("Failed to invalidate group cache", "user_id", event.UserID, "error", err)
		return
	}
	logger.Debug("Group cache invalidated", "user_id", event.UserID)
}

func parsePayload(payload string) (MembershipChanged, error) {
	var event MembershipChanged
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return event, err
	}
	if event.UserID == "" {
		return event, errors.New("missing user_id")
	}
	return event, nil
}
