// Package membership resolves which groups a user belongs to, reading
// through a cache that only changes on explicit invalidation.
package membership

import (
	"context"
	"fmt"
	"log/slog"
)

// Store reads approved memberships from the durable store.
type Store interface {
	ApprovedGroupIDs(ctx context.Context, userID string) ([]string, error)
}

// Cache holds group lists per user with no expiry.
type Cache interface {
	Groups(ctx context.Context, userID string) ([]string, bool, error)
	SetGroups(ctx context.Context, userID string, groupIDs []string) error
	InvalidateGroups(ctx context.Context, userIDs ...string) error
}

// Resolver is a read-through group membership cache.
type Resolver struct {
	store  Store
	cache  Cache
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(store Store, cache Cache, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, cache: cache, logger: logger}
}

// GroupIDs returns the user's approved group IDs. A cache read failure falls
// through to the store; a cache write failure is logged.
func (r *Resolver) GroupIDs(ctx context.Context, userID string) ([]string, error) {
	ids, ok, err := r.cache.Groups(ctx, userID)
	if err != nil {
		r.logger.Warn("Group cache read failed", "user_id", userID, "error", err)
	} else if ok {
		return ids, nil
	}

	ids, err = r.store.ApprovedGroupIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load groups for %s: %w", userID, err)
	}

	if err := r.cache.SetGroups(ctx, userID, ids); err != nil {
		r.logger.Warn("Group cache write failed", "user_id", userID, "error", err)
	}
	return ids, nil
}

// Invalidate drops cached entries so the next lookup reads the store.
func (r *Resolver) Invalidate(ctx context.Context, userIDs ...string) error {
	if err := r.cache.InvalidateGroups(ctx, userIDs...); err != nil {
		return fmt.Errorf("invalidate groups: %w", err)
	}
	return nil
}
