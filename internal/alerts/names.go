package alerts

import (
	"context"
	"log/slog"
)

// UnknownUserName is shown when a user has no display name.
const UnknownUserName = "Unknown"

// UserNames looks up display names. An empty name means the user is unknown.
type UserNames interface {
	UserName(ctx context.Context, userID string) (string, error)
}

// NameResolver memoizes display names for the alerts of one evaluation.
// It is not safe for concurrent use; create one per batch.
type NameResolver struct {
	users  UserNames
	logger *slog.Logger
	names  map[string]string
}

// NewNameResolver returns an empty resolver.
func NewNameResolver(users UserNames, logger *slog.Logger) *NameResolver {
	return &NameResolver{users: users, logger: logger, names: make(map[string]string)}
}

// Resolve returns the user's display name, looking it up at most once. Lookup
// errors yield UnknownUserName and are not memoized.
func (r *NameResolver) Resolve(ctx context.Context, userID string) string {
	if name, ok := r.names[userID]; ok {
		return name
	}

	name, err := r.users.UserName(ctx, userID)
	if err != nil {
		r.logger.Warn("Failed to resolve user name", "user_id", userID, "error", err)
		return UnknownUserName
	}
	if name == "" {
		name = UnknownUserName
	}
	r.names[userID] = name
	return name
}
