package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/famtrack/internal/db"
)

const knownUsersSQL = `SELECT id FROM users WHERE id = ANY($1)`

// KnownUsers returns the subset of userIDs present in the users table.
func (s *Store) KnownUsers(ctx context.Context, userIDs []string) (map[string]struct{}, error) {
	const op = "postgres.KnownUsers"

	known := make(map[string]struct{}, len(userIDs))
	if len(userIDs) == 0 {
		return known, nil
	}

	rows, err := s.db.Query(ctx, knownUsersSQL, userIDs)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		known[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return known, nil
}

// UserName returns the display name, or "" when the user does not exist.
func (s *Store) UserName(ctx context.Context, userID string) (string, error) {
	const op = "postgres.UserName"

	var name string
	if err := s.db.QueryRow(ctx, db.StmtUserName, userID).Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", wrap(op, err)
	}
	return name, nil
}

// ApprovedGroupIDs returns the groups where userID's membership is approved.
func (s *Store) ApprovedGroupIDs(ctx context.Context, userID string) ([]string, error) {
	const op = "postgres.ApprovedGroupIDs"

	rows, err := s.db.Query(ctx, db.StmtApprovedGroups, userID)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return ids, nil
}
