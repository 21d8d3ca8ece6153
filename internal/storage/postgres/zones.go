package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/famtrack/internal/db"
	"github.com/albapepper/famtrack/internal/zones"
)

// Containing implements zones.Oracle with PostGIS ST_Contains.
func (s *Store) Containing(ctx context.Context, q zones.Query) ([]zones.Zone, error) {
	const op = "postgres.Containing"

	if len(q.GroupIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, db.StmtZonesContaining, q.GroupIDs, q.UserID, q.Point.Lon, q.Point.Lat)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []zones.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, z)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// ByID implements zones.Lookup.
func (s *Store) ByID(ctx context.Context, id string) (zones.Zone, error) {
	const op = "postgres.ByID"

	z, err := scanZone(s.db.QueryRow(ctx, db.StmtZoneByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zones.Zone{}, zones.ErrNotFound
		}
		return zones.Zone{}, wrap(op, err)
	}
	return z, nil
}

func scanZone(row pgx.Row) (zones.Zone, error) {
	var (
		z       zones.Zone
		kind    string
		alertOn string
	)
	if err := row.Scan(&z.ID, &z.GroupID, &z.Name, &kind, &z.TargetUserID, &alertOn); err != nil {
		return zones.Zone{}, err
	}
	z.Kind = zones.Kind(kind)
	z.AlertOn = zones.AlertOn(alertOn)
	return z, nil
}
