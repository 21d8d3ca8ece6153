package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/famtrack/internal/location"
)

const lastPointsSQL = `
	SELECT DISTINCT ON (user_id) id::text, user_id, latitude, longitude, recorded_at
	FROM location_events
	WHERE user_id = ANY($1)
	ORDER BY user_id, recorded_at DESC`

const insertLocationsSQL = `
	INSERT INTO location_events (id, user_id, latitude, longitude, geo_point, recorded_at)
	SELECT b.id::uuid, b.user_id, b.lat, b.lon,
	       ST_SetSRID(ST_MakePoint(b.lon, b.lat), 4326)::geography,
	       b.recorded_at
	FROM unnest($1::text[], $2::text[], $3::float8[], $4::float8[], $5::timestamptz[])
	  AS b(id, user_id, lat, lon, recorded_at)`

const deleteExpiredSQL = `DELETE FROM location_events WHERE recorded_at < $1`

// LastPoints returns the most recent persisted point per user, in one query.
// Users with no history are absent from the map.
func (s *Store) LastPoints(ctx context.Context, userIDs []string) (map[string]location.Persisted, error) {
	const op = "postgres.LastPoints"

	out := make(map[string]location.Persisted, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, lastPointsSQL, userIDs)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p location.Persisted
		if err := rows.Scan(&p.ID, &p.UserID, &p.Latitude, &p.Longitude, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// InsertLocations bulk-inserts events as location_events rows in a single
// statement. Returns the number of rows written.
func (s *Store) InsertLocations(ctx context.Context, events []location.Event) (int64, error) {
	const op = "postgres.InsertLocations"

	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]string, len(events))
	users := make([]string, len(events))
	lats := make([]float64, len(events))
	lons := make([]float64, len(events))
	stamps := make([]time.Time, len(events))
	for i, ev := range events {
		ids[i] = uuid.NewString()
		users[i] = ev.UserID
		lats[i] = ev.Latitude
		lons[i] = ev.Longitude
		stamps[i] = ev.Timestamp.UTC()
	}

	tag, err := s.db.Exec(ctx, insertLocationsSQL, ids, users, lats, lons, stamps)
	if err != nil {
		return 0, wrap(op, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteLocationsBefore removes history recorded before cutoff.
func (s *Store) DeleteLocationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "postgres.DeleteLocationsBefore"

	tag, err := s.db.Exec(ctx, deleteExpiredSQL, cutoff.UTC())
	if err != nil {
		return 0, wrap(op, err)
	}
	return tag.RowsAffected(), nil
}
