package postgres

import (
	"context"

	"github.com/albapepper/famtrack/internal/alerts"
)

const insertAlertSQL = `
	INSERT INTO alerts (id, group_id, user_id, zone_id, event_type, created_at)
	VALUES ($1::uuid, $2, $3, NULLIF($4, ''), $5, $6)`

// InsertAlert persists one alert row.
func (s *Store) InsertAlert(ctx context.Context, a alerts.Alert) error {
	const op = "postgres.InsertAlert"

	_, err := s.db.Exec(ctx, insertAlertSQL,
		a.ID, a.GroupID, a.UserID, a.ZoneID, string(a.Type), a.CreatedAt.UTC())
	if err != nil {
		return wrap(op, err)
	}
	return nil
}
