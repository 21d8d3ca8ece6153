// Package db provides a pgxpool-based connection pool with prepared statement
// registration, embedded schema migrations and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/famtrack/internal/config"
)

// Prepared statement names used on the ingest hot path.
const (
	StmtHealthCheck     = "health_check"
	StmtZonesContaining = "zones_containing_point"
	StmtZoneByID        = "zone_by_id"
	StmtApprovedGroups  = "user_approved_groups"
	StmtUserName        = "user_display_name"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, StmtHealthCheck).Scan(&n)
}

// statements are registered on every pooled connection. Zones, memberships
// and users are read on every event; prepared statements skip the parse.
var statements = map[string]string{
	StmtHealthCheck: "SELECT 1",

	// Zone membership oracle: polygon containment is decided by PostGIS.
	StmtZonesContaining: `
		SELECT id, group_id, name, type, COALESCE(target_user_id, ''), alert_on
		FROM zones
		WHERE group_id = ANY($1)
		  AND type IN ('SAFE', 'DANGER')
		  AND (target_user_id IS NULL OR target_user_id = $2)
		  AND ST_Contains(polygon, ST_SetSRID(ST_MakePoint($3, $4), 4326))
		ORDER BY id`,
	StmtZoneByID: `
		SELECT id, group_id, name, type, COALESCE(target_user_id, ''), alert_on
		FROM zones WHERE id = $1`,

	// Group membership
	StmtApprovedGroups: `
		SELECT group_id FROM group_members
		WHERE user_id = $1 AND status = 'approved'
		ORDER BY group_id`,

	// Alert composition
	StmtUserName: "SELECT name FROM users WHERE id = $1",
}

func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	for name, sql := range statements {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
