// Package postgres implements the durable stores the pipeline reads and
// writes: location history, zones (read-only), group membership (read-only),
// users (read-only) and alerts.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTimeout marks a store call that ran out of time, either on the caller's
// deadline or on a server-side statement timeout.
var ErrTimeout = errors.New("postgres: timeout")

// queryCanceled is SQLSTATE 57014, raised by statement_timeout.
const queryCanceled = "57014"

// DBTX is the subset of pgxpool.Pool the stores need.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles every table-level operation behind one handle.
type Store struct {
	db DBTX
}

// New returns a Store over db.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// wrap prefixes err with op and tags timeouts with ErrTimeout so callers can
// tell a slow store from a broken one.
func wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) ||
		(errors.As(err, &pgErr) && pgErr.Code == queryCanceled) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
