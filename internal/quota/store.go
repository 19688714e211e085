package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReserveParams carries the inputs of the atomic window reservation.
type ReserveParams struct {
	Identity string
	// NewStart stamps a window created or reset by this reservation.
	NewStart time.Time
	// ExpiredBefore marks existing windows older than this as resettable.
	ExpiredBefore time.Time
	// Limit guards the increment; a full live window reserves nothing.
	Limit int
}

// Querier defines the storage operations the limiter needs.
// The interface is defined here, on the consumer side, so tests can swap in
// a mock and the pgx implementation stays a detail.
type Querier interface {
	// Reserve atomically takes one slot: it creates a missing window,
	// resets an expired one, or increments a live one while count < limit.
	// Returns ErrExhausted when the live window is full; nothing is
	// created or mutated in that case.
	Reserve(ctx context.Context, arg ReserveParams) (Record, error)

	// Get returns the current record for the identity, or ErrNotFound.
	Get(ctx context.Context, identity string) (Record, error)

	// Release returns one previously reserved slot, matching the window
	// it was taken in. Releasing into a rolled-over window is a no-op.
	Release(ctx context.Context, identity string, windowStart time.Time) error

	// PurgeExpired deletes records whose window started before the cutoff
	// and returns the number of rows removed.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// pgxQuerier is the PostgreSQL implementation of Querier.
type pgxQuerier struct {
	pool *pgxpool.Pool
}

// NewQuerier returns a Querier backed by the given connection pool.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &pgxQuerier{pool: pool}
}

// reserveSQL is the single statement behind admission. The WHERE clause on
// the conflict update is what makes the reservation safe under concurrency:
// when the live window is full, zero rows come back and nothing is written.
const reserveSQL = `
INSERT INTO quota_windows AS q (identity, window_start, count)
VALUES ($1, $2, 1)
ON CONFLICT (identity) DO UPDATE SET
    count        = CASE WHEN q.window_start < $3 THEN 1 ELSE q.count + 1 END,
    window_start = CASE WHEN q.window_start < $3 THEN $2 ELSE q.window_start END
WHERE q.window_start < $3 OR q.count < $4
RETURNING q.identity, q.window_start, q.count`

func (s *pgxQuerier) Reserve(ctx context.Context, arg ReserveParams) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, reserveSQL,
		arg.Identity, arg.NewStart, arg.ExpiredBefore, arg.Limit,
	).Scan(&rec.Identity, &rec.WindowStart, &rec.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrExhausted
	}
	if err != nil {
		return Record{}, fmt.Errorf("reserving quota slot: %w", err)
	}
	return rec, nil
}

func (s *pgxQuerier) Get(ctx context.Context, identity string) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx,
		`SELECT identity, window_start, count FROM quota_windows WHERE identity = $1`,
		identity,
	).Scan(&rec.Identity, &rec.WindowStart, &rec.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading quota record: %w", err)
	}
	return rec, nil
}

func (s *pgxQuerier) Release(ctx context.Context, identity string, windowStart time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE quota_windows SET count = count - 1
		 WHERE identity = $1 AND window_start = $2 AND count > 0`,
		identity, windowStart,
	)
	if err != nil {
		return fmt.Errorf("releasing quota slot: %w", err)
	}
	return nil
}

func (s *pgxQuerier) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM quota_windows WHERE window_start < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purging expired quota windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
