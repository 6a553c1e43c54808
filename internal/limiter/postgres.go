package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed fixed-window limiter. The counter is bumped with a
// single upsert so concurrent server instances share one budget.
type PG struct {
	pool pgxQuerier
	now  func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool, now: time.Now}
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter over any querier.
func NewPGWithQuerier(q pgxQuerier, now func() time.Time) *PG {
	if now == nil {
		now = time.Now
	}
	return &PG{pool: q, now: now}
}

// Check implements Limiter.
func (l *PG) Check(ctx context.Context, identifier string, limit int, window time.Duration) (Result, error) {
	wk, reset := windowOf(l.now(), window)

	const q = `
INSERT INTO rate_limits (identifier, window_key, count, reset_time)
VALUES ($1, $2, 1, $3)
ON CONFLICT (identifier, window_key)
DO UPDATE SET count = rate_limits.count + 1
RETURNING count`
	var count int
	if err := l.pool.QueryRow(ctx, q, identifier, wk, reset).Scan(&count); err != nil {
		return Result{}, err
	}
	return result(count, limit, reset), nil
}

// Peek implements Limiter.
func (l *PG) Peek(ctx context.Context, identifier string, limit int, window time.Duration) (Result, error) {
	wk, reset := windowOf(l.now(), window)

	const q = `SELECT count FROM rate_limits WHERE identifier=$1 AND window_key=$2`
	var count int
	err := l.pool.QueryRow(ctx, q, identifier, wk).Scan(&count)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Result{}, err
	}
	r := result(count, limit, reset)
	r.Allowed = count < limit
	return r, nil
}

// Cleanup implements Limiter.
func (l *PG) Cleanup(ctx context.Context) (int64, error) {
	const q = `DELETE FROM rate_limits WHERE reset_time <= $1`
	tag, err := l.pool.Exec(ctx, q, l.now())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Active implements Limiter.
func (l *PG) Active(ctx context.Context) (int64, error) {
	const q = `SELECT count(*) FROM rate_limits WHERE reset_time > $1`
	var n int64
	if err := l.pool.QueryRow(ctx, q, l.now()).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
