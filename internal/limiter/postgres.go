package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter: failures inside window are counted and
// reaching maxFails blocks the source for blockFor.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over any pgx querier
// (*pgxpool.Pool, a transaction, pgxmock).
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	if maxFails <= 0 {
		maxFails = 1
	}
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether the source is currently unblocked.
func (l *PG) Allow(ctx context.Context, sourceID string) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM harvest_backoff WHERE source_id=$1`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, sourceID).Scan(&blockedUntil)
	switch {
	case err == nil:
		if now := l.now(); blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for the source.
func (l *PG) Success(ctx context.Context, sourceID string) error {
	const q = `
INSERT INTO harvest_backoff (source_id, fail_count, blocked_until, updated_at)
VALUES ($1,0,'epoch',now())
ON CONFLICT (source_id)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, sourceID)
	return err
}

// Failure records a failed pass and blocks the source once the threshold is reached.
func (l *PG) Failure(ctx context.Context, sourceID string) (bool, time.Duration, error) {
	const q = `
INSERT INTO harvest_backoff (source_id, fail_count, blocked_until, updated_at)
VALUES ($1,1,'epoch',now())
ON CONFLICT (source_id) DO UPDATE
SET
  fail_count = CASE WHEN now() - harvest_backoff.updated_at > $2::interval THEN 1 ELSE harvest_backoff.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, sourceID, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const upd = `UPDATE harvest_backoff SET blocked_until=$2 WHERE source_id=$1`
	if _, err := l.pool.Exec(ctx, upd, sourceID, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
