// Package ratelimit implements a fixed-window request limiter backed by
// Postgres, so the limit holds across all server replicas instead of being
// tracked per process.
package ratelimit

import (
	"context"
	"database/sql"
	"time"
)

type LimiterInterface interface {
	Allow(ctx context.Context, identity string) (bool, error)
	Prune(ctx context.Context) (int64, error)
}

type Limiter struct {
	DB *sql.DB

	// Limit is the number of requests allowed per Window per identity.
	Limit  int
	Window time.Duration

	Now func() time.Time
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow records one request for identity and reports whether it is within
// the window's limit. The counter row is upserted atomically, so concurrent
// requests across replicas never double-admit.
func (l *Limiter) Allow(ctx context.Context, identity string) (bool, error) {
	windowStart := l.now().UTC().Truncate(l.Window)

	var count int
	err := l.DB.QueryRowContext(ctx, `
        INSERT INTO rate_limit_windows (identity, window_start, count)
        VALUES ($1, $2, 1)
        ON CONFLICT (identity, window_start)
        DO UPDATE SET count = rate_limit_windows.count + 1
        RETURNING count`,
		identity, windowStart).Scan(&count)
	if err != nil {
		return false, err
	}
	return count <= l.Limit, nil
}

// Prune drops windows old enough that no request can touch them again.
func (l *Limiter) Prune(ctx context.Context) (int64, error) {
	cutoff := l.now().UTC().Add(-2 * l.Window)
	res, err := l.DB.ExecContext(ctx,
		`DELETE FROM rate_limit_windows WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ LimiterInterface = (*Limiter)(nil)
