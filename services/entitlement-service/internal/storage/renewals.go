package storage

import (
	"context"
	"time"
)

type Lapsed struct {
	EstablishmentID string
	AutoRenew       bool
}

// ListLapsed returns active or trial subscriptions whose period ended before now.
func (r *Repository) ListLapsed(ctx context.Context, now time.Time, limit int) ([]Lapsed, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT establishment_id, auto_renew AND status = 'active'
		FROM subscriptions
		WHERE status IN ('active', 'trial') AND end_date < $1
		ORDER BY end_date
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lapsed
	for rows.Next() {
		var l Lapsed
		if err := rows.Scan(&l.EstablishmentID, &l.AutoRenew); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TryAdvisoryLock reports whether this process now holds key. The lock is tied
// to the pooled connection it ran on, so the caller keeps conn until unlock.
func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), ok bool, err error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}, true, nil
}
