package storage

import (
	"context"
	"time"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
	"github.com/jackc/pgx/v5"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CountEmployees excludes soft-deleted rows; activeOnly also excludes inactive
// and suspended employees.
func (r *Repository) CountEmployees(ctx context.Context, establishmentID string, activeOnly bool) (int, error) {
	return countEmployees(ctx, r.pool, establishmentID, activeOnly)
}

func (r *Repository) CountMenuItems(ctx context.Context, establishmentID string) (int, error) {
	return countMenuItems(ctx, r.pool, establishmentID)
}

// CountOrders counts orders placed in the current calendar month (UTC).
func (r *Repository) CountOrders(ctx context.Context, establishmentID string) (int, error) {
	return countOrders(ctx, r.pool, establishmentID, time.Now())
}

func countEmployees(ctx context.Context, q querier, establishmentID string, activeOnly bool) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*)
		FROM employees
		WHERE establishment_id = $1
		  AND deleted_at IS NULL
		  AND (NOT $2 OR status = 'active')
	`, establishmentID, activeOnly).Scan(&n)
	return n, err
}

func countMenuItems(ctx context.Context, q querier, establishmentID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*)
		FROM menu_items
		WHERE establishment_id = $1 AND deleted_at IS NULL
	`, establishmentID).Scan(&n)
	return n, err
}

func countOrders(ctx context.Context, q querier, establishmentID string, now time.Time) (int, error) {
	from := MonthStart(now)
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*)
		FROM orders
		WHERE establishment_id = $1 AND created_at >= $2 AND created_at < $3
	`, establishmentID, from, from.AddDate(0, 1, 0)).Scan(&n)
	return n, err
}

// lockedUsage locks the establishment row, the same lock SetEmployeeStatus takes
// before adding a seat, and counts usage inside tx.
func lockedUsage(ctx context.Context, tx pgx.Tx, establishmentID string) (usage.Snapshot, error) {
	var s usage.Snapshot
	if _, err := tx.Exec(ctx, `SELECT 1 FROM establishments WHERE id = $1 FOR UPDATE`, establishmentID); err != nil {
		return s, err
	}
	var err error
	if s.Employees, err = countEmployees(ctx, tx, establishmentID, true); err != nil {
		return usage.Snapshot{}, err
	}
	if s.MenuItems, err = countMenuItems(ctx, tx, establishmentID); err != nil {
		return usage.Snapshot{}, err
	}
	if s.Orders, err = countOrders(ctx, tx, establishmentID, time.Now()); err != nil {
		return usage.Snapshot{}, err
	}
	return s, nil
}

func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
