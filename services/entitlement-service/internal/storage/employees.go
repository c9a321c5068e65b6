package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// SeatGuard decides whether one more active employee fits, given the count of
// currently active employees. It runs while the establishment row is locked.
type SeatGuard func(ctx context.Context, establishmentID string, activeEmployees int) error

// SetEmployeeStatus changes one employee's status. Moving into a seat-holding
// status locks the establishment so two concurrent activations cannot both pass
// the guard.
func (r *Repository) SetEmployeeStatus(ctx context.Context, employeeID string, status model.EmployeeStatus, actor model.Actor, guard SeatGuard) (model.Employee, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Employee{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var e model.Employee
	var current string
	err = tx.QueryRow(ctx, `
		SELECT id, establishment_id, name, status
		FROM employees
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, employeeID).Scan(&e.ID, &e.EstablishmentID, &e.Name, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Employee{}, fmt.Errorf("employee %s: %w", employeeID, ErrNotFound)
		}
		return model.Employee{}, err
	}
	e.Status = model.EmployeeStatus(current)
	if e.Status == status {
		return e, tx.Commit(ctx)
	}

	if status.SeatHolder() && !e.Status.SeatHolder() {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM establishments WHERE id = $1 FOR UPDATE`, e.EstablishmentID); err != nil {
			return model.Employee{}, err
		}
		var active int
		if err := tx.QueryRow(ctx, `
			SELECT count(*)
			FROM employees
			WHERE establishment_id = $1 AND deleted_at IS NULL AND status = 'active'
		`, e.EstablishmentID).Scan(&active); err != nil {
			return model.Employee{}, err
		}
		if err := guard(ctx, e.EstablishmentID, active); err != nil {
			return model.Employee{}, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE employees
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, employeeID, string(status)); err != nil {
		return model.Employee{}, err
	}
	if err := insertAuditEvent(ctx, tx, AuditEvent{
		EventType:       "entitlements.employee.status_changed",
		ActorType:       actor.Type,
		ActorID:         actor.ID,
		EstablishmentID: e.EstablishmentID,
		Metadata:        []byte(fmt.Sprintf(`{"employee_id":%q,"from":%q,"to":%q}`, employeeID, current, status)),
	}); err != nil {
		return model.Employee{}, fmt.Errorf("insert audit event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Employee{}, err
	}
	e.Status = status
	return e, nil
}
