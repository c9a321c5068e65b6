package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hospitalityhub/platform/libs/db"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/outbox"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = model.ErrNotFound
	ErrConflict = model.ErrConflict
)

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

func (r *Repository) LoadEstablishment(ctx context.Context, id string) (model.Establishment, error) {
	var e model.Establishment
	var typ string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, type, is_approved
		FROM establishments
		WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &typ, &e.IsApproved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Establishment{}, fmt.Errorf("establishment %s: %w", id, ErrNotFound)
		}
		return model.Establishment{}, err
	}
	e.Type = model.EstablishmentType(typ)
	return e, nil
}

const subscriptionColumns = `establishment_id, tier, status, billing_cycle, start_date, end_date, auto_renew, version, updated_at`

func scanSubscription(row pgx.Row) (model.Subscription, error) {
	var s model.Subscription
	var tier, status, cycle string
	if err := row.Scan(&s.EstablishmentID, &tier, &status, &cycle, &s.StartDate, &s.EndDate, &s.AutoRenew, &s.Version, &s.UpdatedAt); err != nil {
		return model.Subscription{}, err
	}
	s.Tier = tiers.TierID(tier)
	s.Status = model.Status(status)
	s.Cycle = model.BillingCycle(cycle)
	return s, nil
}

func (r *Repository) LoadSubscription(ctx context.Context, establishmentID string) (model.Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE establishment_id = $1
	`, establishmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, fmt.Errorf("subscription %s: %w", establishmentID, ErrNotFound)
		}
		return model.Subscription{}, err
	}
	return s, nil
}

// UsageCheck re-validates a transition against usage counted under the
// establishment lock.
type UsageCheck func(snap usage.Snapshot) error

// SaveSubscription commits next only if the row still carries prev.Version. The
// subscription update, the audit row and the outbox event share one transaction.
//
// When check is non-nil the establishment row is locked first and usage is
// recounted, so a concurrent seat activation either commits before the recount
// or reads the new tier after this commit. Lock order: establishments, then
// subscriptions.
func (r *Repository) SaveSubscription(ctx context.Context, prev, next model.Subscription, change model.Change, check UsageCheck) (model.Subscription, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Subscription{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if check != nil {
		snap, err := lockedUsage(ctx, tx, prev.EstablishmentID)
		if err != nil {
			return model.Subscription{}, fmt.Errorf("%w: %w", usage.ErrUsageUnavailable, err)
		}
		if err := check(snap); err != nil {
			return model.Subscription{}, err
		}
	}

	saved, err := scanSubscription(tx.QueryRow(ctx, `
		UPDATE subscriptions
		SET tier = $3,
		    status = $4,
		    billing_cycle = $5,
		    start_date = $6,
		    end_date = $7,
		    auto_renew = $8,
		    version = version + 1,
		    updated_at = now()
		WHERE establishment_id = $1 AND version = $2
		RETURNING `+subscriptionColumns,
		prev.EstablishmentID, prev.Version, string(next.Tier), string(next.Status), string(next.Cycle), next.StartDate, next.EndDate, next.AutoRenew))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, fmt.Errorf("subscription %s at version %d: %w", prev.EstablishmentID, prev.Version, ErrConflict)
		}
		return model.Subscription{}, err
	}

	if err := r.recordChange(ctx, tx, &prev, saved, change); err != nil {
		return model.Subscription{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Subscription{}, err
	}
	return saved, nil
}

// CreateSubscription returns ErrConflict when the establishment already has one.
func (r *Repository) CreateSubscription(ctx context.Context, sub model.Subscription, change model.Change) (model.Subscription, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Subscription{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	saved, err := scanSubscription(tx.QueryRow(ctx, `
		INSERT INTO subscriptions (establishment_id, tier, status, billing_cycle, start_date, end_date, auto_renew)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (establishment_id) DO NOTHING
		RETURNING `+subscriptionColumns,
		sub.EstablishmentID, string(sub.Tier), string(sub.Status), string(sub.Cycle), sub.StartDate, sub.EndDate, sub.AutoRenew))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, fmt.Errorf("subscription %s already exists: %w", sub.EstablishmentID, ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return model.Subscription{}, fmt.Errorf("establishment %s: %w", sub.EstablishmentID, ErrNotFound)
		}
		return model.Subscription{}, err
	}

	if err := r.recordChange(ctx, tx, nil, saved, change); err != nil {
		return model.Subscription{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Subscription{}, err
	}
	return saved, nil
}

func (r *Repository) recordChange(ctx context.Context, tx pgx.Tx, prev *model.Subscription, next model.Subscription, change model.Change) error {
	meta := map[string]any{
		"kind":    change.Kind,
		"tier":    next.Tier,
		"status":  next.Status,
		"version": next.Version,
	}
	if prev != nil {
		meta["from_tier"] = prev.Tier
		meta["from_status"] = prev.Status
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := insertAuditEvent(ctx, tx, AuditEvent{
		EventType:       "entitlements.subscription." + change.Kind,
		ActorType:       change.Actor.Type,
		ActorID:         change.Actor.ID,
		EstablishmentID: next.EstablishmentID,
		RequestID:       change.RequestID,
		Metadata:        metadata,
	}); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return r.outbox.Append(ctx, tx, prev, next, change)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
