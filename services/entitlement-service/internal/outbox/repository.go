package outbox

import (
	"context"
	"fmt"
	"time"

	otelx "github.com/hospitalityhub/platform/libs/otel"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// Repository keeps subscription change events in outbox_events. Every method
// runs in a caller-owned transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Append records the change from prev to next in the same transaction as the
// subscription write, so the event is published iff the write commits.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, prev *model.Subscription, next model.Subscription, change model.Change) error {
	evt, err := SubscriptionChanged(prev, next, change)
	if err != nil {
		return fmt.Errorf("build %s: %w", SubscriptionChangedV1, err)
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate)
	if err != nil {
		return fmt.Errorf("append %s for %s: %w", evt.EventType, evt.AggregateID, err)
	}
	return nil
}

// Record is an unpublished subscription change.
type Record struct {
	ID              int64
	EventID         string
	EstablishmentID string
	EventType       string
	Payload         []byte
	Traceparent     string
	Tracestate      string
	CreatedAt       time.Time
}

// Claim locks up to limit unpublished subscription events in commit order.
// Concurrent publishers skip rows another one holds.
func (r *Repository) Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_id, event_type, payload,
		       COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at
		FROM outbox_events
		WHERE published_at IS NULL AND aggregate_type = 'subscription'
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rcd Record
		err := row.Scan(&rcd.ID, &rcd.EventID, &rcd.EstablishmentID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt)
		return rcd, err
	})
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("mark %d outbox events published: %w", len(ids), err)
	}
	return nil
}
