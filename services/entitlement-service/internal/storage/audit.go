package storage

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
)

type AuditEvent struct {
	EventType       string
	ActorType       string
	ActorID         string
	EstablishmentID string
	RequestID       string
	Metadata        []byte
}

func insertAuditEvent(ctx context.Context, tx pgx.Tx, evt AuditEvent) error {
	var payload any
	if len(evt.Metadata) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(evt.Metadata, &payload); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_type, actor_id, establishment_id, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.EventType, evt.ActorType, nullIfEmpty(evt.ActorID), nullIfEmpty(evt.EstablishmentID), nullIfEmpty(evt.RequestID), payload)
	return err
}
