package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hospitalityhub/platform/libs/kafkax"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
)

func TestSubscriptionChanged(t *testing.T) {
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	prev := model.Subscription{EstablishmentID: "est-1", Tier: tiers.Core, Status: model.StatusTrial}
	next := model.Subscription{EstablishmentID: "est-1", Tier: tiers.Pro, Status: model.StatusActive, EndDate: at.AddDate(0, 1, 0), Version: 3}

	evt, err := SubscriptionChanged(&prev, next, model.Change{Kind: "upgrade", Actor: model.Actor{Type: model.ActorUser, ID: "u-1"}, At: at})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if evt.EventType != SubscriptionChangedV1 || evt.AggregateID != "est-1" {
		t.Fatalf("unexpected envelope %+v", evt)
	}
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["from_tier"] != "core" || payload["tier"] != "pro" || payload["status"] != "active" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["occurred_at"] != "2026-02-01T10:00:00Z" {
		t.Fatalf("unexpected occurred_at %v", payload["occurred_at"])
	}
}

func TestSubscriptionChanged_CreatedHasNoPrevious(t *testing.T) {
	evt, err := SubscriptionChanged(nil, model.Subscription{EstablishmentID: "est-2", Tier: tiers.Core, Status: model.StatusTrial}, model.Change{Kind: "onboard"})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if _, ok := payload["from_tier"]; ok {
		t.Fatal("created subscription must not carry from_tier")
	}
}

func TestMessage(t *testing.T) {
	msg := Message(context.Background(), Record{
		ID:              7,
		EventID:         "evt-7",
		EstablishmentID: "est-1",
		EventType:       SubscriptionChangedV1,
		Payload:         []byte(`{}`),
	})
	if msg.Topic != SubscriptionChangedV1 || string(msg.Key) != "est-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "evt-7" || meta.EventType != SubscriptionChangedV1 {
		t.Fatalf("unexpected meta %+v", meta)
	}
}
