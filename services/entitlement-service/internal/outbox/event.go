package outbox

import (
	"encoding/json"
	"time"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
)

const SubscriptionChangedV1 = "entitlements.subscription.changed.v1"

// Event is the envelope written to the outbox table. The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type subscriptionChanged struct {
	EstablishmentID string `json:"establishment_id"`
	Kind            string `json:"kind"`
	FromTier        string `json:"from_tier,omitempty"`
	FromStatus      string `json:"from_status,omitempty"`
	Tier            string `json:"tier"`
	Status          string `json:"status"`
	EndDate         string `json:"end_date"`
	AutoRenew       bool   `json:"auto_renew"`
	Version         int64  `json:"version"`
	ActorType       string `json:"actor_type"`
	OccurredAt      string `json:"occurred_at"`
}

// SubscriptionChanged builds the event for a committed write. prev is nil for a
// newly created subscription.
func SubscriptionChanged(prev *model.Subscription, next model.Subscription, change model.Change) (Event, error) {
	p := subscriptionChanged{
		EstablishmentID: next.EstablishmentID,
		Kind:            change.Kind,
		Tier:            string(next.Tier),
		Status:          string(next.Status),
		EndDate:         next.EndDate.UTC().Format(time.RFC3339),
		AutoRenew:       next.AutoRenew,
		Version:         next.Version,
		ActorType:       change.Actor.Type,
		OccurredAt:      change.At.UTC().Format(time.RFC3339),
	}
	if prev != nil {
		p.FromTier = string(prev.Tier)
		p.FromStatus = string(prev.Status)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "subscription",
		AggregateID:   next.EstablishmentID,
		EventType:     SubscriptionChangedV1,
		Payload:       payload,
	}, nil
}
