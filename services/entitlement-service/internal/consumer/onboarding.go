package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/segmentio/kafka-go"
)

const EstablishmentApprovedV1 = "tenants.establishment.approved.v1"

type Onboarder interface {
	Onboard(ctx context.Context, establishmentID string, actor model.Actor) (model.Subscription, bool, error)
}

type establishmentApproved struct {
	EstablishmentID string `json:"establishment_id"`
}

// OnboardingHandler starts the default trial for newly approved establishments.
func OnboardingHandler(svc Onboarder, logger *slog.Logger) Handler {
	actor := model.SystemActor("onboarding")
	return func(ctx context.Context, msg kafka.Message) error {
		var evt establishmentApproved
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return Permanent(fmt.Errorf("decode %s: %w", msg.Topic, err))
		}
		id := strings.TrimSpace(evt.EstablishmentID)
		if id == "" {
			return Permanent(errors.New("establishment_id is required"))
		}
		sub, created, err := svc.Onboard(ctx, id, actor)
		if err != nil {
			return err
		}
		if !created {
			logger.Info("establishment already has a subscription", "establishment_id", id, "tier", sub.Tier, "status", sub.Status)
		}
		return nil
	}
}
