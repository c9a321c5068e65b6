// Package featuregate answers "may this establishment use feature X" the same way
// for dashboards and for the handlers that perform the gated mutation.
package featuregate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hospitalityhub/platform/libs/httpx"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/entitlements"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
)

const (
	ReasonUnknownFeature          = "unknown_feature"
	ReasonNotInTier               = "not_in_tier"
	ReasonSubscriptionInactive    = "subscription_inactive"
	ReasonSubscriptionUnavailable = "subscription_unavailable"
)

type Decision struct {
	Allowed        bool         `json:"allowed"`
	Feature        string       `json:"feature"`
	Tier           tiers.TierID `json:"tier,omitempty"`
	FallbackReason string       `json:"fallback_reason,omitempty"`
}

type SubscriptionLoader interface {
	LoadSubscription(ctx context.Context, establishmentID string) (model.Subscription, error)
}

type Gate struct {
	catalog tiers.Lookup
	subs    SubscriptionLoader
	logger  *slog.Logger
	now     func() time.Time
	observe func(feature string, allowed bool)
}

func New(catalog tiers.Lookup, subs SubscriptionLoader, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{catalog: catalog, subs: subs, logger: logger, now: time.Now}
}

// OnDecision registers a hook called for every evaluated decision.
func (g *Gate) OnDecision(fn func(feature string, allowed bool)) { g.observe = fn }

// Decide depends only on its inputs and the catalog. Unknown flags are denied.
func (g *Gate) Decide(sub model.Subscription, flag string, now time.Time) Decision {
	d := Decision{Feature: flag}
	f, ok := tiers.ParseFeature(flag)
	if !ok {
		d.FallbackReason = ReasonUnknownFeature
		return d
	}

	d.Tier = entitlements.EffectiveTier(sub, now)
	tier, err := g.catalog.Get(d.Tier)
	if err != nil {
		d.FallbackReason = ReasonSubscriptionUnavailable
		return d
	}
	if tier.HasFeature(f) {
		d.Allowed = true
		return d
	}

	d.FallbackReason = ReasonNotInTier
	if !sub.Live(now) {
		if stored, err := g.catalog.Get(sub.Tier); err == nil && stored.HasFeature(f) {
			d.FallbackReason = ReasonSubscriptionInactive
		}
	}
	return d
}

// Evaluate loads the subscription and decides. It never returns an error: a
// subscription that cannot be read yields a denial.
func (g *Gate) Evaluate(ctx context.Context, establishmentID, flag string) Decision {
	d := g.evaluate(ctx, establishmentID, flag)
	if g.observe != nil {
		g.observe(flag, d.Allowed)
	}
	return d
}

func (g *Gate) evaluate(ctx context.Context, establishmentID, flag string) Decision {
	if _, ok := tiers.ParseFeature(flag); !ok {
		return Decision{Feature: flag, FallbackReason: ReasonUnknownFeature}
	}
	sub, err := g.subs.LoadSubscription(ctx, establishmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return Decision{Feature: flag, Tier: tiers.Core, FallbackReason: ReasonSubscriptionInactive}
		}
		g.logger.Warn("feature gate could not load subscription", "establishment_id", establishmentID, "feature", flag, "err", err)
		return Decision{Feature: flag, FallbackReason: ReasonSubscriptionUnavailable}
	}
	return g.Decide(sub, flag, g.now())
}

// Require rejects the request unless the caller's establishment has flag.
// The establishment id comes from the X-Establishment-Id header.
func (g *Gate) Require(flag string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			establishmentID := strings.TrimSpace(r.Header.Get("X-Establishment-Id"))
			if establishmentID == "" {
				httpx.WriteError(w, http.StatusBadRequest, "missing_establishment", "X-Establishment-Id is required", nil)
				return
			}
			d := g.Evaluate(r.Context(), establishmentID, flag)
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			if d.FallbackReason == ReasonSubscriptionUnavailable {
				httpx.WriteError(w, http.StatusServiceUnavailable, "subscription_unavailable", "can't verify your plan right now", d)
				return
			}
			httpx.WriteError(w, http.StatusForbidden, "feature_not_available", "your plan does not include "+flag, d)
		})
	}
}
