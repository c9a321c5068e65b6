// Package entitlements turns a subscription plus live usage into what an
// establishment may do right now.
package entitlements

import (
	"time"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
)

// Entitlement is computed per call and must not be kept around.
type Entitlement struct {
	EstablishmentID string
	// StoredTier is what the subscription row says, kept for display.
	StoredTier tiers.TierID
	Status     model.Status
	// Tier is the tier whose limits and features actually apply.
	Tier  tiers.Tier
	Live  bool
	Usage usage.Snapshot
}

// CanAdd is false precisely when usage+amount passes a finite limit.
func (e Entitlement) CanAdd(r tiers.Resource, amount int) bool {
	if amount < 0 {
		return false
	}
	limit, err := e.Tier.Limits.For(r)
	if err != nil {
		return false
	}
	n, err := e.Usage.Of(r)
	if err != nil {
		return false
	}
	return limit.Allows(n, amount)
}

// Headroom returns how many more of r fit; unlimited is true when there is no ceiling.
func (e Entitlement) Headroom(r tiers.Resource) (n int, unlimited bool) {
	limit, err := e.Tier.Limits.For(r)
	if err != nil {
		return 0, false
	}
	used, err := e.Usage.Of(r)
	if err != nil {
		return 0, false
	}
	n, ok := limit.Remaining(used)
	return n, !ok
}

// HasFeature fails closed: a flag this build does not know is never granted.
func (e Entitlement) HasFeature(flag string) bool {
	f, ok := tiers.ParseFeature(flag)
	if !ok {
		return false
	}
	return e.Tier.HasFeature(f)
}

func (e Entitlement) Features() []tiers.Feature { return e.Tier.Features.List() }

// Resolver holds only the catalog it reads from.
type Resolver struct {
	catalog tiers.Lookup
}

func NewResolver(catalog tiers.Lookup) *Resolver {
	return &Resolver{catalog: catalog}
}

func (r *Resolver) Resolve(sub model.Subscription, snap usage.Snapshot, now time.Time) (Entitlement, error) {
	effective := EffectiveTier(sub, now)
	tier, err := r.catalog.Get(effective)
	if err != nil {
		return Entitlement{}, err
	}
	return Entitlement{
		EstablishmentID: sub.EstablishmentID,
		StoredTier:      sub.Tier,
		Status:          sub.Status,
		Tier:            tier,
		Live:            sub.Live(now),
		Usage:           snap,
	}, nil
}

// EffectiveTier falls back to Core whenever the subscription is not live, so a
// cancelled or lapsed paid tier never keeps its privileges.
func EffectiveTier(sub model.Subscription, now time.Time) tiers.TierID {
	if !sub.Live(now) {
		return tiers.Core
	}
	switch sub.Tier {
	case tiers.Core, tiers.Pro, tiers.Enterprise:
		return sub.Tier
	default:
		return tiers.Core
	}
}
