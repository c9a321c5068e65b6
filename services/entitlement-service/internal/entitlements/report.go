package entitlements

import (
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
)

type ResourceReport struct {
	Limit     tiers.Limit `json:"limit"`
	Usage     int         `json:"usage"`
	Remaining *int        `json:"remaining,omitempty"`
	CanAdd    bool        `json:"can_add"`
}

// Report is the wire shape handed to dashboards.
type Report struct {
	EstablishmentID string                            `json:"establishment_id"`
	Tier            tiers.TierID                      `json:"tier"`
	StoredTier      tiers.TierID                      `json:"stored_tier"`
	Status          string                            `json:"status"`
	Live            bool                              `json:"live"`
	Usage           usage.Snapshot                    `json:"usage"`
	Resources       map[tiers.Resource]ResourceReport `json:"resources"`
	Features        []tiers.Feature                   `json:"features"`
}

func (e Entitlement) Report() Report {
	resources := make(map[tiers.Resource]ResourceReport, len(tiers.Resources))
	for _, r := range tiers.Resources {
		limit, _ := e.Tier.Limits.For(r)
		used, _ := e.Usage.Of(r)
		rr := ResourceReport{Limit: limit, Usage: used, CanAdd: e.CanAdd(r, 1)}
		if n, unlimited := e.Headroom(r); !unlimited {
			rr.Remaining = &n
		}
		resources[r] = rr
	}
	return Report{
		EstablishmentID: e.EstablishmentID,
		Tier:            e.Tier.ID,
		StoredTier:      e.StoredTier,
		Status:          string(e.Status),
		Live:            e.Live,
		Usage:           e.Usage,
		Resources:       resources,
		Features:        e.Features(),
	}
}
