// Package tiers holds the subscription tier catalog: what each tier costs,
// how much of each resource it allows and which features it unlocks.
package tiers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownTier     = errors.New("unknown tier")
	ErrUnknownResource = errors.New("unknown resource")
)

// TierID is the closed set of tiers. Adding one means revisiting every switch on TierID.
type TierID string

const (
	Core       TierID = "core"
	Pro        TierID = "pro"
	Enterprise TierID = "enterprise"
)

// Ordered lists the tiers lowest first; display order follows it.
var Ordered = []TierID{Core, Pro, Enterprise}

func ParseTierID(raw string) (TierID, error) {
	id := TierID(strings.ToLower(strings.TrimSpace(raw)))
	switch id {
	case Core, Pro, Enterprise:
		return id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
	}
}

// Rank orders tiers; zero means the id is not a tier.
func (id TierID) Rank() int {
	switch id {
	case Core:
		return 1
	case Pro:
		return 2
	case Enterprise:
		return 3
	default:
		return 0
	}
}

func (id TierID) Valid() bool { return id.Rank() > 0 }

func (id TierID) Higher(other TierID) bool { return id.Rank() > other.Rank() }

// Resource is a countable thing a tier puts a ceiling on.
type Resource string

const (
	Employees Resource = "employees"
	MenuItems Resource = "menuItems"
	Orders    Resource = "orders"
)

var Resources = []Resource{Employees, MenuItems, Orders}

func ParseResource(raw string) (Resource, error) {
	switch r := Resource(strings.TrimSpace(raw)); r {
	case Employees, MenuItems, Orders:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, raw)
	}
}

type Limits struct {
	Employees Limit
	MenuItems Limit
	Orders    Limit
}

func (l Limits) For(r Resource) (Limit, error) {
	switch r {
	case Employees:
		return l.Employees, nil
	case MenuItems:
		return l.MenuItems, nil
	case Orders:
		return l.Orders, nil
	default:
		return Limit{}, fmt.Errorf("%w: %q", ErrUnknownResource, r)
	}
}

type Price struct {
	Monthly  decimal.Decimal
	Yearly   decimal.Decimal
	Currency string
}

func (p Price) Equal(o Price) bool {
	return p.Currency == o.Currency && p.Monthly.Equal(o.Monthly) && p.Yearly.Equal(o.Yearly)
}

// Tier is immutable once it is part of a catalog snapshot; accessors hand out copies.
type Tier struct {
	ID             TierID
	Name           string
	Price          Price
	Limits         Limits
	Features       FeatureSet
	RecommendedFor []string
}

func (t Tier) HasFeature(f Feature) bool { return t.Features.Has(f) }

func (t Tier) clone() Tier {
	t.RecommendedFor = append([]string(nil), t.RecommendedFor...)
	return t
}

func (t Tier) Equal(o Tier) bool {
	if t.ID != o.ID || t.Name != o.Name || !t.Price.Equal(o.Price) || t.Limits != o.Limits || t.Features != o.Features {
		return false
	}
	if len(t.RecommendedFor) != len(o.RecommendedFor) {
		return false
	}
	for i := range t.RecommendedFor {
		if t.RecommendedFor[i] != o.RecommendedFor[i] {
			return false
		}
	}
	return true
}
