package entitlements

import (
	"errors"
	"fmt"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
)

// ErrLimitReached matches every *LimitError via errors.Is.
var ErrLimitReached = errors.New("tier limit reached")

type LimitError struct {
	Resource tiers.Resource `json:"resource"`
	Tier     tiers.TierID   `json:"tier"`
	Usage    int            `json:"usage"`
	Amount   int            `json:"amount"`
	Limit    tiers.Limit    `json:"limit"`
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("tier limit reached: you have %d %s; %s allows %s", e.Usage, e.Resource, e.Tier, e.Limit)
}

func (e *LimitError) Is(target error) bool { return target == ErrLimitReached }

// Require returns a *LimitError when amount more of r does not fit.
func (e Entitlement) Require(r tiers.Resource, amount int) error {
	limit, err := e.Tier.Limits.For(r)
	if err != nil {
		return err
	}
	if e.CanAdd(r, amount) {
		return nil
	}
	used, _ := e.Usage.Of(r)
	return &LimitError{Resource: r, Tier: e.Tier.ID, Usage: used, Amount: amount, Limit: limit}
}
