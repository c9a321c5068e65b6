// Package usage measures how much of each tier-limited resource an establishment consumes.
package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hospitalityhub/platform/libs/resilience"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
)

// ErrUsageUnavailable means consumption could not be measured. Callers must treat
// it as unknown and deny, never as zero.
var ErrUsageUnavailable = errors.New("usage unavailable")

// Source is the read-only collaborator that owns the counted collections.
type Source interface {
	CountEmployees(ctx context.Context, establishmentID string, activeOnly bool) (int, error)
	CountMenuItems(ctx context.Context, establishmentID string) (int, error)
	CountOrders(ctx context.Context, establishmentID string) (int, error)
}

// Snapshot is computed per call and never stored.
type Snapshot struct {
	Employees int `json:"employees"`
	MenuItems int `json:"menuItems"`
	Orders    int `json:"orders"`
}

func (s Snapshot) Of(r tiers.Resource) (int, error) {
	switch r {
	case tiers.Employees:
		return s.Employees, nil
	case tiers.MenuItems:
		return s.MenuItems, nil
	case tiers.Orders:
		return s.Orders, nil
	default:
		return 0, fmt.Errorf("%w: %q", tiers.ErrUnknownResource, r)
	}
}

// Counter holds no usage state; the breaker only tracks collaborator health.
type Counter struct {
	src     Source
	breaker *resilience.Breaker
}

func NewCounter(src Source, breaker *resilience.Breaker) *Counter {
	return &Counter{src: src, breaker: breaker}
}

// Count measures one resource. Employees are counted active-only: an inactive,
// suspended or removed employee does not hold a seat.
func (c *Counter) Count(ctx context.Context, establishmentID string, r tiers.Resource) (int, error) {
	var n int
	call := func() error {
		var err error
		switch r {
		case tiers.Employees:
			n, err = c.src.CountEmployees(ctx, establishmentID, true)
		case tiers.MenuItems:
			n, err = c.src.CountMenuItems(ctx, establishmentID)
		case tiers.Orders:
			n, err = c.src.CountOrders(ctx, establishmentID)
		default:
			return fmt.Errorf("%w: %q", tiers.ErrUnknownResource, r)
		}
		if err == nil && n < 0 {
			err = fmt.Errorf("negative count %d", n)
		}
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Do(call, isCallerError)
	} else {
		err = call()
	}
	if err != nil {
		if isCallerError(err) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %s: %w", ErrUsageUnavailable, r, err)
	}
	return n, nil
}

func (c *Counter) Snapshot(ctx context.Context, establishmentID string) (Snapshot, error) {
	var s Snapshot
	for _, f := range []struct {
		r   tiers.Resource
		dst *int
	}{
		{tiers.Employees, &s.Employees},
		{tiers.MenuItems, &s.MenuItems},
		{tiers.Orders, &s.Orders},
	} {
		n, err := c.Count(ctx, establishmentID, f.r)
		if err != nil {
			return Snapshot{}, err
		}
		*f.dst = n
	}
	return s, nil
}

func isCallerError(err error) bool {
	return errors.Is(err, tiers.ErrUnknownResource)
}
