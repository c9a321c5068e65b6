// Package staff changes employee roster status while keeping active employees
// within the tier's seat limit.
package staff

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/entitlements"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/storage"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
)

type Store interface {
	SetEmployeeStatus(ctx context.Context, employeeID string, status model.EmployeeStatus, actor model.Actor, guard storage.SeatGuard) (model.Employee, error)
}

type SubscriptionLoader interface {
	LoadSubscription(ctx context.Context, establishmentID string) (model.Subscription, error)
}

type Service struct {
	store    Store
	subs     SubscriptionLoader
	resolver *entitlements.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

func New(store Store, subs SubscriptionLoader, catalog tiers.Lookup, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		subs:     subs,
		resolver: entitlements.NewResolver(catalog),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) SetStatus(ctx context.Context, employeeID string, status model.EmployeeStatus, actor model.Actor) (model.Employee, error) {
	e, err := s.store.SetEmployeeStatus(ctx, employeeID, status, actor, s.seatAvailable)
	if err != nil {
		return model.Employee{}, err
	}
	s.logger.Info("employee status changed", "employee_id", employeeID, "establishment_id", e.EstablishmentID, "status", status)
	return e, nil
}

// seatAvailable runs with the establishment locked and the active count taken
// inside the same transaction.
func (s *Service) seatAvailable(ctx context.Context, establishmentID string, activeEmployees int) error {
	sub, err := s.subs.LoadSubscription(ctx, establishmentID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	// A missing subscription resolves like a lapsed one: Core limits.
	ent, err := s.resolver.Resolve(sub, usage.Snapshot{Employees: activeEmployees}, s.now())
	if err != nil {
		return err
	}
	return ent.Require(tiers.Employees, 1)
}
