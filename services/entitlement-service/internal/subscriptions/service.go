// Package subscriptions runs tier transitions end to end: load, check, persist,
// and emit the change event.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hospitalityhub/platform/libs/httpx"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/entitlements"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/storage"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/transitions"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
)

// Store is the persistence collaborator. SaveSubscription must only commit when
// the stored row still has prev.Version and must return model.ErrConflict otherwise.
// A non-nil check must run against usage counted under the establishment lock.
type Store interface {
	LoadEstablishment(ctx context.Context, id string) (model.Establishment, error)
	LoadSubscription(ctx context.Context, establishmentID string) (model.Subscription, error)
	SaveSubscription(ctx context.Context, prev, next model.Subscription, change model.Change, check storage.UsageCheck) (model.Subscription, error)
	CreateSubscription(ctx context.Context, sub model.Subscription, change model.Change) (model.Subscription, error)
}

type UsageCounter interface {
	Snapshot(ctx context.Context, establishmentID string) (usage.Snapshot, error)
}

type Config struct {
	TrialPeriod  time.Duration
	DefaultCycle model.BillingCycle
}

type Service struct {
	store    Store
	usage    UsageCounter
	catalog  *tiers.Catalog
	resolver *entitlements.Resolver
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	observe  func(kind, outcome string)
}

func New(store Store, counter UsageCounter, catalog *tiers.Catalog, logger *slog.Logger, cfg Config) *Service {
	if cfg.TrialPeriod <= 0 {
		cfg.TrialPeriod = 14 * 24 * time.Hour
	}
	if cfg.DefaultCycle == "" {
		cfg.DefaultCycle = model.Monthly
	}
	return &Service{
		store:    store,
		usage:    counter,
		catalog:  catalog,
		resolver: entitlements.NewResolver(catalog),
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// OnTransition registers a hook called with the outcome of every transition attempt.
func (s *Service) OnTransition(fn func(kind, outcome string)) { s.observe = fn }

// Transition applies req to one establishment. Either the full next subscription
// is committed or nothing changes.
func (s *Service) Transition(ctx context.Context, establishmentID string, req transitions.Request, actor model.Actor) (model.Subscription, error) {
	sub, err := s.transition(ctx, establishmentID, req, actor)
	if s.observe != nil {
		s.observe(string(req.Kind), outcome(err))
	}
	if err != nil && !isExpected(err) {
		s.logger.Error("subscription transition failed", "establishment_id", establishmentID, "kind", req.Kind, "err", err)
	}
	return sub, err
}

func (s *Service) transition(ctx context.Context, establishmentID string, req transitions.Request, actor model.Actor) (model.Subscription, error) {
	if req.Kind.SystemOnly() && actor.Type != model.ActorSystem {
		return model.Subscription{}, &transitions.Error{Kind: req.Kind, Code: transitions.CodeSystemOnlyKind}
	}
	if req.Kind.NeedsTarget() && !req.Target.Valid() {
		return model.Subscription{}, fmt.Errorf("%w: %q", tiers.ErrUnknownTier, req.Target)
	}

	est, err := s.store.LoadEstablishment(ctx, establishmentID)
	if err != nil {
		return model.Subscription{}, err
	}
	current, err := s.store.LoadSubscription(ctx, establishmentID)
	if err != nil {
		return model.Subscription{}, err
	}

	var snap usage.Snapshot
	if req.Kind.NeedsUsage() {
		if snap, err = s.usage.Snapshot(ctx, establishmentID); err != nil {
			return model.Subscription{}, err
		}
	}

	now := s.now()
	view := s.catalog.Snapshot()
	next, err := transitions.Apply(req, current, est, snap, view, now)
	if err != nil {
		return current, err
	}

	// The snapshot above was taken without a lock; usage-sensitive kinds are
	// checked again inside the save transaction.
	var check storage.UsageCheck
	if req.Kind.NeedsUsage() {
		check = func(locked usage.Snapshot) error {
			_, err := transitions.Apply(req, current, est, locked, view, now)
			return err
		}
	}

	saved, err := s.store.SaveSubscription(ctx, current, next, model.Change{
		Kind:      string(req.Kind),
		Actor:     actor,
		RequestID: httpx.RequestIDFromContext(ctx),
		At:        now,
	}, check)
	if err != nil {
		return current, err
	}
	s.logger.Info("subscription transitioned",
		"establishment_id", establishmentID,
		"kind", req.Kind,
		"from_tier", current.Tier,
		"to_tier", saved.Tier,
		"status", saved.Status,
		"version", saved.Version,
	)
	return saved, nil
}

// Onboard gives a newly approved establishment its default Core trial. Calling
// it again returns the existing subscription with created=false.
func (s *Service) Onboard(ctx context.Context, establishmentID string, actor model.Actor) (sub model.Subscription, created bool, err error) {
	if _, err := s.store.LoadEstablishment(ctx, establishmentID); err != nil {
		return model.Subscription{}, false, err
	}
	existing, err := s.store.LoadSubscription(ctx, establishmentID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Subscription{}, false, err
	}

	now := s.now()
	sub, err = s.store.CreateSubscription(ctx, model.Subscription{
		EstablishmentID: establishmentID,
		Tier:            tiers.Core,
		Status:          model.StatusTrial,
		Cycle:           s.cfg.DefaultCycle,
		StartDate:       now,
		EndDate:         now.Add(s.cfg.TrialPeriod),
	}, model.Change{Kind: "onboard", Actor: actor, RequestID: httpx.RequestIDFromContext(ctx), At: now})
	if errors.Is(err, model.ErrConflict) {
		existing, err := s.store.LoadSubscription(ctx, establishmentID)
		return existing, false, err
	}
	if err != nil {
		return model.Subscription{}, false, err
	}
	s.logger.Info("subscription onboarded", "establishment_id", establishmentID, "tier", sub.Tier, "trial_ends", sub.EndDate)
	return sub, true, nil
}

// Subscription returns the stored subscription as-is.
func (s *Service) Subscription(ctx context.Context, establishmentID string) (model.Subscription, error) {
	return s.store.LoadSubscription(ctx, establishmentID)
}

// Entitlement recomputes the establishment's entitlement from fresh usage.
func (s *Service) Entitlement(ctx context.Context, establishmentID string) (entitlements.Entitlement, error) {
	sub, err := s.store.LoadSubscription(ctx, establishmentID)
	if err != nil {
		return entitlements.Entitlement{}, err
	}
	snap, err := s.usage.Snapshot(ctx, establishmentID)
	if err != nil {
		return entitlements.Entitlement{}, err
	}
	return s.resolver.Resolve(sub, snap, s.now())
}

// Authorize is the authoritative capacity check. It fails closed: when usage
// cannot be measured the error is usage.ErrUsageUnavailable, never a grant.
func (s *Service) Authorize(ctx context.Context, establishmentID string, r tiers.Resource, amount int) (entitlements.Entitlement, error) {
	if _, err := tiers.ParseResource(string(r)); err != nil {
		return entitlements.Entitlement{}, err
	}
	if amount <= 0 {
		return entitlements.Entitlement{}, fmt.Errorf("amount must be positive, got %d", amount)
	}
	ent, err := s.Entitlement(ctx, establishmentID)
	if err != nil {
		return entitlements.Entitlement{}, err
	}
	return ent, ent.Require(r, amount)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, tiers.ErrUnknownTier), errors.Is(err, transitions.ErrInvalidTransition):
		return "rejected"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, usage.ErrUsageUnavailable):
		return "usage_unavailable"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func isExpected(err error) bool {
	switch outcome(err) {
	case "rejected", "conflict", "not_found":
		return true
	}
	return false
}
