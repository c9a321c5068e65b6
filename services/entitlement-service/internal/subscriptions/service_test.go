package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/bulk"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/entitlements"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/storage"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/transitions"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
)

var now = time.Date(2026, 4, 12, 14, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	ests    map[string]model.Establishment
	subs    map[string]model.Subscription
	changes []model.Change
	failOn  map[string]error
	// locked is the usage seen under the establishment lock at save time.
	locked  map[string]usage.Snapshot
	checked []string
}

func newMemStore() *memStore {
	return &memStore{
		ests:   map[string]model.Establishment{},
		subs:   map[string]model.Subscription{},
		failOn: map[string]error{},
		locked: map[string]usage.Snapshot{},
	}
}

func (m *memStore) add(id string, tier tiers.TierID, status model.Status) {
	m.ests[id] = model.Establishment{ID: id, Name: "Est " + id, Type: model.Restaurant, IsApproved: true}
	m.subs[id] = model.Subscription{
		EstablishmentID: id,
		Tier:            tier,
		Status:          status,
		Cycle:           model.Monthly,
		StartDate:       now.AddDate(0, 0, -3),
		EndDate:         now.AddDate(0, 0, 27),
		Version:         1,
	}
}

func (m *memStore) LoadEstablishment(_ context.Context, id string) (model.Establishment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ests[id]
	if !ok {
		return model.Establishment{}, model.ErrNotFound
	}
	return e, nil
}

func (m *memStore) LoadSubscription(_ context.Context, id string) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return model.Subscription{}, model.ErrNotFound
	}
	return s, nil
}

func (m *memStore) SaveSubscription(_ context.Context, prev, next model.Subscription, change model.Change, check storage.UsageCheck) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[prev.EstablishmentID]; err != nil {
		return model.Subscription{}, err
	}
	if check != nil {
		m.checked = append(m.checked, change.Kind)
		if err := check(m.locked[prev.EstablishmentID]); err != nil {
			return model.Subscription{}, err
		}
	}
	if m.subs[prev.EstablishmentID].Version != prev.Version {
		return model.Subscription{}, model.ErrConflict
	}
	next.Version = prev.Version + 1
	m.subs[prev.EstablishmentID] = next
	m.changes = append(m.changes, change)
	return next, nil
}

func (m *memStore) CreateSubscription(_ context.Context, sub model.Subscription, change model.Change) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.EstablishmentID]; ok {
		return model.Subscription{}, model.ErrConflict
	}
	sub.Version = 1
	m.subs[sub.EstablishmentID] = sub
	m.changes = append(m.changes, change)
	return sub, nil
}

type fakeUsage struct {
	snap  usage.Snapshot
	err   error
	calls int
}

func (f *fakeUsage) Snapshot(context.Context, string) (usage.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

func newService(store Store, counter UsageCounter) *Service {
	s := New(store, counter, tiers.NewDefaultCatalog(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{TrialPeriod: 14 * 24 * time.Hour})
	s.now = func() time.Time { return now }
	return s
}

var owner = model.Actor{Type: model.ActorUser, ID: "owner-1"}

func TestTransition_UpgradeCommits(t *testing.T) {
	store := newMemStore()
	store.add("est-1", tiers.Core, model.StatusTrial)
	counter := &fakeUsage{}
	svc := newService(store, counter)

	got, err := svc.Transition(context.Background(), "est-1", transitions.Request{Kind: transitions.Upgrade, Target: tiers.Enterprise}, owner)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if got.Tier != tiers.Enterprise || got.Status != model.StatusActive || got.Version != 2 {
		t.Fatalf("unexpected subscription %+v", got)
	}
	if store.subs["est-1"].Tier != tiers.Enterprise {
		t.Fatal("store not updated")
	}
	if counter.calls != 0 {
		t.Fatal("upgrade should not need usage")
	}
	if len(store.changes) != 1 || store.changes[0].Kind != "upgrade" || store.changes[0].Actor != owner {
		t.Fatalf("unexpected change record %+v", store.changes)
	}
}

func TestTransition_RejectedDowngradeLeavesStoreUnchanged(t *testing.T) {
	store := newMemStore()
	store.add("est-1", tiers.Enterprise, model.StatusActive)
	before := store.subs["est-1"]
	svc := newService(store, &fakeUsage{snap: usage.Snapshot{MenuItems: 80}})

	_, err := svc.Transition(context.Background(), "est-1", transitions.Request{Kind: transitions.Downgrade, Target: tiers.Core}, owner)
	var te *transitions.Error
	if !errors.As(err, &te) || len(te.Violations) != 1 || te.Violations[0].Over != 30 {
		t.Fatalf("expected menuItems violation of 30, got %v", err)
	}
	if store.subs["est-1"] != before {
		t.Fatal("store must be unchanged")
	}
	if len(store.changes) != 0 {
		t.Fatal("no change should be recorded")
	}
}

func TestTransition_DowngradeFailsClosedWithoutUsage(t *testing.T) {
	store := newMemStore()
	store.add("est-1", tiers.Pro, model.StatusActive)
	svc := newService(store, &fakeUsage{err: fmt.Errorf("%w: db down", usage.ErrUsageUnavailable)})

	_, err := svc.Transition(context.Background(), "est-1", transitions.Request{Kind: transitions.Downgrade, Target: tiers.Core}, owner)
	if !errors.Is(err, usage.ErrUsageUnavailable) {
		t.Fatalf("expected ErrUsageUnavailable, got %v", err)
	}
	if store.subs["est-1"].Tier != tiers.Pro {
		t.Fatal("tier must not change")
	}
}

func TestTransition_UnknownTierRejectedBeforeLoading(t *testing.T) {
	svc := newService(newMemStore(), &fakeUsage{})
	_, err := svc.Transition(context.Background(), "missing", transitions.Request{Kind: transitions.Upgrade, Target: "gold"}, owner)
	if !errors.Is(err, tiers.ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}
}

func TestTransition_ExpireIsSystemOnly(t *testing.T) {
	store := newMemStore()
	store.add("est-1", tiers.Pro, model.StatusTrial)
	lapsed := store.subs["est-1"]
	lapsed.EndDate = now.Add(-time.Hour)
	store.subs["est-1"] = lapsed
	svc := newService(store, &fakeUsage{})

	if _, err := svc.Transition(context.Background(), "est-1", transitions.Request{Kind: transitions.Expire}, owner); !errors.Is(err, transitions.ErrInvalidTransition) {
		t.Fatalf("expected rejection for a user, got %v", err)
	}
	got, err := svc.Transition(context.Background(), "est-1", transitions.Request{Kind: transitions.Expire}, model.SystemActor("renewals"))
	if err != nil {
		t.Fatalf("system expire: %v", err)
	}
	if got.Status != model.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}

type racingStore struct {
	*memStore
	once sync.Once
}

// LoadSubscription lets another writer commit right after the first read.
func (r *racingStore) LoadSubscription(ctx context.Context, id string) (model.Subscription, error) {
	s, err := r.memStore.LoadSubscription(ctx, id)
	r.once.Do(func() {
		r.mu.Lock()
		other := r.subs[id]
		other.Version++
		other.Status = model.StatusCancelled
		r.subs[id] = other
		r.mu.Unlock()
	})
	return s, err
}

func TestTransition_ConcurrentWriterWins(t *testing.T) {
	mem := newMemStore()
	mem.add("est-1", tiers.Core, model.StatusActive)
	store := &racingStore{memStore: mem}
	var outcomes []string
	svc := newService(store, &fakeUsage{})
	svc.OnTransition(func(_, o string) { outcomes = append(outcomes, o) })

	_, err := svc.Transition(context.Background(), "est-1", transitions.Request{Kind: transitions.Upgrade, Target: tiers.Pro}, owner)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if mem.subs["est-1"].Tier != tiers.Core || mem.subs["est-1"].Status != model.StatusCancelled {
		t.Fatalf("the other writer's commit must stand, got %+v", mem.subs["est-1"])
	}
	if len(outcomes) != 1 || outcomes[0] != "conflict" {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
}

func TestOnboard_Idempotent(t *testing.T) {
	store := newMemStore()
	store.ests["est-9"] = model.Establishment{ID: "est-9", IsApproved: true}
	svc := newService(store, &fakeUsage{})

	sub, created, err := svc.Onboard(context.Background(), "est-9", model.SystemActor("onboarding"))
	if err != nil || !created {
		t.Fatalf("first onboard: created=%v err=%v", created, err)
	}
	if sub.Tier != tiers.Core || sub.Status != model.StatusTrial || !sub.EndDate.Equal(now.Add(14*24*time.Hour)) {
		t.Fatalf("unexpected default subscription %+v", sub)
	}

	again, created, err := svc.Onboard(context.Background(), "est-9", model.SystemActor("onboarding"))
	if err != nil || created {
		t.Fatalf("second onboard: created=%v err=%v", created, err)
	}
	if again != sub {
		t.Fatal("second onboard must return the existing subscription")
	}

	if _, _, err := svc.Onboard(context.Background(), "nope", model.SystemActor("onboarding")); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	store := newMemStore()
	store.add("est-1", tiers.Core, model.StatusActive)

	svc := newService(store, &fakeUsage{snap: usage.Snapshot{Employees: 9}})
	if _, err := svc.Authorize(context.Background(), "est-1", tiers.Employees, 1); err != nil {
		t.Fatalf("10th employee should fit: %v", err)
	}
	if _, err := svc.Authorize(context.Background(), "est-1", tiers.Employees, 2); !errors.Is(err, entitlements.ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}

	svc = newService(store, &fakeUsage{err: fmt.Errorf("%w: timeout", usage.ErrUsageUnavailable)})
	if _, err := svc.Authorize(context.Background(), "est-1", tiers.Orders, 1); !errors.Is(err, usage.ErrUsageUnavailable) {
		t.Fatalf("expected fail closed with ErrUsageUnavailable, got %v", err)
	}
}

func TestEntitlement_CancelledEnterpriseIsCore(t *testing.T) {
	store := newMemStore()
	store.add("est-1", tiers.Enterprise, model.StatusActive)
	svc := newService(store, &fakeUsage{})

	if _, err := svc.Transition(context.Background(), "est-1", transitions.Request{Kind: transitions.Cancel}, owner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	ent, err := svc.Entitlement(context.Background(), "est-1")
	if err != nil {
		t.Fatalf("entitlement: %v", err)
	}
	if ent.StoredTier != tiers.Enterprise || ent.Tier.ID != tiers.Core {
		t.Fatalf("expected stored enterprise resolved as core, got %s/%s", ent.StoredTier, ent.Tier.ID)
	}
	for _, f := range tiers.Features {
		if ent.HasFeature(string(f)) {
			t.Fatalf("cancelled subscription must not have %s", f)
		}
	}
}

func TestBulkUpgrade_PartialFailureKeepsOtherCommits(t *testing.T) {
	store := newMemStore()
	for _, id := range []string{"A", "B", "C"} {
		store.add(id, tiers.Core, model.StatusActive)
	}
	store.failOn["B"] = errors.New("write timeout")
	svc := newService(store, &fakeUsage{})
	coord := bulk.New(bulk.Config{Concurrency: 2}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := transitions.Request{Kind: transitions.Upgrade, Target: tiers.Pro}
	res := coord.ApplyToMany(context.Background(), []string{"A", "B", "C", "A"}, bulk.Operation{
		Name: "upgrade",
		Apply: func(ctx context.Context, id string) error {
			_, err := svc.Transition(ctx, id, req, owner)
			return err
		},
	})

	if res.SuccessCount != 2 || res.FailureCount != 1 {
		t.Fatalf("expected 2/1, got %d/%d", res.SuccessCount, res.FailureCount)
	}
	if store.subs["A"].Tier != tiers.Pro || store.subs["C"].Tier != tiers.Pro {
		t.Fatal("A and C must be upgraded")
	}
	if store.subs["B"].Tier != tiers.Core || store.subs["B"].Version != 1 {
		t.Fatalf("B must be unchanged, got %+v", store.subs["B"])
	}
	if store.subs["A"].Version != 2 {
		t.Fatalf("A must be written exactly once, version %d", store.subs["A"].Version)
	}
}

func TestTransition_DowngradeRechecksUsageUnderLock(t *testing.T) {
	store := newMemStore()
	store.add("est-1", tiers.Pro, model.StatusActive)
	// A seat was activated between the unlocked count and the save.
	store.locked["est-1"] = usage.Snapshot{Employees: 11}
	svc := newService(store, &fakeUsage{snap: usage.Snapshot{Employees: 10}})

	_, err := svc.Transition(context.Background(), "est-1", transitions.Request{Kind: transitions.Downgrade, Target: tiers.Core}, owner)
	var te *transitions.Error
	if !errors.As(err, &te) || te.Code != transitions.CodeUsageExceeds {
		t.Fatalf("expected usage_exceeds_target, got %v", err)
	}
	if len(te.Violations) != 1 || te.Violations[0].Usage != 11 {
		t.Fatalf("violation should report the locked count, got %+v", te.Violations)
	}
	if got := store.subs["est-1"]; got.Tier != tiers.Pro || got.Version != 1 {
		t.Fatalf("nothing may be saved, got %+v", got)
	}
}

func TestTransition_OnlyUsageKindsAreRechecked(t *testing.T) {
	store := newMemStore()
	store.add("est-1", tiers.Core, model.StatusActive)
	store.add("est-2", tiers.Pro, model.StatusActive)
	svc := newService(store, &fakeUsage{})

	if _, err := svc.Transition(context.Background(), "est-1", transitions.Request{Kind: transitions.Upgrade, Target: tiers.Pro}, owner); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if _, err := svc.Transition(context.Background(), "est-2", transitions.Request{Kind: transitions.Downgrade, Target: tiers.Core}, owner); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if len(store.checked) != 1 || store.checked[0] != "downgrade" {
		t.Fatalf("expected only the downgrade rechecked, got %v", store.checked)
	}
}
