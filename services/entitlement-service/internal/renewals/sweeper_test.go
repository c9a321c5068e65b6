package renewals

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/bulk"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/storage"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/transitions"
)

type fakeStore struct {
	lapsed []storage.Lapsed
	err    error
}

func (f fakeStore) ListLapsed(context.Context, time.Time, int) ([]storage.Lapsed, error) {
	return f.lapsed, f.err
}

func (f fakeStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return func() {}, true, nil
}

type recorder struct {
	mu    sync.Mutex
	calls map[string]transitions.Kind
	fail  map[string]bool
}

func (r *recorder) Transition(_ context.Context, id string, req transitions.Request, actor model.Actor) (model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if actor.Type != model.ActorSystem {
		return model.Subscription{}, errors.New("expected system actor")
	}
	r.calls[id] = req.Kind
	if r.fail[id] {
		return model.Subscription{}, errors.New("boom")
	}
	return model.Subscription{EstablishmentID: id}, nil
}

func TestSweepOnce(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &recorder{calls: map[string]transitions.Kind{}, fail: map[string]bool{"est-3": true}}
	store := fakeStore{lapsed: []storage.Lapsed{
		{EstablishmentID: "est-1", AutoRenew: true},
		{EstablishmentID: "est-2", AutoRenew: false},
		{EstablishmentID: "est-3", AutoRenew: false},
	}}
	s := New(store, rec, bulk.New(bulk.Config{Concurrency: 2}, logger), logger, Config{})

	sum := s.SweepOnce(context.Background())

	if rec.calls["est-1"] != transitions.Renew || rec.calls["est-2"] != transitions.Expire || rec.calls["est-3"] != transitions.Expire {
		t.Fatalf("unexpected calls %v", rec.calls)
	}
	if sum.Renewed.SuccessCount != 1 || sum.Expired.SuccessCount != 1 || sum.Expired.FailureCount != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestSweepOnce_ListError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &recorder{calls: map[string]transitions.Kind{}}
	s := New(fakeStore{err: errors.New("db down")}, rec, bulk.New(bulk.Config{}, logger), logger, Config{})

	sum := s.SweepOnce(context.Background())
	if len(rec.calls) != 0 || sum.Renewed.SuccessCount != 0 {
		t.Fatal("nothing should run when listing fails")
	}
}
