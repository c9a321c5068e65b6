// Package renewals closes out subscription periods that have ended: auto-renewing
// subscriptions are renewed, the rest expire.
package renewals

import (
	"context"
	"log/slog"
	"time"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/bulk"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/storage"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/transitions"
)

type Store interface {
	ListLapsed(ctx context.Context, now time.Time, limit int) ([]storage.Lapsed, error)
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), ok bool, err error)
}

type Transitioner interface {
	Transition(ctx context.Context, establishmentID string, req transitions.Request, actor model.Actor) (model.Subscription, error)
}

type Config struct {
	Interval        time.Duration
	BatchSize       int
	AdvisoryLockKey int64
}

type Sweeper struct {
	store  Store
	subs   Transitioner
	bulk   *bulk.Coordinator
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func New(store Store, subs Transitioner, coord *bulk.Coordinator, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.AdvisoryLockKey == 0 {
		cfg.AdvisoryLockKey = 7310001
	}
	return &Sweeper{store: store, subs: subs, bulk: coord, logger: logger, cfg: cfg, now: time.Now}
}

// Run sweeps on every tick, but only on the instance holding the advisory lock.
func (s *Sweeper) Run(ctx context.Context) {
	var unlock func()
	for unlock == nil {
		if ctx.Err() != nil {
			return
		}
		release, ok, err := s.store.TryAdvisoryLock(ctx, s.cfg.AdvisoryLockKey)
		switch {
		case err != nil:
			s.logger.Error("renewals: failed to acquire advisory lock", "err", err)
			sleep(ctx, 5*time.Second)
		case !ok:
			s.logger.Info("renewals: advisory lock held by another instance", "lock_key", s.cfg.AdvisoryLockKey)
			sleep(ctx, 30*time.Second)
		default:
			unlock = release
		}
	}
	defer unlock()
	s.logger.Info("renewals: advisory lock acquired", "lock_key", s.cfg.AdvisoryLockKey)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

type Summary struct {
	Renewed bulk.Result
	Expired bulk.Result
}

// SweepOnce processes one batch of lapsed subscriptions.
func (s *Sweeper) SweepOnce(ctx context.Context) Summary {
	lapsed, err := s.store.ListLapsed(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("renewals: failed to list lapsed subscriptions", "err", err)
		return Summary{}
	}
	if len(lapsed) == 0 {
		return Summary{}
	}

	var renew, expire []string
	for _, l := range lapsed {
		if l.AutoRenew {
			renew = append(renew, l.EstablishmentID)
		} else {
			expire = append(expire, l.EstablishmentID)
		}
	}

	sum := Summary{
		Renewed: s.bulk.ApplyToMany(ctx, renew, s.operation(transitions.Renew)),
		Expired: s.bulk.ApplyToMany(ctx, expire, s.operation(transitions.Expire)),
	}
	s.logger.Info("renewals: sweep finished",
		"renewed", sum.Renewed.SuccessCount,
		"expired", sum.Expired.SuccessCount,
		"failed", sum.Renewed.FailureCount+sum.Expired.FailureCount,
	)
	return sum
}

func (s *Sweeper) operation(kind transitions.Kind) bulk.Operation {
	actor := model.SystemActor("renewals")
	return bulk.Operation{
		Name: string(kind),
		Apply: func(ctx context.Context, id string) error {
			_, err := s.subs.Transition(ctx, id, transitions.Request{Kind: kind}, actor)
			return err
		},
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
