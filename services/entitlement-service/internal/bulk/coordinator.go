// Package bulk applies one single-item operation to many ids independently and
// reports exactly what happened to each of them.
package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Operation is the unit of work for one id. It must commit or fail as a whole.
type Operation struct {
	Name  string
	Apply func(ctx context.Context, id string) error
}

type Item struct {
	TargetID string  `json:"target_id"`
	Outcome  Outcome `json:"outcome"`
	Code     string  `json:"code,omitempty"`
	Error    string  `json:"error,omitempty"`
	Detail   any     `json:"detail,omitempty"`
}

// Result lists attempted items in input order. Ids that were never started
// because the batch ran out of time are only listed in Skipped.
type Result struct {
	BatchID      string   `json:"batch_id"`
	Operation    string   `json:"operation"`
	Items        []Item   `json:"items"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Skipped      []string `json:"skipped,omitempty"`
}

// Partial reports a batch where some items failed.
func (r Result) Partial() bool { return r.FailureCount > 0 }

type Config struct {
	Concurrency int
	ItemTimeout time.Duration
}

// Describe turns an item error into a stable code and optional structured detail.
type Describe func(err error) (code string, detail any)

type Coordinator struct {
	cfg      Config
	logger   *slog.Logger
	describe Describe
	observe  func(operation string, outcome Outcome)
}

type Option func(*Coordinator)

func WithDescribe(fn Describe) Option { return func(c *Coordinator) { c.describe = fn } }

func WithObserver(fn func(operation string, outcome Outcome)) Option {
	return func(c *Coordinator) { c.observe = fn }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Coordinator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ApplyToMany dedupes ids (first occurrence wins, empty ids dropped) and applies op
// to each one at most once. One id failing never undoes another.
func (c *Coordinator) ApplyToMany(ctx context.Context, ids []string, op Operation) Result {
	targets := Distinct(ids)
	res := Result{BatchID: uuid.NewString(), Operation: op.Name, Items: make([]Item, 0, len(targets))}

	slots := make([]*Item, len(targets))
	sem := semaphore.NewWeighted(int64(c.cfg.Concurrency))
	var wg sync.WaitGroup

	for i, id := range targets {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}
		// Mark as attempted before the goroutine runs so a late cancel cannot drop it.
		slots[i] = &Item{TargetID: id}
		wg.Add(1)
		go func(item *Item) {
			defer wg.Done()
			defer sem.Release(1)
			c.run(ctx, op, item)
		}(slots[i])
	}
	wg.Wait()

	for i, item := range slots {
		if item == nil {
			res.Skipped = append(res.Skipped, targets[i])
			continue
		}
		res.Items = append(res.Items, *item)
		switch item.Outcome {
		case Success:
			res.SuccessCount++
		default:
			res.FailureCount++
		}
	}

	if len(res.Skipped) > 0 || res.FailureCount > 0 {
		c.logger.Warn("bulk operation incomplete",
			"batch_id", res.BatchID,
			"operation", op.Name,
			"succeeded", res.SuccessCount,
			"failed", res.FailureCount,
			"skipped", len(res.Skipped),
		)
	}
	return res
}

func (c *Coordinator) run(ctx context.Context, op Operation, item *Item) {
	err := c.safeApply(ctx, op, item.TargetID)
	if err == nil {
		item.Outcome = Success
	} else {
		item.Outcome = Failure
		item.Error = err.Error()
		item.Code = "failed"
		if c.describe != nil {
			if code, detail := c.describe(err); code != "" {
				item.Code = code
				item.Detail = detail
			}
		}
	}
	if c.observe != nil {
		c.observe(op.Name, item.Outcome)
	}
}

func (c *Coordinator) safeApply(ctx context.Context, op Operation, id string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("bulk item panicked", "operation", op.Name, "target_id", id, "panic", rec)
			err = fmt.Errorf("internal error while applying %s", op.Name)
		}
	}()
	if c.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ItemTimeout)
		defer cancel()
	}
	return op.Apply(ctx, id)
}

// Distinct keeps the first occurrence of each non-empty id, in input order.
func Distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
