// Package transitions validates and applies tier changes to a single subscription.
// Apply is pure: it either returns the complete next subscription or an error and
// leaves the input untouched.
package transitions

import (
	"fmt"
	"strings"
	"time"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
)

type Kind string

const (
	Upgrade    Kind = "upgrade"
	Downgrade  Kind = "downgrade"
	Cancel     Kind = "cancel"
	Renew      Kind = "renew"
	Reactivate Kind = "reactivate"
	Expire     Kind = "expire"
)

func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case Upgrade, Downgrade, Cancel, Renew, Reactivate, Expire:
		return k, nil
	default:
		return "", &Error{Kind: Kind(raw), Code: CodeUnknownKind}
	}
}

// NeedsUsage reports whether Apply checks usage for this kind.
func (k Kind) NeedsUsage() bool { return k == Downgrade || k == Reactivate }

// NeedsTarget reports whether the request must name a tier.
func (k Kind) NeedsTarget() bool { return k == Upgrade || k == Downgrade || k == Reactivate }

// SystemOnly kinds are never accepted from a caller-facing request.
func (k Kind) SystemOnly() bool { return k == Expire }

type Request struct {
	Kind   Kind
	Target tiers.TierID
}

func Apply(req Request, current model.Subscription, est model.Establishment, snap usage.Snapshot, catalog tiers.Lookup, now time.Time) (model.Subscription, error) {
	fail := func(code Code) *Error {
		return &Error{Kind: req.Kind, Code: code, Status: current.Status, Tier: current.Tier, Target: req.Target}
	}

	var target tiers.Tier
	if req.Kind.NeedsTarget() {
		if !req.Target.Valid() {
			return current, fmt.Errorf("%w: %q", tiers.ErrUnknownTier, req.Target)
		}
		t, err := catalog.Get(req.Target)
		if err != nil {
			return current, err
		}
		target = t
	}

	next := current
	next.UpdatedAt = now
	if next.Cycle == "" {
		next.Cycle = model.Monthly
	}

	switch req.Kind {
	case Upgrade:
		if !inPaidPeriod(current.Status) {
			return current, fail(CodeInvalidStatus)
		}
		if !req.Target.Higher(current.Tier) {
			return current, fail(CodeNotHigher)
		}
		if !est.IsApproved {
			return current, fail(CodeNotApproved)
		}
		next.Tier = req.Target
		next.Status = model.StatusActive
		next.StartDate = now
		next.EndDate = next.Cycle.Next(now)

	case Downgrade:
		if !inPaidPeriod(current.Status) {
			return current, fail(CodeInvalidStatus)
		}
		if !current.Tier.Higher(req.Target) {
			return current, fail(CodeNotLower)
		}
		if vs := violations(target, snap); len(vs) > 0 {
			e := fail(CodeUsageExceeds)
			e.Violations = vs
			return current, e
		}
		next.Tier = req.Target

	case Cancel:
		switch current.Status {
		case model.StatusActive, model.StatusTrial, model.StatusExpired:
		default:
			return current, fail(CodeInvalidStatus)
		}
		next.Status = model.StatusCancelled
		next.AutoRenew = false

	case Renew:
		if !inPaidPeriod(current.Status) {
			return current, fail(CodeInvalidStatus)
		}
		from := current.EndDate
		if now.After(from) {
			from = now
		}
		// Status is kept: a renewed trial is still a trial.
		next.EndDate = next.Cycle.Next(from)

	case Reactivate:
		if current.Status != model.StatusCancelled && current.Status != model.StatusExpired {
			return current, fail(CodeInvalidStatus)
		}
		if !est.IsApproved {
			return current, fail(CodeNotApproved)
		}
		if vs := violations(target, snap); len(vs) > 0 {
			e := fail(CodeUsageExceeds)
			e.Violations = vs
			return current, e
		}
		next.Tier = req.Target
		next.Status = model.StatusActive
		next.StartDate = now
		next.EndDate = next.Cycle.Next(now)
		next.AutoRenew = true

	case Expire:
		if !inPaidPeriod(current.Status) {
			return current, fail(CodeInvalidStatus)
		}
		if !now.After(current.EndDate) || (current.Status == model.StatusActive && current.AutoRenew) {
			return current, fail(CodeNotDue)
		}
		next.Status = model.StatusExpired

	default:
		return current, fail(CodeUnknownKind)
	}
	return next, nil
}

func inPaidPeriod(s model.Status) bool {
	return s == model.StatusActive || s == model.StatusTrial
}

// violations lists every resource whose usage does not fit target, in resource order.
func violations(target tiers.Tier, snap usage.Snapshot) []Violation {
	var out []Violation
	for _, r := range tiers.Resources {
		limit, err := target.Limits.For(r)
		if err != nil {
			continue
		}
		used, err := snap.Of(r)
		if err != nil {
			continue
		}
		over := limit.Over(used)
		if over == 0 {
			continue
		}
		max, _ := limit.Max()
		out = append(out, Violation{Resource: r, Usage: used, Limit: max, Over: over})
	}
	return out
}
