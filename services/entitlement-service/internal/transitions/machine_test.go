package transitions

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
)

var (
	now      = time.Date(2026, 5, 20, 9, 30, 0, 0, time.UTC)
	catalog  = tiers.NewDefaultCatalog()
	approved = model.Establishment{ID: "est-1", Name: "Harbor Cafe", Type: model.Cafe, IsApproved: true}
)

func sub(tier tiers.TierID, status model.Status) model.Subscription {
	return model.Subscription{
		EstablishmentID: "est-1",
		Tier:            tier,
		Status:          status,
		Cycle:           model.Monthly,
		StartDate:       now.AddDate(0, 0, -10),
		EndDate:         now.AddDate(0, 0, 20),
		AutoRenew:       true,
		Version:         4,
	}
}

func TestApply_UpgradeCoreToEnterpriseSkipsPro(t *testing.T) {
	current := sub(tiers.Core, model.StatusTrial)
	next, err := Apply(Request{Kind: Upgrade, Target: tiers.Enterprise}, current, approved, usage.Snapshot{}, catalog, now)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if next.Tier != tiers.Enterprise || next.Status != model.StatusActive {
		t.Fatalf("expected enterprise/active, got %s/%s", next.Tier, next.Status)
	}
	if !next.StartDate.Equal(now) || !next.EndDate.Equal(now.AddDate(0, 1, 0)) {
		t.Fatalf("expected a fresh period, got %v..%v", next.StartDate, next.EndDate)
	}
	if current.Tier != tiers.Core {
		t.Fatal("input subscription must not be mutated")
	}
}

func TestApply_UpgradeRejections(t *testing.T) {
	cases := []struct {
		name    string
		current model.Subscription
		est     model.Establishment
		target  tiers.TierID
		code    Code
	}{
		{"same tier", sub(tiers.Pro, model.StatusActive), approved, tiers.Pro, CodeNotHigher},
		{"lower tier", sub(tiers.Enterprise, model.StatusActive), approved, tiers.Core, CodeNotHigher},
		{"cancelled", sub(tiers.Core, model.StatusCancelled), approved, tiers.Pro, CodeInvalidStatus},
		{"expired", sub(tiers.Core, model.StatusExpired), approved, tiers.Pro, CodeInvalidStatus},
		{"not approved", sub(tiers.Core, model.StatusActive), model.Establishment{ID: "est-1"}, tiers.Pro, CodeNotApproved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Apply(Request{Kind: Upgrade, Target: tc.target}, tc.current, tc.est, usage.Snapshot{}, catalog, now)
			var te *Error
			if !errors.As(err, &te) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if te.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, te.Code)
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatal("expected errors.Is ErrInvalidTransition")
			}
			if !reflect.DeepEqual(next, tc.current) {
				t.Fatalf("rejected transition must return the unchanged subscription")
			}
		})
	}
}

func TestApply_UnknownTier(t *testing.T) {
	for _, kind := range []Kind{Upgrade, Downgrade, Reactivate} {
		_, err := Apply(Request{Kind: kind, Target: "platinum"}, sub(tiers.Pro, model.StatusActive), approved, usage.Snapshot{}, catalog, now)
		if !errors.Is(err, tiers.ErrUnknownTier) {
			t.Fatalf("%s: expected ErrUnknownTier, got %v", kind, err)
		}
		if errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: unknown tier must be distinguishable from an invalid transition", kind)
		}
	}
}

func TestApply_DowngradeOverLimitCitesResource(t *testing.T) {
	current := sub(tiers.Enterprise, model.StatusActive)
	snap := usage.Snapshot{Employees: 4, MenuItems: 80, Orders: 10}

	next, err := Apply(Request{Kind: Downgrade, Target: tiers.Core}, current, approved, snap, catalog, now)
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if te.Code != CodeUsageExceeds {
		t.Fatalf("expected %s, got %s", CodeUsageExceeds, te.Code)
	}
	want := []Violation{{Resource: tiers.MenuItems, Usage: 80, Limit: 50, Over: 30}}
	if !reflect.DeepEqual(te.Violations, want) {
		t.Fatalf("violations = %+v, want %+v", te.Violations, want)
	}
	if te.Message() != "you have 80 menuItems; core allows 50" {
		t.Fatalf("unexpected message %q", te.Message())
	}
	if !reflect.DeepEqual(next, current) {
		t.Fatal("subscription must remain unchanged after a rejected downgrade")
	}
}

func TestApply_DowngradeReportsEveryViolation(t *testing.T) {
	snap := usage.Snapshot{Employees: 60, MenuItems: 300, Orders: 20000}
	_, err := Apply(Request{Kind: Downgrade, Target: tiers.Pro}, sub(tiers.Enterprise, model.StatusActive), approved, snap, catalog, now)
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if len(te.Violations) != 3 {
		t.Fatalf("expected all three resources cited, got %+v", te.Violations)
	}
	if te.Violations[0].Resource != tiers.Employees || te.Violations[0].Over != 10 {
		t.Fatalf("unexpected first violation %+v", te.Violations[0])
	}
}

func TestApply_DowngradeThatFitsKeepsDates(t *testing.T) {
	for _, status := range []model.Status{model.StatusActive, model.StatusTrial} {
		current := sub(tiers.Pro, status)
		next, err := Apply(Request{Kind: Downgrade, Target: tiers.Core}, current, approved, usage.Snapshot{Employees: 10, MenuItems: 50}, catalog, now)
		if err != nil {
			t.Fatalf("%s: downgrade: %v", status, err)
		}
		if next.Tier != tiers.Core || next.Status != status {
			t.Fatalf("%s: expected core/%s, got %s/%s", status, status, next.Tier, next.Status)
		}
		if !next.StartDate.Equal(current.StartDate) || !next.EndDate.Equal(current.EndDate) {
			t.Fatalf("%s: downgrade must keep the period", status)
		}
	}
}

func TestApply_DowngradeRejections(t *testing.T) {
	if _, err := Apply(Request{Kind: Downgrade, Target: tiers.Pro}, sub(tiers.Pro, model.StatusActive), approved, usage.Snapshot{}, catalog, now); !isCode(err, CodeNotLower) {
		t.Fatalf("same tier: expected %s, got %v", CodeNotLower, err)
	}
	if _, err := Apply(Request{Kind: Downgrade, Target: tiers.Core}, sub(tiers.Pro, model.StatusCancelled), approved, usage.Snapshot{}, catalog, now); !isCode(err, CodeInvalidStatus) {
		t.Fatalf("cancelled: expected %s, got %v", CodeInvalidStatus, err)
	}
}

func TestApply_CancelKeepsTier(t *testing.T) {
	current := sub(tiers.Enterprise, model.StatusActive)
	next, err := Apply(Request{Kind: Cancel}, current, approved, usage.Snapshot{}, catalog, now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if next.Status != model.StatusCancelled || next.Tier != tiers.Enterprise || next.AutoRenew {
		t.Fatalf("unexpected cancelled subscription %+v", next)
	}
	if _, err := Apply(Request{Kind: Cancel}, next, approved, usage.Snapshot{}, catalog, now); !isCode(err, CodeInvalidStatus) {
		t.Fatalf("double cancel: expected %s, got %v", CodeInvalidStatus, err)
	}
}

func TestApply_Renew(t *testing.T) {
	current := sub(tiers.Pro, model.StatusActive)
	next, err := Apply(Request{Kind: Renew}, current, approved, usage.Snapshot{}, catalog, now)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !next.EndDate.Equal(current.EndDate.AddDate(0, 1, 0)) || next.Tier != tiers.Pro {
		t.Fatalf("expected end extended by a month, got %v", next.EndDate)
	}

	lapsed := sub(tiers.Pro, model.StatusTrial)
	lapsed.EndDate = now.AddDate(0, 0, -3)
	lapsed.Cycle = model.Yearly
	next, err = Apply(Request{Kind: Renew}, lapsed, approved, usage.Snapshot{}, catalog, now)
	if err != nil {
		t.Fatalf("renew lapsed: %v", err)
	}
	if !next.EndDate.Equal(now.AddDate(1, 0, 0)) {
		t.Fatalf("lapsed renewal should start from now, got %v", next.EndDate)
	}
}

func TestApply_RenewKeepsStatus(t *testing.T) {
	for _, status := range []model.Status{model.StatusActive, model.StatusTrial} {
		current := sub(tiers.Core, status)
		next, err := Apply(Request{Kind: Renew}, current, approved, usage.Snapshot{}, catalog, now)
		if err != nil {
			t.Fatalf("renew %s: %v", status, err)
		}
		if next.Status != status || next.Tier != tiers.Core {
			t.Fatalf("renew %s: expected status and tier kept, got %s %s", status, next.Status, next.Tier)
		}
	}
}

func TestApply_RenewCancelledNeedsReactivation(t *testing.T) {
	current := sub(tiers.Pro, model.StatusCancelled)
	next, err := Apply(Request{Kind: Renew}, current, approved, usage.Snapshot{}, catalog, now)
	if !isCode(err, CodeInvalidStatus) {
		t.Fatalf("expected %s, got %v", CodeInvalidStatus, err)
	}
	if !reflect.DeepEqual(next, current) {
		t.Fatal("subscription must be unchanged")
	}
}

func TestApply_Reactivate(t *testing.T) {
	current := sub(tiers.Enterprise, model.StatusCancelled)
	current.AutoRenew = false

	_, err := Apply(Request{Kind: Reactivate, Target: tiers.Core}, current, approved, usage.Snapshot{Employees: 12}, catalog, now)
	if !isCode(err, CodeUsageExceeds) {
		t.Fatalf("expected %s, got %v", CodeUsageExceeds, err)
	}

	next, err := Apply(Request{Kind: Reactivate, Target: tiers.Pro}, current, approved, usage.Snapshot{Employees: 12}, catalog, now)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if next.Tier != tiers.Pro || next.Status != model.StatusActive || !next.AutoRenew {
		t.Fatalf("unexpected reactivated subscription %+v", next)
	}

	if _, err := Apply(Request{Kind: Reactivate, Target: tiers.Pro}, sub(tiers.Core, model.StatusActive), approved, usage.Snapshot{}, catalog, now); !isCode(err, CodeInvalidStatus) {
		t.Fatalf("active: expected %s, got %v", CodeInvalidStatus, err)
	}
}

func TestApply_Expire(t *testing.T) {
	current := sub(tiers.Pro, model.StatusActive)
	if _, err := Apply(Request{Kind: Expire}, current, approved, usage.Snapshot{}, catalog, now); !isCode(err, CodeNotDue) {
		t.Fatalf("not due: expected %s, got %v", CodeNotDue, err)
	}

	current.EndDate = now.Add(-time.Hour)
	if _, err := Apply(Request{Kind: Expire}, current, approved, usage.Snapshot{}, catalog, now); !isCode(err, CodeNotDue) {
		t.Fatalf("auto-renew: expected %s, got %v", CodeNotDue, err)
	}

	current.AutoRenew = false
	next, err := Apply(Request{Kind: Expire}, current, approved, usage.Snapshot{}, catalog, now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if next.Status != model.StatusExpired || next.Tier != tiers.Pro {
		t.Fatalf("unexpected expired subscription %+v", next)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" Upgrade "); err != nil || k != Upgrade {
		t.Fatalf("got %q %v", k, err)
	}
	if _, err := ParseKind("teleport"); !isCode(err, CodeUnknownKind) {
		t.Fatalf("expected %s, got %v", CodeUnknownKind, err)
	}
	if !Expire.SystemOnly() || Renew.SystemOnly() {
		t.Fatal("only expire is system-only")
	}
}

func isCode(err error, code Code) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == code
}
