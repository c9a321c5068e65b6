package transitions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
)

// ErrInvalidTransition matches every *Error via errors.Is.
var ErrInvalidTransition = errors.New("invalid transition")

type Code string

const (
	CodeInvalidStatus  Code = "invalid_status"
	CodeNotHigher      Code = "target_not_higher"
	CodeNotLower       Code = "target_not_lower"
	CodeUsageExceeds   Code = "usage_exceeds_target"
	CodeNotApproved    Code = "establishment_not_approved"
	CodeNotDue         Code = "not_due"
	CodeUnknownKind    Code = "unknown_kind"
	CodeSystemOnlyKind Code = "system_only"
)

// Violation is one resource that does not fit the target tier.
type Violation struct {
	Resource tiers.Resource `json:"resource"`
	Usage    int            `json:"usage"`
	Limit    int            `json:"limit"`
	Over     int            `json:"over"`
}

// Error carries enough detail to build the user-facing message without
// re-deriving anything.
type Error struct {
	Kind       Kind         `json:"kind"`
	Code       Code         `json:"code"`
	Status     model.Status `json:"status"`
	Tier       tiers.TierID `json:"tier"`
	Target     tiers.TierID `json:"target,omitempty"`
	Violations []Violation  `json:"violations,omitempty"`
}

func (e *Error) Error() string {
	return "invalid transition: " + e.Message()
}

func (e *Error) Is(target error) bool { return target == ErrInvalidTransition }

func (e *Error) Message() string {
	switch e.Code {
	case CodeInvalidStatus:
		return fmt.Sprintf("cannot %s a %s subscription", e.Kind, e.Status)
	case CodeNotHigher:
		return fmt.Sprintf("%s is not above the current %s tier", e.Target, e.Tier)
	case CodeNotLower:
		return fmt.Sprintf("%s is not below the current %s tier", e.Target, e.Tier)
	case CodeUsageExceeds:
		parts := make([]string, 0, len(e.Violations))
		for _, v := range e.Violations {
			parts = append(parts, fmt.Sprintf("you have %d %s; %s allows %d", v.Usage, v.Resource, e.Target, v.Limit))
		}
		return strings.Join(parts, ", ")
	case CodeNotApproved:
		return "establishment is not approved yet"
	case CodeNotDue:
		return "subscription has not reached its end date"
	case CodeSystemOnlyKind:
		return fmt.Sprintf("%s is run by the platform only", e.Kind)
	default:
		return fmt.Sprintf("unknown transition %q", e.Kind)
	}
}
