package tiers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const unlimitedLiteral = "unlimited"

// Limit is either a finite ceiling or Unlimited. The zero value is Limited(0).
type Limit struct {
	max       int
	unlimited bool
}

func Limited(n int) Limit { return Limit{max: n} }

func Unlimited() Limit { return Limit{unlimited: true} }

func (l Limit) IsUnlimited() bool { return l.unlimited }

// Max returns the ceiling; ok is false for Unlimited.
func (l Limit) Max() (n int, ok bool) {
	if l.unlimited {
		return 0, false
	}
	return l.max, true
}

// Allows reports whether usage can grow by amount without passing the ceiling.
func (l Limit) Allows(usage, amount int) bool {
	if l.unlimited {
		return true
	}
	if usage > l.max {
		return false
	}
	return amount <= l.max-usage
}

// Remaining is the headroom left; ok is false for Unlimited.
func (l Limit) Remaining(usage int) (n int, ok bool) {
	if l.unlimited {
		return 0, false
	}
	if usage >= l.max {
		return 0, true
	}
	return l.max - usage, true
}

// Over is how far usage sits above the ceiling, zero when it fits.
func (l Limit) Over(usage int) int {
	if l.unlimited || usage <= l.max {
		return 0
	}
	return usage - l.max
}

// Covers reports whether l is at least as generous as other.
func (l Limit) Covers(other Limit) bool {
	if l.unlimited {
		return true
	}
	if other.unlimited {
		return false
	}
	return l.max >= other.max
}

func (l Limit) String() string {
	if l.unlimited {
		return unlimitedLiteral
	}
	return strconv.Itoa(l.max)
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal(unlimitedLiteral)
	}
	return json.Marshal(l.max)
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return l.parse(s)
	}
	return l.parse(raw)
}

func (l Limit) MarshalYAML() (any, error) {
	if l.unlimited {
		return unlimitedLiteral, nil
	}
	return l.max, nil
}

func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("limit must be a number or %q (line %d)", unlimitedLiteral, node.Line)
	}
	return l.parse(node.Value)
}

var errNegativeLimit = errors.New(`limit must be >= 0; use "unlimited" for no ceiling`)

func (l *Limit) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, unlimitedLiteral) {
		*l = Unlimited()
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("limit %q: must be a number or %q", raw, unlimitedLiteral)
	}
	if n < 0 {
		return errNegativeLimit
	}
	*l = Limited(n)
	return nil
}
