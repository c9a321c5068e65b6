package tiers

import "strings"

type Feature string

const (
	Analytics       Feature = "analytics"
	AIFeatures      Feature = "aiFeatures"
	WhiteLabel      Feature = "whiteLabel"
	CustomDomain    Feature = "customDomain"
	PrioritySupport Feature = "prioritySupport"
	MultiLocation   Feature = "multiLocation"
)

// Features is every known flag, in bit order.
var Features = []Feature{Analytics, AIFeatures, WhiteLabel, CustomDomain, PrioritySupport, MultiLocation}

func (f Feature) bit() FeatureSet {
	for i, known := range Features {
		if known == f {
			return 1 << uint(i)
		}
	}
	return 0
}

// ParseFeature reports false for flags this build does not know about.
func ParseFeature(raw string) (Feature, bool) {
	f := Feature(strings.TrimSpace(raw))
	return f, f.bit() != 0
}

// FeatureSet is a bitmask over Features; unknown flags have no bit and are never set.
type FeatureSet uint16

func NewFeatureSet(fs ...Feature) FeatureSet {
	var s FeatureSet
	for _, f := range fs {
		s |= f.bit()
	}
	return s
}

func (s FeatureSet) Has(f Feature) bool {
	b := f.bit()
	return b != 0 && s&b == b
}

// Contains reports whether every flag in other is also in s.
func (s FeatureSet) Contains(other FeatureSet) bool { return s&other == other }

func (s FeatureSet) List() []Feature {
	out := make([]Feature, 0, len(Features))
	for _, f := range Features {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
