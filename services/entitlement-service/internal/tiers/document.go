package tiers

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrInvalidCatalog = errors.New("invalid tier catalog")

// Document is the settings blob the platform stores for the catalog. Prices are
// decimal strings so the blob survives JSON and YAML without float rounding.
type Document struct {
	Version string         `json:"version" yaml:"version"`
	Tiers   []TierDocument `json:"tiers" yaml:"tiers"`
}

type TierDocument struct {
	ID             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Currency       string         `json:"currency" yaml:"currency"`
	MonthlyPrice   string         `json:"monthly_price" yaml:"monthly_price"`
	YearlyPrice    string         `json:"yearly_price" yaml:"yearly_price"`
	Limits         LimitsDocument `json:"limits" yaml:"limits"`
	Features       []string       `json:"features" yaml:"features"`
	RecommendedFor []string       `json:"recommended_for,omitempty" yaml:"recommended_for,omitempty"`
}

// LimitsDocument uses pointers so a missing key is an error rather than Limited(0).
type LimitsDocument struct {
	Employees *Limit `json:"employees" yaml:"employees"`
	MenuItems *Limit `json:"menuItems" yaml:"menuItems"`
	Orders    *Limit `json:"orders" yaml:"orders"`
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Compile validates the whole document and returns tiers in rank order.
// Any problem rejects the document; every problem found is reported.
func Compile(doc Document) ([]Tier, error) {
	var problems []error
	byID := map[TierID]Tier{}

	for i, td := range doc.Tiers {
		t, errs := compileTier(td)
		for _, err := range errs {
			problems = append(problems, fmt.Errorf("tiers[%d]: %w", i, err))
		}
		if len(errs) > 0 {
			continue
		}
		if _, dup := byID[t.ID]; dup {
			problems = append(problems, fmt.Errorf("tiers[%d]: duplicate tier %q", i, t.ID))
			continue
		}
		byID[t.ID] = t
	}

	for _, id := range Ordered {
		if _, ok := byID[id]; !ok && !hasTierProblem(doc, id) {
			problems = append(problems, fmt.Errorf("tier %q is missing", id))
		}
	}

	if len(problems) == 0 {
		problems = append(problems, checkMonotonic(byID)...)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.Join(problems...))
	}

	out := make([]Tier, 0, len(Ordered))
	for _, id := range Ordered {
		out = append(out, byID[id])
	}
	return out, nil
}

func hasTierProblem(doc Document, id TierID) bool {
	for _, td := range doc.Tiers {
		if strings.EqualFold(strings.TrimSpace(td.ID), string(id)) {
			return true
		}
	}
	return false
}

func compileTier(td TierDocument) (Tier, []error) {
	var errs []error
	id, err := ParseTierID(td.ID)
	if err != nil {
		errs = append(errs, err)
	}
	name := strings.TrimSpace(td.Name)
	if name == "" {
		errs = append(errs, fmt.Errorf("tier %q: name is required", td.ID))
	}
	currency := strings.TrimSpace(td.Currency)
	if !currencyPattern.MatchString(currency) {
		errs = append(errs, fmt.Errorf("tier %q: currency %q must be a 3-letter ISO code", td.ID, td.Currency))
	}
	monthly, err := parsePrice(td.MonthlyPrice)
	if err != nil {
		errs = append(errs, fmt.Errorf("tier %q: monthly_price: %w", td.ID, err))
	}
	yearly, err := parsePrice(td.YearlyPrice)
	if err != nil {
		errs = append(errs, fmt.Errorf("tier %q: yearly_price: %w", td.ID, err))
	}

	var limits Limits
	for _, f := range []struct {
		name string
		src  *Limit
		dst  *Limit
	}{
		{"employees", td.Limits.Employees, &limits.Employees},
		{"menuItems", td.Limits.MenuItems, &limits.MenuItems},
		{"orders", td.Limits.Orders, &limits.Orders},
	} {
		if f.src == nil {
			errs = append(errs, fmt.Errorf("tier %q: limits.%s is required", td.ID, f.name))
			continue
		}
		if n, ok := f.src.Max(); ok && n < 0 {
			errs = append(errs, fmt.Errorf("tier %q: limits.%s: %w", td.ID, f.name, errNegativeLimit))
			continue
		}
		*f.dst = *f.src
	}

	var features FeatureSet
	for _, raw := range td.Features {
		f, ok := ParseFeature(raw)
		if !ok {
			errs = append(errs, fmt.Errorf("tier %q: unknown feature %q", td.ID, raw))
			continue
		}
		features |= f.bit()
	}

	var recommended []string
	for _, r := range td.RecommendedFor {
		if r = strings.TrimSpace(r); r != "" {
			recommended = append(recommended, r)
		}
	}

	return Tier{
		ID:             id,
		Name:           name,
		Price:          Price{Monthly: monthly, Yearly: yearly, Currency: currency},
		Limits:         limits,
		Features:       features,
		RecommendedFor: recommended,
	}, errs
}

func parsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, errors.New("is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%q is not a decimal", raw)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%s must not be negative", raw)
	}
	return d, nil
}

// checkMonotonic rejects catalogs where moving up a tier would take something away.
func checkMonotonic(byID map[TierID]Tier) []error {
	var errs []error
	for i := 1; i < len(Ordered); i++ {
		lower, higher := byID[Ordered[i-1]], byID[Ordered[i]]
		for _, r := range Resources {
			lo, _ := lower.Limits.For(r)
			hi, _ := higher.Limits.For(r)
			if !hi.Covers(lo) {
				errs = append(errs, fmt.Errorf("tier %q allows fewer %s (%s) than %q (%s)", higher.ID, r, hi, lower.ID, lo))
			}
		}
		if !higher.Features.Contains(lower.Features) {
			errs = append(errs, fmt.Errorf("tier %q is missing features of %q", higher.ID, lower.ID))
		}
	}
	return errs
}

// ToDocument is the inverse of Compile.
func ToDocument(version string, tiers []Tier) Document {
	doc := Document{Version: version, Tiers: make([]TierDocument, 0, len(tiers))}
	for _, t := range tiers {
		emp, menu, orders := t.Limits.Employees, t.Limits.MenuItems, t.Limits.Orders
		features := make([]string, 0, len(Features))
		for _, f := range t.Features.List() {
			features = append(features, string(f))
		}
		doc.Tiers = append(doc.Tiers, TierDocument{
			ID:             string(t.ID),
			Name:           t.Name,
			Currency:       t.Price.Currency,
			MonthlyPrice:   t.Price.Monthly.String(),
			YearlyPrice:    t.Price.Yearly.String(),
			Limits:         LimitsDocument{Employees: &emp, MenuItems: &menu, Orders: &orders},
			Features:       features,
			RecommendedFor: append([]string(nil), t.RecommendedFor...),
		})
	}
	return doc
}

func ReadDocumentFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read tier catalog: %w", err)
	}
	return DecodeDocumentYAML(raw)
}

// DecodeDocumentYAML also accepts JSON, which is a YAML subset.
func DecodeDocumentYAML(raw []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	return doc, nil
}

func EncodeDocumentYAML(doc Document) ([]byte, error) {
	return yaml.Marshal(doc)
}
