// Package units holds the static conversion table between bulk-location and
// preparation-location units of measure.
package units

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

// ErrNoConversionRule is returned when a bulk unit has no configured pairing.
var ErrNoConversionRule = shared.NewValidationError("unit", "no conversion rule")

// Rule pairs a bulk unit with its preparation unit. PrepQty = BulkQty * Factor.
type Rule struct {
	BulkUnit string
	PrepUnit string
	Factor   decimal.Decimal
}

// ToPrep converts a bulk quantity into preparation units.
func (r Rule) ToPrep(qty decimal.Decimal) decimal.Decimal {
	return qty.Mul(r.Factor)
}

// PrepUnitCost converts a bulk unit cost into a preparation unit cost.
func (r Rule) PrepUnitCost(cost decimal.Decimal) decimal.Decimal {
	return cost.Div(r.Factor)
}

// Table maps normalised bulk units to rules. The zero value is empty; use
// Default or Parse to build one.
type Table struct {
	rules map[string]Rule
}

// Default returns the conversion rules shipped with the service.
func Default() Table {
	t, _ := NewTable(
		Rule{BulkUnit: "kg", PrepUnit: "g", Factor: decimal.NewFromInt(1000)},
		Rule{BulkUnit: "l", PrepUnit: "ml", Factor: decimal.NewFromInt(1000)},
		Rule{BulkUnit: "pack", PrepUnit: "pcs", Factor: decimal.NewFromInt(10)},
		Rule{BulkUnit: "pcs", PrepUnit: "pcs", Factor: decimal.NewFromInt(1)},
		Rule{BulkUnit: "btl", PrepUnit: "btl", Factor: decimal.NewFromInt(1)},
	)
	return t
}

// NewTable validates and indexes rules.
func NewTable(rules ...Rule) (Table, error) {
	t := Table{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		key := normalize(r.BulkUnit)
		if key == "" || normalize(r.PrepUnit) == "" {
			return Table{}, fmt.Errorf("units: rule requires both units")
		}
		if !r.Factor.IsPositive() {
			return Table{}, fmt.Errorf("units: factor for %q must be positive", r.BulkUnit)
		}
		if _, dup := t.rules[key]; dup {
			return Table{}, fmt.Errorf("units: duplicate rule for %q", r.BulkUnit)
		}
		r.BulkUnit = key
		r.PrepUnit = normalize(r.PrepUnit)
		t.rules[key] = r
	}
	return t, nil
}

// Lookup returns the rule for bulkUnit.
func (t Table) Lookup(bulkUnit string) (Rule, error) {
	r, ok := t.rules[normalize(bulkUnit)]
	if !ok {
		return Rule{}, shared.Detailed(ErrNoConversionRule, "unit %q", bulkUnit)
	}
	return r, nil
}

// Rules lists all rules ordered by bulk unit.
func (t Table) Rules() []Rule {
	out := make([]Rule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BulkUnit < out[j].BulkUnit })
	return out
}

// Len reports the number of rules.
func (t Table) Len() int { return len(t.rules) }

// Decode implements envconfig.Decoder. The accepted format is
// "kg=g*1000;l=ml*1000". An empty value leaves the table untouched.
func (t *Table) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := Parse(value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Parse reads the textual table format used by configuration.
func Parse(value string) (Table, error) {
	var rules []Rule
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bulk, rest, ok := strings.Cut(part, "=")
		if !ok {
			return Table{}, fmt.Errorf("units: malformed rule %q", part)
		}
		prep, factorRaw, ok := strings.Cut(rest, "*")
		if !ok {
			return Table{}, fmt.Errorf("units: malformed rule %q", part)
		}
		factor, err := decimal.NewFromString(strings.TrimSpace(factorRaw))
		if err != nil {
			return Table{}, fmt.Errorf("units: factor in %q: %w", part, err)
		}
		rules = append(rules, Rule{BulkUnit: bulk, PrepUnit: prep, Factor: factor})
	}
	if len(rules) == 0 {
		return Table{}, fmt.Errorf("units: no rules in %q", value)
	}
	return NewTable(rules...)
}

func normalize(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}
