package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PercentageValue is a dimensionless ratio; 0.2 means 20%.
type PercentageValue struct {
	ratio decimal.Decimal
}

// FromRatio builds a percentage from a ratio (0.006 = 0.6%).
func FromRatio(ratio decimal.Decimal) PercentageValue {
	return PercentageValue{ratio: ratio}
}

// FromPercent builds a percentage from a percent figure (0.6 = 0.6%).
func FromPercent(percent decimal.Decimal) PercentageValue {
	return PercentageValue{ratio: percent.Div(hundred)}
}

// PercentFromFloat is FromPercent for configuration values.
func PercentFromFloat(percent float64) PercentageValue {
	return FromPercent(decimal.NewFromFloat(percent))
}

// Ratio returns the raw ratio.
func (p PercentageValue) Ratio() decimal.Decimal { return p.ratio }

// Percent returns the ratio multiplied by 100.
func (p PercentageValue) Percent() decimal.Decimal { return p.ratio.Mul(hundred) }

// ChangeMultiplier returns 1 + ratio.
func (p PercentageValue) ChangeMultiplier() decimal.Decimal {
	return decimal.NewFromInt(1).Add(p.ratio)
}

// Sign returns -1, 0 or +1.
func (p PercentageValue) Sign() int { return p.ratio.Sign() }

// IsZero reports whether the ratio is zero.
func (p PercentageValue) IsZero() bool { return p.ratio.IsZero() }

// Cmp compares two percentages.
func (p PercentageValue) Cmp(o PercentageValue) int { return p.ratio.Cmp(o.ratio) }

// LessThan reports whether p < o.
func (p PercentageValue) LessThan(o PercentageValue) bool { return p.Cmp(o) < 0 }

// GreaterThanOrEqual reports whether p >= o.
func (p PercentageValue) GreaterThanOrEqual(o PercentageValue) bool { return p.Cmp(o) >= 0 }

// Of returns the percentage share of v, in v's asset.
func (p PercentageValue) Of(v PriceValue) PriceValue {
	return v.Mul(p.ratio)
}

// Float returns the percent figure as a float for logging and alert rules.
func (p PercentageValue) Float() float64 {
	f, _ := p.Percent().Float64()
	return f
}

// String formats as a percent with two decimals, e.g. "2.00%".
func (p PercentageValue) String() string {
	return p.Percent().StringFixed(2) + "%"
}

// MarshalJSON encodes the ratio as a decimal string.
func (p PercentageValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.ratio)
}

// UnmarshalJSON decodes a ratio.
func (p *PercentageValue) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("money: decode percentage: %w", err)
	}
	p.ratio = d
	return nil
}
