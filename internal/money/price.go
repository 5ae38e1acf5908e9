package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceValue is a decimal amount denominated in an Asset. The zero value is
// an invalid value of the zero asset; construct values with New and friends.
type PriceValue struct {
	amount decimal.Decimal
	asset  Asset
	valid  bool
}

// New returns a valid value of amount in asset.
func New(amount decimal.Decimal, asset Asset) PriceValue {
	return PriceValue{amount: amount, asset: asset, valid: true}
}

// NewFromFloat is a convenience for configuration and tests.
func NewFromFloat(amount float64, asset Asset) PriceValue {
	return New(decimal.NewFromFloat(amount), asset)
}

// NewFromString parses a decimal string.
func NewFromString(amount string, asset Asset) (PriceValue, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return PriceValue{}, fmt.Errorf("money: parse %q: %w", amount, err)
	}
	return New(d, asset), nil
}

// Zero returns a valid zero of asset.
func Zero(asset Asset) PriceValue {
	return New(decimal.Zero, asset)
}

// Invalid returns the "not computed" sentinel for asset.
func Invalid(asset Asset) PriceValue {
	return PriceValue{asset: asset}
}

// Amount returns the raw decimal magnitude.
func (p PriceValue) Amount() decimal.Decimal { return p.amount }

// Asset returns the asset the value is denominated in.
func (p PriceValue) Asset() Asset { return p.asset }

// IsValid reports whether the value has been computed.
func (p PriceValue) IsValid() bool { return p.valid }

func (p PriceValue) mustMatch(o PriceValue, op string) {
	if !p.asset.Equal(o.asset) {
		panic(&AssetMismatchError{Op: op, Left: p.asset.Name(), Right: o.asset.Name()})
	}
}

func (p PriceValue) derive(amount decimal.Decimal, valid bool) PriceValue {
	return PriceValue{amount: amount, asset: p.asset, valid: valid}
}

// Add returns p + o.
func (p PriceValue) Add(o PriceValue) PriceValue {
	p.mustMatch(o, "add")
	return p.derive(p.amount.Add(o.amount), p.valid && o.valid)
}

// Sub returns p - o.
func (p PriceValue) Sub(o PriceValue) PriceValue {
	p.mustMatch(o, "sub")
	return p.derive(p.amount.Sub(o.amount), p.valid && o.valid)
}

// Ratio returns p / o as a dimensionless number. Both values must share an
// asset; dividing by zero yields zero.
func (p PriceValue) Ratio(o PriceValue) decimal.Decimal {
	p.mustMatch(o, "ratio")
	if o.amount.IsZero() {
		return decimal.Zero
	}
	return p.amount.Div(o.amount)
}

// Mul scales p by a dimensionless factor.
func (p PriceValue) Mul(factor decimal.Decimal) PriceValue {
	return p.derive(p.amount.Mul(factor), p.valid)
}

// Div divides p by a dimensionless factor. Dividing by zero yields an
// invalid value.
func (p PriceValue) Div(factor decimal.Decimal) PriceValue {
	if factor.IsZero() {
		return Invalid(p.asset)
	}
	return p.derive(p.amount.Div(factor), p.valid)
}

// Neg returns -p.
func (p PriceValue) Neg() PriceValue { return p.derive(p.amount.Neg(), p.valid) }

// Abs returns |p|.
func (p PriceValue) Abs() PriceValue { return p.derive(p.amount.Abs(), p.valid) }

// Cmp compares p and o: -1, 0 or +1.
func (p PriceValue) Cmp(o PriceValue) int {
	p.mustMatch(o, "compare")
	return p.amount.Cmp(o.amount)
}

// Equal reports whether p == o.
func (p PriceValue) Equal(o PriceValue) bool { return p.Cmp(o) == 0 }

// LessThan reports whether p < o.
func (p PriceValue) LessThan(o PriceValue) bool { return p.Cmp(o) < 0 }

// LessThanOrEqual reports whether p <= o.
func (p PriceValue) LessThanOrEqual(o PriceValue) bool { return p.Cmp(o) <= 0 }

// GreaterThan reports whether p > o.
func (p PriceValue) GreaterThan(o PriceValue) bool { return p.Cmp(o) > 0 }

// GreaterThanOrEqual reports whether p >= o.
func (p PriceValue) GreaterThanOrEqual(o PriceValue) bool { return p.Cmp(o) >= 0 }

// IsZero reports whether the amount is zero.
func (p PriceValue) IsZero() bool { return p.amount.IsZero() }

// IsPositive reports whether the amount is > 0.
func (p PriceValue) IsPositive() bool { return p.amount.IsPositive() }

// IsNegative reports whether the amount is < 0.
func (p PriceValue) IsNegative() bool { return p.amount.IsNegative() }

// Min returns the smaller of a and b.
func Min(a, b PriceValue) PriceValue {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b PriceValue) PriceValue {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// Round normalises p using its asset's strategy and precision.
func (p PriceValue) Round() PriceValue {
	return p.RoundWith(p.asset.rounding, p.asset.decimals)
}

// RoundWith normalises p with an explicit strategy and precision.
func (p PriceValue) RoundWith(strategy RoundingStrategy, places int32) PriceValue {
	return p.derive(roundDecimal(p.amount, strategy, places), p.valid)
}

// RoundStrategy normalises p with an explicit strategy at the asset's precision.
func (p PriceValue) RoundStrategy(strategy RoundingStrategy) PriceValue {
	return p.RoundWith(strategy, p.asset.decimals)
}

func roundDecimal(d decimal.Decimal, strategy RoundingStrategy, places int32) decimal.Decimal {
	switch strategy {
	case AlwaysRoundDown:
		return d.RoundDown(places)
	case AlwaysRoundUp:
		return d.RoundUp(places)
	default:
		return d.Round(places)
	}
}

// String formats the value at the asset's precision, e.g. "500.00 EUR".
func (p PriceValue) String() string {
	if !p.valid {
		return "n/a " + p.asset.Name()
	}
	return p.amount.StringFixed(p.asset.decimals) + " " + p.asset.Name()
}

type priceJSON struct {
	Amount *decimal.Decimal `json:"amount"`
	Asset  string           `json:"asset"`
}

// MarshalJSON encodes {"amount": "1.5", "asset": "ETH"}; invalid values
// encode a null amount.
func (p PriceValue) MarshalJSON() ([]byte, error) {
	out := priceJSON{Asset: p.asset.Name()}
	if p.valid {
		amt := p.amount
		out.Amount = &amt
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *PriceValue) UnmarshalJSON(data []byte) error {
	var in priceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("money: decode price value: %w", err)
	}
	asset := AssetByName(in.Asset)
	if in.Amount == nil {
		*p = Invalid(asset)
		return nil
	}
	*p = New(*in.Amount, asset)
	return nil
}
