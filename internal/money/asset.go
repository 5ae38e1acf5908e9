// Package money implements currency-tagged decimal arithmetic. Every value
// carries the Asset it is denominated in, and binary operations between
// values of different assets panic. That panic is what keeps quote and base
// quantities from being silently summed anywhere in the engine.
package money

import (
	"fmt"
	"strings"
)

// RoundingStrategy selects the direction used when a value is normalised to
// a fixed number of decimal places.
type RoundingStrategy int

const (
	// Default is arithmetic rounding (half away from zero).
	Default RoundingStrategy = iota
	// AlwaysRoundDown rounds positive values down and negative values up,
	// i.e. toward zero.
	AlwaysRoundDown
	// AlwaysRoundUp is the mirror of AlwaysRoundDown (away from zero).
	AlwaysRoundUp
)

// String returns the config/display name of the strategy.
func (s RoundingStrategy) String() string {
	switch s {
	case AlwaysRoundDown:
		return "down"
	case AlwaysRoundUp:
		return "up"
	default:
		return "default"
	}
}

// ParseRoundingStrategy maps "default", "down" and "up" to a strategy.
func ParseRoundingStrategy(s string) (RoundingStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return Default, nil
	case "down", "always_round_down":
		return AlwaysRoundDown, nil
	case "up", "always_round_up":
		return AlwaysRoundUp, nil
	default:
		return Default, fmt.Errorf("money: unknown rounding strategy %q", s)
	}
}

// Asset identifies a currency or token. It is immutable and compared by name.
type Asset struct {
	name     string
	rounding RoundingStrategy
	decimals int32
}

// NewAsset creates an asset. The name is upper-cased.
func NewAsset(name string, rounding RoundingStrategy, decimals int32) Asset {
	return Asset{
		name:     strings.ToUpper(strings.TrimSpace(name)),
		rounding: rounding,
		decimals: decimals,
	}
}

// Well-known assets with their display/order precision.
var (
	EUR = NewAsset("EUR", Default, 2)
	USD = NewAsset("USD", Default, 2)
	CZK = NewAsset("CZK", Default, 2)
	BTC = NewAsset("BTC", AlwaysRoundDown, 8)
	ETH = NewAsset("ETH", AlwaysRoundDown, 8)
	LTC = NewAsset("LTC", AlwaysRoundDown, 8)
)

var knownAssets = map[string]Asset{
	EUR.name: EUR,
	USD.name: USD,
	CZK.name: CZK,
	BTC.name: BTC,
	ETH.name: ETH,
	LTC.name: LTC,
}

// LookupAsset returns a well-known asset by name.
func LookupAsset(name string) (Asset, bool) {
	a, ok := knownAssets[strings.ToUpper(strings.TrimSpace(name))]
	return a, ok
}

// AssetByName returns the well-known asset for name, or a new asset with
// default rounding and 8 decimal places.
func AssetByName(name string) Asset {
	if a, ok := LookupAsset(name); ok {
		return a
	}
	return NewAsset(name, Default, 8)
}

// Name returns the upper-case asset symbol.
func (a Asset) Name() string { return a.name }

// Rounding returns the asset's default rounding strategy.
func (a Asset) Rounding() RoundingStrategy { return a.rounding }

// DecimalPlaces returns the asset's default precision.
func (a Asset) DecimalPlaces() int32 { return a.decimals }

// Equal reports whether both assets have the same name.
func (a Asset) Equal(o Asset) bool { return a.name == o.name }

// IsZero reports whether the asset is the zero Asset{}.
func (a Asset) IsZero() bool { return a.name == "" }

func (a Asset) String() string { return a.name }

// MarshalText encodes the asset as its name.
func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.name), nil
}

// UnmarshalText resolves the asset by name via AssetByName.
func (a *Asset) UnmarshalText(text []byte) error {
	*a = AssetByName(string(text))
	return nil
}

// AssetMismatchError is the panic value raised when two values of different
// assets meet in one operation.
type AssetMismatchError struct {
	Op    string
	Left  string
	Right string
}

func (e *AssetMismatchError) Error() string {
	return fmt.Sprintf("money: %s between %s and %s", e.Op, e.Left, e.Right)
}
