package domain

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/arbengine/internal/money"
)

// AssetPair is an ordered (Base, Quote) pair. Base is the asset bought and
// sold; Quote is the unit of payment. Order-book prices are Quote per unit
// of Base and volumes are in Base.
type AssetPair struct {
	Base  money.Asset `json:"base"`
	Quote money.Asset `json:"quote"`
}

// NewAssetPair builds a pair.
func NewAssetPair(base, quote money.Asset) AssetPair {
	return AssetPair{Base: base, Quote: quote}
}

// Key returns the canonical "BASE/QUOTE" key used by product listings.
func (p AssetPair) Key() string {
	return p.Base.Name() + "/" + p.Quote.Name()
}

func (p AssetPair) String() string { return p.Key() }

// ParsePairKey splits "BASE/QUOTE" (or "BASE_QUOTE", "BASE-QUOTE") into asset
// names.
func ParsePairKey(key string) (base, quote string, err error) {
	for _, sep := range []string{"/", "_", "-"} {
		if parts := strings.SplitN(key, sep, 2); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
		}
	}
	return "", "", fmt.Errorf("domain: invalid pair key %q", key)
}
