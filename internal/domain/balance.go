package domain

import "github.com/alanyoungcy/arbengine/internal/money"

// BalanceResult is one venue's balances plus the slice relevant to the
// arbitraged pair.
type BalanceResult struct {
	Venue    string                      `json:"venue"`
	Balances map[string]money.PriceValue `json:"balances"`
	Base     money.PriceValue            `json:"base"`
	Quote    money.PriceValue            `json:"quote"`
}

// NewBalanceResult fills Base and Quote from balances; missing assets are
// reported as zero.
func NewBalanceResult(venue string, pair AssetPair, balances map[string]money.PriceValue) BalanceResult {
	res := BalanceResult{
		Venue:    venue,
		Balances: balances,
		Base:     money.Zero(pair.Base),
		Quote:    money.Zero(pair.Quote),
	}
	if v, ok := balances[pair.Base.Name()]; ok {
		res.Base = v
	}
	if v, ok := balances[pair.Quote.Name()]; ok {
		res.Quote = v
	}
	return res
}
