// Package profit computes how much of an arbitrage between two order books
// is achievable for a given budget.
package profit

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
)

// TaxHaircut is the share of profit kept after the illustrative tax.
var TaxHaircut = decimal.NewFromFloat(0.7)

// Fees are the taker fees charged by each side.
type Fees struct {
	Buyer  money.PercentageValue
	Seller money.PercentageValue
}

// Calculation is the outcome of one dry-run sweep over both books.
type Calculation struct {
	QuoteCurrencySpent    money.PriceValue      `json:"quote_currency_spent"`
	BaseCurrencyBuyCount  money.PriceValue      `json:"base_currency_buy_count"`
	BaseCurrencySellCount money.PriceValue      `json:"base_currency_sell_count"`
	BuyLimitPricePerUnit  money.PriceValue      `json:"buy_limit_price_per_unit"`
	SellLimitPricePerUnit money.PriceValue      `json:"sell_limit_price_per_unit"`
	QuoteCurrencyEarned   money.PriceValue      `json:"quote_currency_earned"`
	BuyFee                money.PriceValue      `json:"buy_fee"`
	SellFee               money.PriceValue      `json:"sell_fee"`
	Profit                money.PriceValue      `json:"profit"`
	ProfitAfterTax        money.PriceValue      `json:"profit_after_tax"`
	ProfitAfterFees       money.PriceValue      `json:"profit_after_fees"`
	ProfitPercentage      money.PercentageValue `json:"profit_percentage"`
	AllQuoteCurrencySpent bool                  `json:"all_quote_currency_spent"`
}

// Calculate walks the buyer's asks and the seller's bids.
//
// The ask sweep buys at most what the seller's bids can absorb (further
// limited by baseCap when non-nil) and at most quoteBudget worth of quote.
// The bid sweep then sells what was bought. Empty books produce a zero
// result. Mixing assets between the books and the budget panics.
func Calculate(buyerBook, sellerBook domain.OrderBook, quoteBudget money.PriceValue, baseCap *money.PriceValue, fees Fees) Calculation {
	quote := quoteBudget.Asset()
	base := buyerBook.Pair.Base

	sellable := money.Zero(base)
	for _, bid := range sellerBook.Bids {
		sellable = sellable.Add(bid.VolumeUnits)
	}
	if baseCap != nil {
		sellable = money.Min(sellable, *baseCap)
	}

	spent := money.Zero(quote)
	bought := money.Zero(base)
	buyLimit := money.Invalid(quote)

	for _, ask := range buyerBook.Asks {
		remaining := quoteBudget.Sub(spent)
		headroom := sellable.Sub(bought)
		if !remaining.IsPositive() || !headroom.IsPositive() {
			break
		}
		if !ask.PricePerUnit.IsPositive() || !ask.VolumeUnits.IsPositive() {
			continue
		}

		affordable := money.New(remaining.Ratio(ask.PricePerUnit), base)
		volume := money.Min(money.Min(affordable, headroom), ask.VolumeUnits)

		cost := ask.PricePerUnit.Mul(volume.Amount())
		if volume.Equal(affordable) {
			cost = remaining
		}
		spent = spent.Add(cost)
		bought = bought.Add(volume)
		buyLimit = ask.PricePerUnit
	}

	toSell := bought
	if baseCap != nil {
		toSell = money.Min(toSell, *baseCap)
	}
	earned := money.Zero(quote)
	sold := money.Zero(base)
	sellLimit := money.Invalid(quote)

	for _, bid := range sellerBook.Bids {
		left := toSell.Sub(sold)
		if !left.IsPositive() {
			break
		}
		if !bid.VolumeUnits.IsPositive() {
			continue
		}
		volume := money.Min(left, bid.VolumeUnits)
		earned = earned.Add(bid.PricePerUnit.Mul(volume.Amount()))
		sold = sold.Add(volume)
		sellLimit = bid.PricePerUnit
	}

	buyFee := fees.Buyer.Of(spent)
	sellFee := fees.Seller.Of(earned)
	profit := earned.Sub(spent)

	return Calculation{
		QuoteCurrencySpent:    spent,
		BaseCurrencyBuyCount:  bought,
		BaseCurrencySellCount: sold,
		BuyLimitPricePerUnit:  buyLimit,
		SellLimitPricePerUnit: sellLimit,
		QuoteCurrencyEarned:   earned,
		BuyFee:                buyFee,
		SellFee:               sellFee,
		Profit:                profit,
		ProfitAfterTax:        profit.Mul(TaxHaircut),
		ProfitAfterFees:       profit.Sub(buyFee).Sub(sellFee),
		ProfitPercentage:      money.FromRatio(profit.Ratio(spent)),
		AllQuoteCurrencySpent: spent.Equal(quoteBudget),
	}
}
