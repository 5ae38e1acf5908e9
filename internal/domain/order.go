package domain

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/arbengine/internal/money"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// MustValidate panics on an unknown side. Sides are only ever produced by
// code, so an unknown value is a programming error.
func (s OrderSide) MustValidate() {
	if s != OrderSideBuy && s != OrderSideSell {
		panic(fmt.Sprintf("domain: invalid order side %q", string(s)))
	}
}

// OrderType is the pricing model of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderState tracks the order lifecycle as reported by the venue.
type OrderState string

const (
	OrderStateOpen      OrderState = "open"
	OrderStateClosed    OrderState = "closed"
	OrderStateCancelled OrderState = "cancelled"
	OrderStateUnknown   OrderState = "unknown"
)

// IsFinal reports whether no further fills can happen.
func (s OrderState) IsFinal() bool {
	return s == OrderStateClosed || s == OrderStateCancelled
}

// MinimalOrder is what a venue returns right after placement.
type MinimalOrder struct {
	ID   string    `json:"id"`
	Pair AssetPair `json:"pair"`
	Side OrderSide `json:"side"`
}

// FullOrder is an order as queried back from a venue.
//
// Volume and FilledVolume are in the base asset; the cost and fee fields are
// in the quote asset. For buys CostIncludingFee is what was paid (cost plus
// fee); for sells it is what was received (cost minus fee).
type FullOrder struct {
	ID               string            `json:"id"`
	Pair             AssetPair         `json:"pair"`
	Side             OrderSide         `json:"side"`
	Type             OrderType         `json:"type"`
	State            OrderState        `json:"state"`
	Volume           money.PriceValue  `json:"volume"`
	FilledVolume     money.PriceValue  `json:"filled_volume"`
	LimitPrice       *money.PriceValue `json:"limit_price,omitempty"`
	Fee              money.PriceValue  `json:"fee"`
	CostExcludingFee money.PriceValue  `json:"cost_excluding_fee"`
	CostIncludingFee money.PriceValue  `json:"cost_including_fee"`
	OpenTime         time.Time         `json:"open_time"`
	CloseTime        *time.Time        `json:"close_time,omitempty"`
	ExpireTime       *time.Time        `json:"expire_time,omitempty"`
}

// AverageUnitPrice returns CostIncludingFee / FilledVolume in the quote
// asset. ok is false when nothing was filled.
func (o FullOrder) AverageUnitPrice() (price money.PriceValue, ok bool) {
	if !o.FilledVolume.IsValid() || o.FilledVolume.IsZero() {
		return money.Invalid(o.Pair.Quote), false
	}
	return o.CostIncludingFee.Div(o.FilledVolume.Amount()), true
}

// CancelResult reports the outcome of a cancel request. AlreadyGone is set
// when the venue no longer knew the order, which after an immediate order
// usually means it was filled.
type CancelResult struct {
	OrderID     string `json:"order_id"`
	Cancelled   bool   `json:"cancelled"`
	AlreadyGone bool   `json:"already_gone"`
}

// OrderFilter narrows GetOpenOrders/GetClosedOrders.
type OrderFilter struct {
	Pair  *AssetPair
	Since *time.Time
	Limit int
}
