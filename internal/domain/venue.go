package domain

import (
	"context"

	"github.com/alanyoungcy/arbengine/internal/money"
)

// Venue is the capability contract every trading venue adapter exposes.
//
// The Immediate order methods have immediate-or-cancel semantics even on
// venues without native IOC support; adapters place a limit order and then
// cancel whatever did not fill (see venue.PlaceImmediate).
type Venue interface {
	Name() string

	GetCurrentBalance(ctx context.Context, pair AssetPair) (BalanceResult, error)
	GetOrderBook(ctx context.Context, pair AssetPair) (OrderBook, error)

	PlaceImmediateBuyOrder(ctx context.Context, pair AssetPair, limitPrice, volume money.PriceValue) (MinimalOrder, error)
	PlaceImmediateSellOrder(ctx context.Context, pair AssetPair, limitPrice, volume money.PriceValue) (MinimalOrder, error)

	GetOrderInfo(ctx context.Context, id string) (FullOrder, error)
	CancelOrder(ctx context.Context, id string) (CancelResult, error)
	GetOpenOrders(ctx context.Context, filter OrderFilter) ([]FullOrder, error)
	// GetClosedOrders must not be relied upon when CanGetClosedOrders is false.
	GetClosedOrders(ctx context.Context, filter OrderFilter) ([]FullOrder, error)

	TakerFee() money.PercentageValue
	MakerFee() money.PercentageValue
	CanGetClosedOrders() bool
}

// Product describes one tradable pair on a venue.
type Product struct {
	PairKey        string                `json:"pair"`
	MinVolume      money.PriceValue      `json:"min_volume"`
	VolumeDecimals int32                 `json:"volume_decimals"`
	PriceDecimals  int32                 `json:"price_decimals"`
	TakerFee       money.PercentageValue `json:"taker_fee"`
	MakerFee       money.PercentageValue `json:"maker_fee"`
}

// ProductLister is implemented by venues that can list their tradable
// products and fee schedule. The call is expensive; wrap it in a
// product.Cache.
type ProductLister interface {
	ListProducts(ctx context.Context) (map[string]Product, error)
}
