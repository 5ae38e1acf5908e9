package domain

import (
	"time"

	"github.com/alanyoungcy/arbengine/internal/money"
)

// OrderBookLevel is one price level. PricePerUnit is in the pair's quote
// asset and VolumeUnits in its base asset.
type OrderBookLevel struct {
	PricePerUnit money.PriceValue `json:"price_per_unit"`
	VolumeUnits  money.PriceValue `json:"volume_units"`
	Timestamp    time.Time        `json:"timestamp"`
}

// OrderBook is a snapshot of one venue's book for one pair. Asks are sorted
// by ascending price and bids by descending price.
type OrderBook struct {
	Pair      AssetPair        `json:"pair"`
	Asks      []OrderBookLevel `json:"asks"`
	Bids      []OrderBookLevel `json:"bids"`
	Timestamp time.Time        `json:"timestamp"`
}

// BestAsk returns the lowest ask, if any.
func (b OrderBook) BestAsk() (OrderBookLevel, bool) {
	if len(b.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Asks[0], true
}

// BestBid returns the highest bid, if any.
func (b OrderBook) BestBid() (OrderBookLevel, bool) {
	if len(b.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Bids[0], true
}
