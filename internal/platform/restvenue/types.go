package restvenue

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
)

// --------------------------------------------------------------------------
// Venue API DTOs
// --------------------------------------------------------------------------

type balanceDTO struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
}

type balancesResponse struct {
	Balances []balanceDTO `json:"balances"`
}

type levelDTO struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

type orderBookResponse struct {
	Asks      []levelDTO `json:"asks"`
	Bids      []levelDTO `json:"bids"`
	Timestamp int64      `json:"timestamp"` // unix millis
}

type placeOrderRequest struct {
	Pair          string `json:"pair"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Volume        string `json:"volume"`
	ClientOrderID string `json:"client_order_id"`
}

type orderDTO struct {
	ID           string           `json:"id"`
	Pair         string           `json:"pair"`
	Side         string           `json:"side"`
	Type         string           `json:"type"`
	Status       string           `json:"status"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Volume       decimal.Decimal  `json:"volume"`
	FilledVolume decimal.Decimal  `json:"filled_volume"`
	Cost         decimal.Decimal  `json:"cost"`
	Fee          decimal.Decimal  `json:"fee"`
	CreatedAt    time.Time        `json:"created_at"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
}

type orderResponse struct {
	Order orderDTO `json:"order"`
}

type ordersResponse struct {
	Orders []orderDTO `json:"orders"`
}

type cancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

type productDTO struct {
	Pair           string          `json:"pair"`
	MinVolume      decimal.Decimal `json:"min_volume"`
	VolumeDecimals int32           `json:"volume_decimals"`
	PriceDecimals  int32           `json:"price_decimals"`
	TakerFeePct    decimal.Decimal `json:"taker_fee_pct"`
	MakerFeePct    decimal.Decimal `json:"maker_fee_pct"`
}

type productsResponse struct {
	Products []productDTO `json:"products"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --------------------------------------------------------------------------
// Decoders
// --------------------------------------------------------------------------

func orderState(status string) domain.OrderState {
	switch strings.ToLower(status) {
	case "new", "open", "partially_filled":
		return domain.OrderStateOpen
	case "filled", "closed", "done":
		return domain.OrderStateClosed
	case "cancelled", "canceled", "expired", "rejected":
		return domain.OrderStateCancelled
	}
	return domain.OrderStateUnknown
}

func orderSide(side string) (domain.OrderSide, error) {
	switch s := domain.OrderSide(strings.ToLower(side)); s {
	case domain.OrderSideBuy, domain.OrderSideSell:
		return s, nil
	}
	return "", fmt.Errorf("restvenue: unknown order side %q", side)
}

func (o orderDTO) toDomain(pair domain.AssetPair) (domain.FullOrder, error) {
	side, err := orderSide(o.Side)
	if err != nil {
		return domain.FullOrder{}, err
	}
	typ := domain.OrderTypeLimit
	if strings.EqualFold(o.Type, string(domain.OrderTypeMarket)) {
		typ = domain.OrderTypeMarket
	}
	cost := money.New(o.Cost, pair.Quote)
	fee := money.New(o.Fee, pair.Quote)
	full := domain.FullOrder{
		ID:               o.ID,
		Pair:             pair,
		Side:             side,
		Type:             typ,
		State:            orderState(o.Status),
		Volume:           money.New(o.Volume, pair.Base),
		FilledVolume:     money.New(o.FilledVolume, pair.Base),
		Fee:              fee,
		CostExcludingFee: cost,
		OpenTime:         o.CreatedAt,
		CloseTime:        o.ClosedAt,
		ExpireTime:       o.ExpiresAt,
	}
	if o.Price != nil {
		limit := money.New(*o.Price, pair.Quote)
		full.LimitPrice = &limit
	}
	if side == domain.OrderSideBuy {
		full.CostIncludingFee = cost.Add(fee)
	} else {
		full.CostIncludingFee = cost.Sub(fee)
	}
	return full, nil
}

func levels(dtos []levelDTO, pair domain.AssetPair, ts time.Time) []domain.OrderBookLevel {
	out := make([]domain.OrderBookLevel, 0, len(dtos))
	for _, l := range dtos {
		out = append(out, domain.OrderBookLevel{
			PricePerUnit: money.New(l.Price, pair.Quote),
			VolumeUnits:  money.New(l.Volume, pair.Base),
			Timestamp:    ts,
		})
	}
	return out
}

func (p productDTO) toDomain() domain.Product {
	base := "?"
	if b, _, err := domain.ParsePairKey(p.Pair); err == nil {
		base = b
	}
	return domain.Product{
		PairKey:        normalizePairKey(p.Pair),
		MinVolume:      money.New(p.MinVolume, money.AssetByName(base)),
		VolumeDecimals: p.VolumeDecimals,
		PriceDecimals:  p.PriceDecimals,
		TakerFee:       money.FromPercent(p.TakerFeePct),
		MakerFee:       money.FromPercent(p.MakerFeePct),
	}
}

// normalizePairKey turns "eth_eur" or "ETH-EUR" into "ETH/EUR".
func normalizePairKey(symbol string) string {
	base, quote, err := domain.ParsePairKey(symbol)
	if err != nil {
		return strings.ToUpper(symbol)
	}
	return base + "/" + quote
}
