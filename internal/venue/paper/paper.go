// Package paper implements an in-memory venue that matches orders against a
// static order book. It backs "paper" venues in configuration and the saga
// tests.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
	"github.com/alanyoungcy/arbengine/internal/venue"
)

// Op names a venue operation for failure injection.
type Op string

const (
	OpBalance   Op = "balance"
	OpOrderBook Op = "order_book"
	OpPlace     Op = "place"
	OpOrderInfo Op = "order_info"
	OpCancel    Op = "cancel"
)

// Config configures a paper venue.
type Config struct {
	Name      string
	Pair      domain.AssetPair
	TakerFee  money.PercentageValue
	MakerFee  money.PercentageValue
	MinVolume money.PriceValue
	// FillRatio caps each order's fill at this share of its volume; zero
	// means 1 (fill as much as the book allows).
	FillRatio decimal.Decimal
	// PurgeClosed drops orders from the venue as soon as they stop being
	// open, like venues that forget filled orders.
	PurgeClosed bool
}

// Venue is an in-memory venue. Safe for concurrent use.
type Venue struct {
	cfg    Config
	recent *venue.RecentOrders
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	book     domain.OrderBook
	balances map[string]money.PriceValue
	orders   map[string]domain.FullOrder
	failures map[Op]error
	placed   []domain.FullOrder
}

// New creates a paper venue with an empty book and no balances.
func New(cfg Config, logger *slog.Logger) *Venue {
	if cfg.FillRatio.IsZero() {
		cfg.FillRatio = decimal.NewFromInt(1)
	}
	if !cfg.MinVolume.IsValid() {
		cfg.MinVolume = money.Zero(cfg.Pair.Base)
	}
	return &Venue{
		cfg:      cfg,
		recent:   venue.NewRecentOrders(venue.DefaultRecentOrderAge, cfg.TakerFee),
		logger:   logger.With(slog.String("component", "paper_venue"), slog.String("venue", cfg.Name)),
		now:      time.Now,
		book:     domain.OrderBook{Pair: cfg.Pair},
		balances: make(map[string]money.PriceValue),
		orders:   make(map[string]domain.FullOrder),
		failures: make(map[Op]error),
	}
}

// SetOrderBook replaces the book. Asks and bids are sorted best first.
func (v *Venue) SetOrderBook(asks, bids []domain.OrderBookLevel) {
	asks = append([]domain.OrderBookLevel(nil), asks...)
	bids = append([]domain.OrderBookLevel(nil), bids...)
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].PricePerUnit.LessThan(asks[j].PricePerUnit) })
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].PricePerUnit.GreaterThan(bids[j].PricePerUnit) })

	v.mu.Lock()
	defer v.mu.Unlock()
	v.book = domain.OrderBook{Pair: v.cfg.Pair, Asks: asks, Bids: bids, Timestamp: v.now()}
}

// SetBalance sets the balance of one asset.
func (v *Venue) SetBalance(value money.PriceValue) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[value.Asset().Name()] = value
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (v *Venue) FailOn(op Op, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.failures, op)
		return
	}
	v.failures[op] = err
}

// Placed returns every order placed so far, as placed.
func (v *Venue) Placed() []domain.FullOrder {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.FullOrder(nil), v.placed...)
}

func (v *Venue) Name() string                    { return v.cfg.Name }
func (v *Venue) TakerFee() money.PercentageValue { return v.cfg.TakerFee }
func (v *Venue) MakerFee() money.PercentageValue { return v.cfg.MakerFee }
func (v *Venue) CanGetClosedOrders() bool        { return !v.cfg.PurgeClosed }
func (v *Venue) failure(op Op) error             { return v.failures[op] }

func (v *Venue) GetCurrentBalance(_ context.Context, pair domain.AssetPair) (domain.BalanceResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure(OpBalance); err != nil {
		return domain.BalanceResult{}, err
	}
	balances := make(map[string]money.PriceValue, len(v.balances))
	for k, b := range v.balances {
		balances[k] = b
	}
	return domain.NewBalanceResult(v.cfg.Name, pair, balances), nil
}

func (v *Venue) GetOrderBook(_ context.Context, pair domain.AssetPair) (domain.OrderBook, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure(OpOrderBook); err != nil {
		return domain.OrderBook{}, err
	}
	if pair.Key() != v.cfg.Pair.Key() {
		return domain.OrderBook{}, fmt.Errorf("paper: %s: %w", pair.Key(), domain.ErrUnknownProduct)
	}
	return domain.OrderBook{
		Pair:      v.book.Pair,
		Asks:      append([]domain.OrderBookLevel(nil), v.book.Asks...),
		Bids:      append([]domain.OrderBookLevel(nil), v.book.Bids...),
		Timestamp: v.book.Timestamp,
	}, nil
}

func (v *Venue) PlaceImmediateBuyOrder(ctx context.Context, pair domain.AssetPair, limitPrice, volume money.PriceValue) (domain.MinimalOrder, error) {
	return venue.PlaceImmediate(ctx, v, pair, domain.OrderSideBuy, limitPrice, volume, venue.DefaultCancelAttempts, v.logger)
}

func (v *Venue) PlaceImmediateSellOrder(ctx context.Context, pair domain.AssetPair, limitPrice, volume money.PriceValue) (domain.MinimalOrder, error) {
	return venue.PlaceImmediate(ctx, v, pair, domain.OrderSideSell, limitPrice, volume, venue.DefaultCancelAttempts, v.logger)
}

// PlaceLimitOrder matches against the book and leaves the remainder open.
func (v *Venue) PlaceLimitOrder(_ context.Context, pair domain.AssetPair, side domain.OrderSide, limitPrice, volume money.PriceValue) (domain.MinimalOrder, error) {
	side.MustValidate()
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure(OpPlace); err != nil {
		return domain.MinimalOrder{}, err
	}
	if pair.Key() != v.cfg.Pair.Key() {
		return domain.MinimalOrder{}, fmt.Errorf("paper: %s: %w", pair.Key(), domain.ErrUnknownProduct)
	}
	if !volume.IsPositive() || !limitPrice.IsPositive() {
		return domain.MinimalOrder{}, domain.ErrInvalidOrder
	}
	if volume.LessThan(v.cfg.MinVolume) {
		return domain.MinimalOrder{}, fmt.Errorf("paper: volume %s below minimum %s: %w", volume, v.cfg.MinVolume, domain.ErrInvalidOrder)
	}
	if err := v.checkFundsLocked(pair, side, limitPrice, volume); err != nil {
		return domain.MinimalOrder{}, err
	}

	limit := limitPrice
	order := domain.FullOrder{
		ID:               uuid.NewString(),
		Pair:             pair,
		Side:             side,
		Type:             domain.OrderTypeLimit,
		State:            domain.OrderStateOpen,
		Volume:           volume,
		FilledVolume:     money.Zero(pair.Base),
		LimitPrice:       &limit,
		Fee:              money.Zero(pair.Quote),
		CostExcludingFee: money.Zero(pair.Quote),
		CostIncludingFee: money.Zero(pair.Quote),
		OpenTime:         v.now(),
	}
	v.placed = append(v.placed, order)

	v.matchLocked(&order)
	if order.FilledVolume.Equal(order.Volume) {
		v.closeLocked(&order, domain.OrderStateClosed)
	}
	v.orders[order.ID] = order
	v.recent.Remember(order)

	v.logger.Debug("paper order placed",
		slog.String("order_id", order.ID),
		slog.String("side", string(side)),
		slog.String("volume", volume.String()),
		slog.String("filled", order.FilledVolume.String()),
	)
	return domain.MinimalOrder{ID: order.ID, Pair: pair, Side: side}, nil
}

func (v *Venue) checkFundsLocked(pair domain.AssetPair, side domain.OrderSide, limitPrice, volume money.PriceValue) error {
	if side == domain.OrderSideBuy {
		need := limitPrice.Mul(volume.Amount())
		need = need.Add(v.cfg.TakerFee.Of(need))
		have, ok := v.balances[pair.Quote.Name()]
		if !ok || have.LessThan(need) {
			return fmt.Errorf("paper: need %s: %w", need, domain.ErrInsufficientBalance)
		}
		return nil
	}
	have, ok := v.balances[pair.Base.Name()]
	if !ok || have.LessThan(volume) {
		return fmt.Errorf("paper: need %s: %w", volume, domain.ErrInsufficientBalance)
	}
	return nil
}

// matchLocked fills order against the opposite side of the book, consuming
// liquidity and moving balances.
func (v *Venue) matchLocked(order *domain.FullOrder) {
	levels := &v.book.Asks
	crosses := func(price money.PriceValue) bool { return price.LessThanOrEqual(*order.LimitPrice) }
	if order.Side == domain.OrderSideSell {
		levels = &v.book.Bids
		crosses = func(price money.PriceValue) bool { return price.GreaterThanOrEqual(*order.LimitPrice) }
	}

	want := order.Volume.Mul(v.cfg.FillRatio).RoundStrategy(money.AlwaysRoundDown)
	filled := money.Zero(order.Pair.Base)
	cost := money.Zero(order.Pair.Quote)

	remaining := (*levels)[:0]
	for _, lvl := range *levels {
		left := want.Sub(filled)
		if !left.IsPositive() || !crosses(lvl.PricePerUnit) {
			remaining = append(remaining, lvl)
			continue
		}
		take := money.Min(left, lvl.VolumeUnits)
		filled = filled.Add(take)
		cost = cost.Add(lvl.PricePerUnit.Mul(take.Amount()))
		lvl.VolumeUnits = lvl.VolumeUnits.Sub(take)
		if lvl.VolumeUnits.IsPositive() {
			remaining = append(remaining, lvl)
		}
	}
	*levels = remaining

	if filled.IsZero() {
		return
	}
	fee := v.cfg.TakerFee.Of(cost)
	order.FilledVolume = filled
	order.CostExcludingFee = cost
	order.Fee = fee

	base, quote := order.Pair.Base.Name(), order.Pair.Quote.Name()
	if order.Side == domain.OrderSideBuy {
		order.CostIncludingFee = cost.Add(fee)
		v.balances[quote] = v.balances[quote].Sub(order.CostIncludingFee)
		v.balances[base] = v.balanceLocked(order.Pair.Base).Add(filled)
	} else {
		order.CostIncludingFee = cost.Sub(fee)
		v.balances[base] = v.balances[base].Sub(filled)
		v.balances[quote] = v.balanceLocked(order.Pair.Quote).Add(order.CostIncludingFee)
	}
}

func (v *Venue) balanceLocked(asset money.Asset) money.PriceValue {
	if b, ok := v.balances[asset.Name()]; ok {
		return b
	}
	return money.Zero(asset)
}

func (v *Venue) closeLocked(order *domain.FullOrder, state domain.OrderState) {
	order.State = state
	closed := v.now()
	order.CloseTime = &closed
}

func (v *Venue) CancelOrder(_ context.Context, id string) (domain.CancelResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure(OpCancel); err != nil {
		return domain.CancelResult{}, err
	}
	order, ok := v.orders[id]
	if !ok || order.State != domain.OrderStateOpen {
		v.purgeLocked(id)
		return domain.CancelResult{}, fmt.Errorf("paper: cancel %s: %w", id, domain.ErrOrderNotFound)
	}
	v.closeLocked(&order, domain.OrderStateCancelled)
	v.orders[id] = order
	v.purgeLocked(id)
	return domain.CancelResult{OrderID: id, Cancelled: true}, nil
}

func (v *Venue) purgeLocked(id string) {
	if !v.cfg.PurgeClosed {
		return
	}
	if o, ok := v.orders[id]; ok && o.State.IsFinal() {
		v.recent.Remember(o)
		delete(v.orders, id)
	}
}

func (v *Venue) GetOrderInfo(ctx context.Context, id string) (domain.FullOrder, error) {
	return venue.OrderInfo(ctx, v.lookup, v.recent, id)
}

func (v *Venue) lookup(_ context.Context, id string) (domain.FullOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure(OpOrderInfo); err != nil {
		return domain.FullOrder{}, err
	}
	order, ok := v.orders[id]
	if !ok {
		return domain.FullOrder{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (v *Venue) GetOpenOrders(_ context.Context, filter domain.OrderFilter) ([]domain.FullOrder, error) {
	return v.list(filter, func(o domain.FullOrder) bool { return o.State == domain.OrderStateOpen }), nil
}

func (v *Venue) GetClosedOrders(_ context.Context, filter domain.OrderFilter) ([]domain.FullOrder, error) {
	return v.list(filter, func(o domain.FullOrder) bool { return o.State.IsFinal() }), nil
}

func (v *Venue) list(filter domain.OrderFilter, keep func(domain.FullOrder) bool) []domain.FullOrder {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.FullOrder
	for _, o := range v.orders {
		if !keep(o) {
			continue
		}
		if filter.Pair != nil && filter.Pair.Key() != o.Pair.Key() {
			continue
		}
		if filter.Since != nil && o.OpenTime.Before(*filter.Since) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.After(out[j].OpenTime) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// ListProducts reports the single configured pair.
func (v *Venue) ListProducts(context.Context) (map[string]domain.Product, error) {
	return map[string]domain.Product{
		v.cfg.Pair.Key(): {
			PairKey:        v.cfg.Pair.Key(),
			MinVolume:      v.cfg.MinVolume,
			VolumeDecimals: v.cfg.Pair.Base.DecimalPlaces(),
			PriceDecimals:  v.cfg.Pair.Quote.DecimalPlaces(),
			TakerFee:       v.cfg.TakerFee,
			MakerFee:       v.cfg.MakerFee,
		},
	}, nil
}

var (
	_ domain.Venue           = (*Venue)(nil)
	_ domain.ProductLister   = (*Venue)(nil)
	_ venue.LimitOrderPlacer = (*Venue)(nil)
)
