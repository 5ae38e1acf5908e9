package restvenue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arbengine/internal/crypto"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
	"github.com/alanyoungcy/arbengine/internal/venue"
)

// Config configures one REST venue.
type Config struct {
	Name    string
	BaseURL string
	Auth    crypto.HMACAuth
	Pair    domain.AssetPair
	// Symbol is the venue's name for Pair, e.g. "ETH_EUR".
	Symbol   string
	TakerFee money.PercentageValue
	MakerFee money.PercentageValue
	// CanGetClosedOrders is false for venues that purge finished orders.
	CanGetClosedOrders bool
	BookDepth          int
	Timeout            time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	RequestsPerSecond  float64
	Burst              int
	CancelAttempts     int
	RecentOrderAge     time.Duration
	// SharedLimiter, when set, bounds requests across processes to
	// SharedLimit per SharedWindow.
	SharedLimiter domain.RateLimiter
	SharedLimit   int
	SharedWindow  time.Duration
}

// Venue implements domain.Venue over a REST API.
type Venue struct {
	cfg    Config
	client *client
	recent *venue.RecentOrders
	logger *slog.Logger
}

// New creates a REST venue.
func New(cfg Config, logger *slog.Logger) *Venue {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.CancelAttempts <= 0 {
		cfg.CancelAttempts = venue.DefaultCancelAttempts
	}
	if cfg.SharedWindow <= 0 {
		cfg.SharedWindow = time.Second
	}
	if cfg.Symbol == "" {
		cfg.Symbol = cfg.Pair.Base.Name() + "_" + cfg.Pair.Quote.Name()
	}

	l := logger.With(slog.String("component", "rest_venue"), slog.String("venue", cfg.Name))
	var auth *crypto.HMACAuth
	if cfg.Auth.Key != "" {
		a := cfg.Auth
		auth = &a
	}
	return &Venue{
		cfg: cfg,
		client: &client{
			name:         cfg.Name,
			baseURL:      cfg.BaseURL,
			auth:         auth,
			httpClient:   &http.Client{Timeout: cfg.Timeout},
			limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
			shared:       cfg.SharedLimiter,
			sharedLimit:  cfg.SharedLimit,
			sharedWindow: cfg.SharedWindow,
			maxRetries:   cfg.MaxRetries,
			retryBackoff: cfg.RetryBackoff,
			logger:       l,
		},
		recent: venue.NewRecentOrders(cfg.RecentOrderAge, cfg.TakerFee),
		logger: l,
	}
}

func (v *Venue) Name() string                    { return v.cfg.Name }
func (v *Venue) TakerFee() money.PercentageValue { return v.cfg.TakerFee }
func (v *Venue) MakerFee() money.PercentageValue { return v.cfg.MakerFee }
func (v *Venue) CanGetClosedOrders() bool        { return v.cfg.CanGetClosedOrders }

func (v *Venue) wrap(action string, err error) error {
	return fmt.Errorf("restvenue: %s: %s: %w", v.cfg.Name, action, err)
}

// GetCurrentBalance returns the available balance of every asset.
func (v *Venue) GetCurrentBalance(ctx context.Context, pair domain.AssetPair) (domain.BalanceResult, error) {
	var resp balancesResponse
	if err := v.client.do(ctx, http.MethodGet, "/balances", nil, &resp); err != nil {
		return domain.BalanceResult{}, v.wrap("get balances", err)
	}
	balances := make(map[string]money.PriceValue, len(resp.Balances))
	for _, b := range resp.Balances {
		asset := money.AssetByName(b.Asset)
		balances[asset.Name()] = money.New(b.Available, asset)
	}
	return domain.NewBalanceResult(v.cfg.Name, pair, balances), nil
}

// GetOrderBook returns the book sorted best first.
func (v *Venue) GetOrderBook(ctx context.Context, pair domain.AssetPair) (domain.OrderBook, error) {
	if err := v.checkPair(pair); err != nil {
		return domain.OrderBook{}, err
	}
	params := url.Values{}
	params.Set("pair", v.cfg.Symbol)
	if v.cfg.BookDepth > 0 {
		params.Set("depth", strconv.Itoa(v.cfg.BookDepth))
	}
	var resp orderBookResponse
	if err := v.client.do(ctx, http.MethodGet, "/orderbook?"+params.Encode(), nil, &resp); err != nil {
		return domain.OrderBook{}, v.wrap("get order book", err)
	}

	ts := time.Now()
	if resp.Timestamp > 0 {
		ts = time.UnixMilli(resp.Timestamp)
	}
	book := domain.OrderBook{
		Pair:      pair,
		Asks:      levels(resp.Asks, pair, ts),
		Bids:      levels(resp.Bids, pair, ts),
		Timestamp: ts,
	}
	sort.SliceStable(book.Asks, func(i, j int) bool { return book.Asks[i].PricePerUnit.LessThan(book.Asks[j].PricePerUnit) })
	sort.SliceStable(book.Bids, func(i, j int) bool { return book.Bids[i].PricePerUnit.GreaterThan(book.Bids[j].PricePerUnit) })
	return book, nil
}

func (v *Venue) PlaceImmediateBuyOrder(ctx context.Context, pair domain.AssetPair, limitPrice, volume money.PriceValue) (domain.MinimalOrder, error) {
	return venue.PlaceImmediate(ctx, v, pair, domain.OrderSideBuy, limitPrice, volume, v.cfg.CancelAttempts, v.logger)
}

func (v *Venue) PlaceImmediateSellOrder(ctx context.Context, pair domain.AssetPair, limitPrice, volume money.PriceValue) (domain.MinimalOrder, error) {
	return venue.PlaceImmediate(ctx, v, pair, domain.OrderSideSell, limitPrice, volume, v.cfg.CancelAttempts, v.logger)
}

// PlaceLimitOrder submits a resting limit order and remembers it locally.
func (v *Venue) PlaceLimitOrder(ctx context.Context, pair domain.AssetPair, side domain.OrderSide, limitPrice, volume money.PriceValue) (domain.MinimalOrder, error) {
	if err := v.checkPair(pair); err != nil {
		return domain.MinimalOrder{}, err
	}
	req := placeOrderRequest{
		Pair:          v.cfg.Symbol,
		Side:          string(side),
		Type:          string(domain.OrderTypeLimit),
		Price:         limitPrice.Amount().String(),
		Volume:        volume.Amount().String(),
		ClientOrderID: uuid.NewString(),
	}
	var resp orderResponse
	if err := v.client.do(ctx, http.MethodPost, "/orders", req, &resp); err != nil {
		return domain.MinimalOrder{}, v.wrap("place order", err)
	}
	if resp.Order.ID == "" {
		return domain.MinimalOrder{}, v.wrap("place order", errors.New("response has no order id"))
	}

	limit := limitPrice
	v.recent.Remember(domain.FullOrder{
		ID:               resp.Order.ID,
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
		OpenTime:         time.Now().UTC(),
	})
	return domain.MinimalOrder{ID: resp.Order.ID, Pair: pair, Side: side}, nil
}

// CancelOrder cancels an order; an order the venue no longer has yields
// domain.ErrOrderNotFound.
func (v *Venue) CancelOrder(ctx context.Context, id string) (domain.CancelResult, error) {
	var resp cancelResponse
	err := v.client.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(id), nil, &resp)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CancelResult{OrderID: id, AlreadyGone: true}, v.wrap("cancel order "+id, domain.ErrOrderNotFound)
	}
	if err != nil {
		return domain.CancelResult{}, v.wrap("cancel order "+id, err)
	}
	return domain.CancelResult{OrderID: id, Cancelled: resp.Cancelled}, nil
}

// GetOrderInfo falls back to the local cache when the venue forgot the order.
func (v *Venue) GetOrderInfo(ctx context.Context, id string) (domain.FullOrder, error) {
	order, err := venue.OrderInfo(ctx, v.fetchOrder, v.recent, id)
	if err != nil {
		return domain.FullOrder{}, v.wrap("get order "+id, err)
	}
	return order, nil
}

func (v *Venue) fetchOrder(ctx context.Context, id string) (domain.FullOrder, error) {
	var resp orderResponse
	err := v.client.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, &resp)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.FullOrder{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.FullOrder{}, err
	}
	return resp.Order.toDomain(v.cfg.Pair)
}

func (v *Venue) GetOpenOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.FullOrder, error) {
	return v.listOrders(ctx, "open", filter)
}

func (v *Venue) GetClosedOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.FullOrder, error) {
	if !v.cfg.CanGetClosedOrders {
		return nil, v.wrap("get closed orders", errors.New("not supported by venue"))
	}
	return v.listOrders(ctx, "closed", filter)
}

func (v *Venue) listOrders(ctx context.Context, status string, filter domain.OrderFilter) ([]domain.FullOrder, error) {
	params := url.Values{}
	params.Set("status", status)
	if filter.Pair != nil {
		if err := v.checkPair(*filter.Pair); err != nil {
			return nil, err
		}
		params.Set("pair", v.cfg.Symbol)
	}
	if filter.Since != nil {
		params.Set("since", strconv.FormatInt(filter.Since.UnixMilli(), 10))
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}

	var resp ordersResponse
	if err := v.client.do(ctx, http.MethodGet, "/orders?"+params.Encode(), nil, &resp); err != nil {
		return nil, v.wrap("list "+status+" orders", err)
	}
	out := make([]domain.FullOrder, 0, len(resp.Orders))
	for _, dto := range resp.Orders {
		o, err := dto.toDomain(v.cfg.Pair)
		if err != nil {
			return nil, v.wrap("list "+status+" orders", err)
		}
		out = append(out, o)
	}
	return out, nil
}

// ListProducts returns the venue's tradable pairs keyed "BASE/QUOTE".
func (v *Venue) ListProducts(ctx context.Context) (map[string]domain.Product, error) {
	var resp productsResponse
	if err := v.client.do(ctx, http.MethodGet, "/products", nil, &resp); err != nil {
		return nil, v.wrap("list products", err)
	}
	out := make(map[string]domain.Product, len(resp.Products))
	for _, dto := range resp.Products {
		p := dto.toDomain()
		out[p.PairKey] = p
	}
	return out, nil
}

func (v *Venue) checkPair(pair domain.AssetPair) error {
	if pair.Key() != v.cfg.Pair.Key() {
		return v.wrap("pair "+pair.Key(), domain.ErrUnknownProduct)
	}
	return nil
}

var (
	_ domain.Venue           = (*Venue)(nil)
	_ domain.ProductLister   = (*Venue)(nil)
	_ venue.LimitOrderPlacer = (*Venue)(nil)
)
