package restvenue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/crypto"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
)

var ethEUR = domain.NewAssetPair(money.ETH, money.EUR)

var testAuth = crypto.HMACAuth{Key: "key-1", Secret: "c2VjcmV0", Passphrase: "pass"}

// fakeExchange is an in-memory venue API that rejects unsigned requests.
type fakeExchange struct {
	t      *testing.T
	mux    *http.ServeMux
	mu     sync.Mutex
	calls  map[string]int
	placed []placeOrderRequest
}

func newFakeExchange(t *testing.T) (*fakeExchange, *httptest.Server) {
	t.Helper()
	f := &fakeExchange{t: t, mux: http.NewServeMux(), calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeExchange) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if err := testAuth.Verify(r.Header, r.Method, r.URL.RequestURI(), string(body), time.Minute); err != nil {
		writeAPIError(w, http.StatusUnauthorized, "bad_signature", err.Error())
		return
	}
	f.mu.Lock()
	f.calls[r.Method+" "+r.URL.Path]++
	if r.Method == http.MethodPost && r.URL.Path == "/orders" {
		var req placeOrderRequest
		_ = json.Unmarshal(body, &req)
		f.placed = append(f.placed, req)
	}
	f.mu.Unlock()
	f.mux.ServeHTTP(w, r)
}

func (f *fakeExchange) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "message": msg})
}

func newTestVenue(baseURL string, mutate func(*Config)) *Venue {
	cfg := Config{
		Name:               "rest",
		BaseURL:            baseURL,
		Auth:               testAuth,
		Pair:               ethEUR,
		TakerFee:           money.PercentFromFloat(0.25),
		CanGetClosedOrders: true,
		RetryBackoff:       time.Millisecond,
		RequestsPerSecond:  1000,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestVenue_GetOrderBookSortsAndSigns(t *testing.T) {
	// Arrange
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("GET /orderbook", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETH_EUR", r.URL.Query().Get("pair"))
		writeJSON(w, http.StatusOK, map[string]any{
			"asks":      []map[string]string{{"price": "101", "volume": "1"}, {"price": "100", "volume": "2"}},
			"bids":      []map[string]string{{"price": "98", "volume": "1"}, {"price": "99", "volume": "3"}},
			"timestamp": 1700000000000,
		})
	})
	v := newTestVenue(srv.URL, nil)

	// Act
	book, err := v.GetOrderBook(context.Background(), ethEUR)

	// Assert
	require.NoError(t, err)
	require.Len(t, book.Asks, 2)
	require.Len(t, book.Bids, 2)
	best, ok := book.BestAsk()
	require.True(t, ok)
	assert.True(t, best.PricePerUnit.Equal(money.NewFromFloat(100, money.EUR)))
	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, bid.PricePerUnit.Equal(money.NewFromFloat(99, money.EUR)))
	assert.Equal(t, time.UnixMilli(1700000000000), book.Timestamp)
}

func TestVenue_UnknownPairRejectedLocally(t *testing.T) {
	_, srv := newFakeExchange(t)
	v := newTestVenue(srv.URL, nil)

	_, err := v.GetOrderBook(context.Background(), domain.NewAssetPair(money.BTC, money.EUR))
	assert.ErrorIs(t, err, domain.ErrUnknownProduct)
}

func TestVenue_BadCredentialsAreUnauthorized(t *testing.T) {
	// Arrange
	_, srv := newFakeExchange(t)
	v := newTestVenue(srv.URL, func(c *Config) { c.Auth.Secret = "d3Jvbmc=" })

	// Act
	_, err := v.GetCurrentBalance(context.Background(), ethEUR)

	// Assert
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad_signature", apiErr.Code)
}

func TestVenue_GetCurrentBalanceDefaultsMissingAssets(t *testing.T) {
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("GET /balances", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"balances": []map[string]string{{"asset": "EUR", "available": "1234.5"}},
		})
	})
	v := newTestVenue(srv.URL, nil)

	bal, err := v.GetCurrentBalance(context.Background(), ethEUR)

	require.NoError(t, err)
	assert.Equal(t, "rest", bal.Venue)
	assert.True(t, bal.Quote.Equal(money.NewFromFloat(1234.5, money.EUR)))
	assert.True(t, bal.Base.IsZero())
}

func TestVenue_ReadsRetryOnServerErrors(t *testing.T) {
	// Arrange
	f, srv := newFakeExchange(t)
	var hits atomic.Int32
	f.mux.HandleFunc("GET /balances", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			writeAPIError(w, http.StatusServiceUnavailable, "busy", "try later")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"balances": []any{}})
	})
	v := newTestVenue(srv.URL, nil)

	// Act
	_, err := v.GetCurrentBalance(context.Background(), ethEUR)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, f.count("GET /balances"))
}

func TestVenue_ReadsGiveUpAfterMaxRetries(t *testing.T) {
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("GET /balances", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusTooManyRequests, "slow_down", "rate limited")
	})
	v := newTestVenue(srv.URL, func(c *Config) { c.MaxRetries = 1 })

	_, err := v.GetCurrentBalance(context.Background(), ethEUR)

	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 2, f.count("GET /balances"))
}

func TestVenue_OversizedResponseIsRejected(t *testing.T) {
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("GET /balances", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balances":[],"pad":"`))
		_, _ = w.Write(bytes.Repeat([]byte("x"), maxResponseBytes))
		_, _ = w.Write([]byte(`"}`))
	})
	v := newTestVenue(srv.URL, nil)

	_, err := v.GetCurrentBalance(context.Background(), ethEUR)

	assert.ErrorIs(t, err, errResponseTooLarge)
	assert.Equal(t, 1, f.count("GET /balances"))
}

func TestVenue_WritesAreNotRetried(t *testing.T) {
	// Arrange
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusBadGateway, "upstream", "gateway")
	})
	v := newTestVenue(srv.URL, nil)

	// Act
	_, err := v.PlaceImmediateBuyOrder(context.Background(), ethEUR,
		money.NewFromFloat(100, money.EUR), money.NewFromFloat(1, money.ETH))

	// Assert
	require.Error(t, err)
	assert.Equal(t, 1, f.count("POST /orders"))
	assert.Len(t, f.placed, 1)
}

func TestVenue_InsufficientFundsMapsToSentinel(t *testing.T) {
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusBadRequest, "insufficient_funds", "not enough EUR")
	})
	v := newTestVenue(srv.URL, nil)

	_, err := v.PlaceImmediateSellOrder(context.Background(), ethEUR,
		money.NewFromFloat(100, money.EUR), money.NewFromFloat(1, money.ETH))

	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestVenue_ImmediateOrderCancelsRemainder(t *testing.T) {
	// Arrange
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"order": map[string]string{"id": "o-1", "status": "open"}})
	})
	var cancelled atomic.Value
	f.mux.HandleFunc("DELETE /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		cancelled.Store(r.PathValue("id"))
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "cancelled": true})
	})
	v := newTestVenue(srv.URL, nil)

	// Act
	placed, err := v.PlaceImmediateBuyOrder(context.Background(), ethEUR,
		money.NewFromFloat(100.5, money.EUR), money.NewFromFloat(1.25, money.ETH))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "o-1", placed.ID)
	assert.Equal(t, domain.OrderSideBuy, placed.Side)
	assert.Equal(t, "o-1", cancelled.Load())

	require.Len(t, f.placed, 1)
	req := f.placed[0]
	assert.Equal(t, "ETH_EUR", req.Pair)
	assert.Equal(t, "buy", req.Side)
	assert.Equal(t, "limit", req.Type)
	assert.Equal(t, "100.5", req.Price)
	assert.Equal(t, "1.25", req.Volume)
	assert.NotEmpty(t, req.ClientOrderID)
}

func TestVenue_CancelOfVanishedOrderIsTolerated(t *testing.T) {
	// Arrange
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"order": map[string]string{"id": "o-2"}})
	})
	f.mux.HandleFunc("DELETE /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "not_found", "order filled")
	})
	v := newTestVenue(srv.URL, nil)

	// Act
	placed, err := v.PlaceImmediateSellOrder(context.Background(), ethEUR,
		money.NewFromFloat(99, money.EUR), money.NewFromFloat(1, money.ETH))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "o-2", placed.ID)
	assert.Equal(t, 1, f.count("DELETE /orders/o-2"))
}

func TestVenue_CancelOrderReportsNotFound(t *testing.T) {
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("DELETE /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "not_found", "gone")
	})
	v := newTestVenue(srv.URL, nil)

	res, err := v.CancelOrder(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.True(t, res.AlreadyGone)
}

func TestVenue_GetOrderInfoDecodesVenueOrder(t *testing.T) {
	// Arrange
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"order": map[string]any{
			"id":            r.PathValue("id"),
			"side":          "SELL",
			"type":          "limit",
			"status":        "filled",
			"price":         "102",
			"volume":        "2",
			"filled_volume": "2",
			"cost":          "204",
			"fee":           "0.51",
			"created_at":    "2024-01-02T03:04:05Z",
			"closed_at":     "2024-01-02T03:04:06Z",
		}})
	})
	v := newTestVenue(srv.URL, nil)

	// Act
	order, err := v.GetOrderInfo(context.Background(), "o-9")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "o-9", order.ID)
	assert.Equal(t, domain.OrderSideSell, order.Side)
	assert.Equal(t, domain.OrderStateClosed, order.State)
	require.NotNil(t, order.LimitPrice)
	assert.True(t, order.LimitPrice.Equal(money.NewFromFloat(102, money.EUR)))
	assert.True(t, order.FilledVolume.Equal(money.NewFromFloat(2, money.ETH)))
	assert.True(t, order.CostIncludingFee.Equal(money.NewFromFloat(203.49, money.EUR)))
	require.NotNil(t, order.CloseTime)
}

func TestVenue_GetOrderInfoFallsBackToRecentOrders(t *testing.T) {
	// Arrange
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"order": map[string]string{"id": "o-3"}})
	})
	f.mux.HandleFunc("DELETE /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "not_found", "gone")
	})
	f.mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "not_found", "purged")
	})
	v := newTestVenue(srv.URL, func(c *Config) { c.CanGetClosedOrders = false })
	ctx := context.Background()

	placed, err := v.PlaceImmediateBuyOrder(ctx, ethEUR,
		money.NewFromFloat(100, money.EUR), money.NewFromFloat(2, money.ETH))
	require.NoError(t, err)

	// Act
	order, err := v.GetOrderInfo(ctx, placed.ID)
	_, unknownErr := v.GetOrderInfo(ctx, "never-placed")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateClosed, order.State)
	assert.True(t, order.FilledVolume.Equal(money.NewFromFloat(2, money.ETH)))
	assert.True(t, order.CostExcludingFee.Equal(money.NewFromFloat(200, money.EUR)))
	assert.True(t, order.CostIncludingFee.Equal(money.NewFromFloat(200.5, money.EUR)))
	assert.ErrorIs(t, unknownErr, domain.ErrOrderNotFound)
}

func TestVenue_ListOrders(t *testing.T) {
	// Arrange
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{"orders": []map[string]any{{
			"id": status + "-1", "side": "buy", "status": status, "volume": "1",
			"filled_volume": "0", "cost": "0", "fee": "0",
		}}})
	})
	v := newTestVenue(srv.URL, nil)
	ctx := context.Background()
	filter := domain.OrderFilter{Pair: &ethEUR, Limit: 5}

	// Act
	open, err := v.GetOpenOrders(ctx, filter)
	require.NoError(t, err)
	closed, err := v.GetClosedOrders(ctx, filter)
	require.NoError(t, err)

	// Assert
	require.Len(t, open, 1)
	assert.Equal(t, "open-1", open[0].ID)
	assert.Equal(t, domain.OrderStateOpen, open[0].State)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.OrderStateClosed, closed[0].State)
}

func TestVenue_ClosedOrdersUnsupported(t *testing.T) {
	_, srv := newFakeExchange(t)
	v := newTestVenue(srv.URL, func(c *Config) { c.CanGetClosedOrders = false })

	_, err := v.GetClosedOrders(context.Background(), domain.OrderFilter{})

	require.Error(t, err)
	assert.False(t, v.CanGetClosedOrders())
}

func TestVenue_ListProducts(t *testing.T) {
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"products": []map[string]any{{
			"pair": "eth_eur", "min_volume": "0.01", "volume_decimals": 4,
			"price_decimals": 2, "taker_fee_pct": "0.26", "maker_fee_pct": "0.16",
		}}})
	})
	v := newTestVenue(srv.URL, nil)

	products, err := v.ListProducts(context.Background())

	require.NoError(t, err)
	p, ok := products["ETH/EUR"]
	require.True(t, ok)
	assert.True(t, p.MinVolume.Equal(money.NewFromFloat(0.01, money.ETH)))
	assert.Equal(t, int32(4), p.VolumeDecimals)
	assert.Equal(t, "0.26%", p.TakerFee.String())
}

type countingLimiter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (c *countingLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func (c *countingLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	return c.err
}

func TestVenue_SharedLimiterGatesRequests(t *testing.T) {
	// Arrange
	f, srv := newFakeExchange(t)
	f.mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"products": []any{}})
	})
	limiter := &countingLimiter{}
	v := newTestVenue(srv.URL, func(c *Config) {
		c.SharedLimiter = limiter
		c.SharedLimit = 10
	})

	// Act
	_, err := v.ListProducts(context.Background())
	require.NoError(t, err)
	limiter.err = errors.New("redis down")
	_, failErr := v.ListProducts(context.Background())

	// Assert
	assert.Equal(t, []string{"venue:rest", "venue:rest"}, limiter.keys[:2])
	require.Error(t, failErr)
	assert.Equal(t, 1, f.count("GET /products"))
}
