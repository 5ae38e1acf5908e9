package arbitrage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/product"
	"github.com/alanyoungcy/arbengine/internal/venue/paper"
)

func TestSaga_EndToEndCrossedBooks(t *testing.T) {
	// Arrange
	f := newFixture(t, nil)
	ac := f.newContext(500)

	// Act
	err := f.saga.Run(context.Background(), ac)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, StateFinished, ac.State)
	require.NotNil(t, ac.Calculation)
	requireValue(t, eth(5), ac.Calculation.BaseCurrencyBuyCount)
	requireValue(t, eur(500), ac.Calculation.QuoteCurrencySpent)
	requireValue(t, eth(5), ac.Calculation.BaseCurrencySellCount)
	requireValue(t, eur(510), ac.Calculation.QuoteCurrencyEarned)
	requireValue(t, eur(10), ac.Calculation.Profit)
	assert.True(t, ac.Calculation.ProfitPercentage.Percent().Equal(decimal.NewFromInt(2)))

	require.NotNil(t, ac.Result)
	requireValue(t, eth(5), ac.Result.BaseBought)
	requireValue(t, eth(5), ac.Result.BaseSold)
	requireValue(t, eur(500), ac.Result.QuoteSpent)
	requireValue(t, eur(510), ac.Result.QuoteEarned)
	requireValue(t, eur(10), ac.Result.QuoteDelta)
	assert.True(t, ac.Result.BaseDelta.IsZero())
	require.NotNil(t, ac.Result.BuyerBalance)
	requireValue(t, eur(500), ac.Result.BuyerBalance.Quote)
	requireValue(t, eur(510), ac.Result.SellerBalance.Quote)

	states := make([]string, 0, len(f.recorder.recs))
	for _, rec := range f.recorder.recs {
		states = append(states, rec.State)
	}
	assert.Equal(t, []string{
		string(StatePlaceBuyOrder),
		string(StateGetBuyOrderInfo),
		string(StatePlaceSellOrder),
		string(StateGetSellOrderInfo),
		string(StateCalculateFinalResult),
		string(StateFinished),
	}, states)
	assert.Empty(t, f.notifier.sent)
}

func TestSaga_SellsExactlyTheFilledBuyVolume(t *testing.T) {
	f := newFixture(t, nil)
	// Only 2 of the 5 ETH are still on the buyer's book when the buy lands.
	ac := f.newContext(500)
	ac.DryRun()
	require.NoError(t, f.saga.Run(context.Background(), ac))
	requireValue(t, eth(5), ac.BuyVolume)
	f.buyer.SetOrderBook([]domain.OrderBookLevel{lvl(100, 2)}, nil)

	ac.Resume()
	require.NoError(t, f.saga.Run(context.Background(), ac))

	require.NotNil(t, ac.BuyOrder)
	requireValue(t, eth(2), ac.BuyOrder.FilledVolume)
	sells := f.seller.Placed()
	require.Len(t, sells, 1)
	requireValue(t, eth(2), sells[0].Volume)
	requireValue(t, eth(2), ac.Result.BaseSold)
	requireValue(t, eur(204-200), ac.Result.QuoteDelta)
}

func TestSaga_PartialFillOnPurgingVenue(t *testing.T) {
	buyer := paper.New(paper.Config{
		Name:        "buyer",
		Pair:        ethEUR,
		FillRatio:   decimal.NewFromFloat(0.5),
		PurgeClosed: true,
	}, discardLogger())
	buyer.SetOrderBook([]domain.OrderBookLevel{lvl(100, 5)}, nil)
	buyer.SetBalance(eur(1000))
	f := newFixture(t, func(cfg *SagaConfig) { cfg.Buyer = buyer })
	ac := f.newContext(500)

	require.NoError(t, f.saga.Run(context.Background(), ac))

	require.True(t, ac.Finished())
	require.NotNil(t, ac.BuyOrder)
	assert.Equal(t, domain.OrderStateCancelled, ac.BuyOrder.State)
	requireValue(t, eth(2.5), ac.Result.BaseBought)
	sells := f.seller.Placed()
	require.Len(t, sells, 1)
	requireValue(t, eth(2.5), sells[0].Volume)
	requireValue(t, eth(2.5), ac.Result.BaseSold)
	requireValue(t, eur(255-250), ac.Result.QuoteDelta)
}

func TestSaga_UnfilledBuySkipsSell(t *testing.T) {
	f := newFixture(t, nil)
	ac := f.newContext(500)
	ac.DryRun()
	require.NoError(t, f.saga.Run(context.Background(), ac))
	f.buyer.SetOrderBook([]domain.OrderBookLevel{lvl(150, 5)}, nil)

	ac.Resume()
	require.NoError(t, f.saga.Run(context.Background(), ac))

	assert.Equal(t, StateFinished, ac.State)
	assert.Equal(t, domain.OrderStateCancelled, ac.BuyOrder.State)
	assert.Empty(t, ac.SellOrderID)
	assert.Empty(t, f.seller.Placed())
	assert.True(t, ac.Result.BaseBought.IsZero())
	assert.True(t, ac.Result.ProfitPercentage.IsZero())
}

func TestSaga_ErrorBeforePlacingBuyPlacesNoOrders(t *testing.T) {
	boom := errors.New("connection reset")
	cases := map[string]func(f *fixture){
		"buyer book":     func(f *fixture) { f.buyer.FailOn(paper.OpOrderBook, boom) },
		"seller book":    func(f *fixture) { f.seller.FailOn(paper.OpOrderBook, boom) },
		"seller balance": func(f *fixture) { f.seller.FailOn(paper.OpBalance, boom) },
		"unprofitable": func(f *fixture) {
			f.seller.SetOrderBook(nil, []domain.OrderBookLevel{lvl(99, 5)})
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			setup(f)
			ac := f.newContext(500)

			err := f.saga.Run(context.Background(), ac)

			require.Error(t, err)
			assert.True(t, ac.Failed())
			assert.Equal(t, StateCheckStatus, ac.State)
			assert.Empty(t, f.buyer.Placed())
			assert.Empty(t, f.seller.Placed())
			assert.Empty(t, f.notifier.sent)

			// A failed context stays halted.
			require.Error(t, f.saga.Run(context.Background(), ac))
			assert.Empty(t, f.buyer.Placed())
		})
	}
}

func TestSaga_PolicyRejectionIsReported(t *testing.T) {
	f := newFixture(t, func(cfg *SagaConfig) { cfg.Policy = DefaultManagerPolicy() })
	f.seller.SetOrderBook(nil, []domain.OrderBookLevel{lvl(100.5, 5)})
	ac := f.newContext(500)

	err := f.saga.Run(context.Background(), ac)

	assert.ErrorIs(t, err, ErrPolicyRejected)
	require.NotNil(t, ac.Calculation)
	assert.Empty(t, f.buyer.Placed())
}

func TestSaga_BalanceOptions(t *testing.T) {
	t.Run("require quote rejects", func(t *testing.T) {
		f := newFixture(t, nil)
		ac := NewContext(ethEUR, "buyer", "seller", Budget{QuoteToSpend: eur(5000), QuoteBalanceOption: BalanceRequire})

		err := f.saga.Run(context.Background(), ac)

		assert.ErrorIs(t, err, ErrPolicyRejected)
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})
	t.Run("cap quote lowers budget", func(t *testing.T) {
		f := newFixture(t, nil)
		f.buyer.SetBalance(eur(300))
		ac := NewContext(ethEUR, "buyer", "seller", Budget{QuoteToSpend: eur(500), QuoteBalanceOption: BalanceCap})
		ac.DryRun()

		require.NoError(t, f.saga.Run(context.Background(), ac))

		requireValue(t, eur(300), ac.Calculation.QuoteCurrencySpent)
		requireValue(t, eth(3), ac.BuyVolume)
	})
	t.Run("cap base uses seller balance", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seller.SetBalance(eth(1.5))
		ac := NewContext(ethEUR, "buyer", "seller", Budget{QuoteToSpend: eur(500), BaseBalanceOption: BalanceCap})
		ac.DryRun()

		require.NoError(t, f.saga.Run(context.Background(), ac))

		requireValue(t, eth(1.5), ac.BuyVolume)
	})
	t.Run("require base rejects", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seller.SetBalance(eth(1))
		ac := NewContext(ethEUR, "buyer", "seller", Budget{QuoteToSpend: eur(500), BaseBalanceOption: BalanceRequire})

		err := f.saga.Run(context.Background(), ac)

		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})
}

func TestSaga_VenueMinimumVolume(t *testing.T) {
	big := paper.New(paper.Config{Name: "seller", Pair: ethEUR, MinVolume: eth(10)}, discardLogger())
	f := newFixture(t, func(cfg *SagaConfig) {
		cfg.SellerProducts = product.NewCache(big, 0, discardLogger())
	})
	ac := f.newContext(500)

	err := f.saga.Run(context.Background(), ac)

	assert.ErrorIs(t, err, ErrPolicyRejected)
	assert.Contains(t, err.Error(), "minimum")
	assert.Empty(t, f.buyer.Placed())
}

func TestSaga_DryRunThenResume(t *testing.T) {
	f := newFixture(t, nil)
	ac := f.newContext(500)
	ac.DryRun()

	require.NoError(t, f.saga.Run(context.Background(), ac))
	assert.Equal(t, StatePlaceBuyOrder, ac.State)
	assert.Empty(t, f.buyer.Placed())

	// The context survives a JSON round trip before being resumed.
	raw, err := json.Marshal(ac)
	require.NoError(t, err)
	var resumed Context
	require.NoError(t, json.Unmarshal(raw, &resumed))
	resumed.Resume()

	require.NoError(t, f.saga.Run(context.Background(), &resumed))
	assert.Equal(t, StateFinished, resumed.State)
	requireValue(t, eur(10), resumed.Result.QuoteDelta)
}

func TestSaga_HaltAfterBuyAlertsOperator(t *testing.T) {
	f := newFixture(t, nil)
	f.seller.FailOn(paper.OpPlace, errors.New("maintenance"))
	ac := f.newContext(500)

	err := f.saga.Run(context.Background(), ac)

	require.Error(t, err)
	assert.Equal(t, StatePlaceSellOrder, ac.State)
	assert.True(t, ac.Exposed())
	assert.NotEmpty(t, ac.BuyOrderID)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "saga_halted", f.notifier.sent[0].event)
	assert.Contains(t, f.notifier.sent[0].message, ac.BuyOrderID)

	last := f.recorder.recs[len(f.recorder.recs)-1]
	assert.Equal(t, string(StatePlaceSellOrder), last.State)
	assert.Contains(t, last.Error, "maintenance")
}

func TestSaga_InterceptorSeesEveryStateAndCanVeto(t *testing.T) {
	var seen []State
	watcher := InterceptorFuncs{After: func(_ context.Context, ac *Context, err error) {
		if err == nil {
			seen = append(seen, ac.State)
		}
	}}
	declined := errors.New("operator declined")
	veto := InterceptorFuncs{Before: func(_ context.Context, ac *Context) error {
		if ac.State == StatePlaceBuyOrder {
			return declined
		}
		return nil
	}}

	f := newFixture(t, func(cfg *SagaConfig) { cfg.Interceptor = Interceptors{watcher} })
	require.NoError(t, f.saga.Run(context.Background(), f.newContext(500)))
	assert.Equal(t, []State{
		StateCheckStatus, StatePlaceBuyOrder, StateGetBuyOrderInfo, StatePlaceSellOrder,
		StateGetSellOrderInfo, StateCalculateFinalResult, StateFinished,
	}, seen)

	g := newFixture(t, func(cfg *SagaConfig) { cfg.Interceptor = Interceptors{veto, watcher} })
	ac := g.newContext(500)
	err := g.saga.Run(context.Background(), ac)
	assert.ErrorIs(t, err, declined)
	assert.Equal(t, StatePlaceBuyOrder, ac.State)
	assert.Empty(t, g.buyer.Placed())
}

func TestSaga_RejectsContextForOtherVenues(t *testing.T) {
	f := newFixture(t, nil)
	ac := NewContext(ethEUR, "seller", "buyer", Budget{QuoteToSpend: eur(500)})

	err := f.saga.Run(context.Background(), ac)

	require.Error(t, err)
	assert.False(t, ac.Failed())
}
