package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
	"github.com/alanyoungcy/arbengine/internal/venue/paper"
)

var ethEUR = domain.NewAssetPair(money.ETH, money.EUR)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func eur(v float64) money.PriceValue { return money.NewFromFloat(v, money.EUR) }
func eth(v float64) money.PriceValue { return money.NewFromFloat(v, money.ETH) }

func lvl(price, volume float64) domain.OrderBookLevel {
	return domain.OrderBookLevel{PricePerUnit: eur(price), VolumeUnits: eth(volume)}
}

type memRecorder struct {
	mu   sync.Mutex
	recs []domain.ArbitrageRecord
}

func (r *memRecorder) Append(_ context.Context, rec domain.ArbitrageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = int64(len(r.recs) + 1)
	r.recs = append(r.recs, rec)
	return nil
}

func (r *memRecorder) Reset(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = nil
	return nil
}

func (r *memRecorder) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.ArbitrageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ArbitrageRecord
	for i := len(r.recs) - 1; i >= 0; i-- {
		out = append(out, r.recs[i])
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

type notification struct{ event, title, message string }

type memNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *memNotifier) Notify(_ context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{event, title, message})
	return nil
}

type fixture struct {
	buyer    *paper.Venue
	seller   *paper.Venue
	recorder *memRecorder
	notifier *memNotifier
	saga     *Saga
}

// newFixture builds the 100/102 market: the buyer sells 5 ETH at 100 EUR and
// the seller bids 102 EUR for 5 ETH.
func newFixture(t *testing.T, mutate func(cfg *SagaConfig)) *fixture {
	t.Helper()
	f := &fixture{
		buyer:    paper.New(paper.Config{Name: "buyer", Pair: ethEUR}, discardLogger()),
		seller:   paper.New(paper.Config{Name: "seller", Pair: ethEUR}, discardLogger()),
		recorder: &memRecorder{},
		notifier: &memNotifier{},
	}
	f.buyer.SetOrderBook([]domain.OrderBookLevel{lvl(100, 5)}, nil)
	f.buyer.SetBalance(eur(1000))
	f.seller.SetOrderBook(nil, []domain.OrderBookLevel{lvl(102, 5)})
	f.seller.SetBalance(eth(10))

	cfg := SagaConfig{
		Buyer:        f.buyer,
		Seller:       f.seller,
		Recorder:     f.recorder,
		Notifier:     f.notifier,
		PollInterval: time.Millisecond,
		Logger:       discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.saga = NewSaga(cfg)
	return f
}

func (f *fixture) newContext(budget float64) *Context {
	return NewContext(ethEUR, "buyer", "seller", Budget{QuoteToSpend: eur(budget)})
}

func requireValue(t *testing.T, expected, actual money.PriceValue) {
	t.Helper()
	require.True(t, expected.Equal(actual), "expected %s, got %s", expected, actual)
}
