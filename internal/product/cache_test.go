package product

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
)

type slowLister struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (l *slowLister) ListProducts(ctx context.Context) (map[string]domain.Product, error) {
	l.calls.Add(1)
	if l.release != nil {
		<-l.release
	}
	if l.err != nil {
		return nil, l.err
	}
	return map[string]domain.Product{
		"ETH/EUR": {PairKey: "ETH/EUR", MinVolume: money.NewFromFloat(0.01, money.ETH)},
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCache_ConcurrentCallersShareOneFetch(t *testing.T) {
	// Arrange
	lister := &slowLister{release: make(chan struct{})}
	cache := NewCache(lister, 0, testLogger())
	const callers = 25

	// Act
	var wg sync.WaitGroup
	results := make([]map[string]domain.Product, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Products(context.Background())
		}(i)
	}
	// Give every goroutine time to join the in-flight refresh.
	require.Eventually(t, func() bool { return lister.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(lister.release)
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), lister.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Contains(t, results[i], "ETH/EUR")
	}
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	lister := &slowLister{}
	cache := NewCache(lister, 0, testLogger())
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.Products(context.Background())
	require.NoError(t, err)
	now = now.Add(365 * 24 * time.Hour)
	_, err = cache.Products(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), lister.calls.Load())
}

func TestCache_TTLExpiryAndInvalidate(t *testing.T) {
	lister := &slowLister{}
	cache := NewCache(lister, time.Minute, testLogger())
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.Products(context.Background())
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = cache.Products(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), lister.calls.Load())

	now = now.Add(time.Minute)
	_, err = cache.Products(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), lister.calls.Load())

	cache.Invalidate()
	_, err = cache.Products(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), lister.calls.Load())
}

func TestCache_ErrorIsNotCached(t *testing.T) {
	lister := &slowLister{err: errors.New("boom")}
	cache := NewCache(lister, 0, testLogger())

	_, err := cache.Products(context.Background())
	require.Error(t, err)

	lister.err = nil
	p, err := cache.Product(context.Background(), domain.NewAssetPair(money.ETH, money.EUR))
	require.NoError(t, err)
	assert.Equal(t, "ETH/EUR", p.PairKey)
	assert.Equal(t, int32(2), lister.calls.Load())
}

func TestCache_UnknownProduct(t *testing.T) {
	cache := NewCache(&slowLister{}, 0, testLogger())

	_, err := cache.Product(context.Background(), domain.NewAssetPair(money.BTC, money.USD))

	assert.ErrorIs(t, err, domain.ErrUnknownProduct)
}
