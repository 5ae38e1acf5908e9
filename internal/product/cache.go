// Package product caches a venue's list of tradable products.
package product

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Cache wraps a ProductLister. Concurrent callers share one in-flight
// refresh; the fetched map replaces the cached one as a whole.
//
// A zero TTL keeps the first successful result until Invalidate is called.
type Cache struct {
	lister domain.ProductLister
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	products  map[string]domain.Product
	fetchedAt time.Time
}

// NewCache creates a product cache.
func NewCache(lister domain.ProductLister, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		lister: lister,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "product_cache")),
		now:    time.Now,
	}
}

// Products returns the cached product map, refreshing it when empty or stale.
// The returned map must not be modified.
func (c *Cache) Products(ctx context.Context) (map[string]domain.Product, error) {
	if products, ok := c.fresh(); ok {
		return products, nil
	}

	ch := c.group.DoChan("products", func() (any, error) {
		// Another caller may have refreshed while we waited to enter.
		if products, ok := c.fresh(); ok {
			return products, nil
		}
		// Detached from the first caller so its cancellation doesn't fail
		// everyone else waiting on the same refresh.
		products, err := c.lister.ListProducts(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.products = products
		c.fetchedAt = c.now()
		c.mu.Unlock()
		c.logger.Info("product list refreshed", slog.Int("count", len(products)))
		return products, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("product: refresh: %w", res.Err)
		}
		return res.Val.(map[string]domain.Product), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Product looks up a single pair.
func (c *Cache) Product(ctx context.Context, pair domain.AssetPair) (domain.Product, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	p, ok := products[pair.Key()]
	if !ok {
		return domain.Product{}, fmt.Errorf("product: %s: %w", pair.Key(), domain.ErrUnknownProduct)
	}
	return p, nil
}

// Invalidate drops the cached map so the next call refetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.products = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) fresh() (map[string]domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.products == nil {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.products, true
}
