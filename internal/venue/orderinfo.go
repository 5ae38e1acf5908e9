package venue

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// OrderFetcher queries a single order from a venue.
type OrderFetcher func(ctx context.Context, id string) (domain.FullOrder, error)

// OrderInfo fetches an order and falls back to recent when the venue no
// longer knows it. An order unknown to both still returns ErrOrderNotFound.
func OrderInfo(ctx context.Context, fetch OrderFetcher, recent *RecentOrders, id string) (domain.FullOrder, error) {
	order, err := fetch(ctx, id)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return domain.FullOrder{}, err
	}
	if recent != nil {
		if cached, ok := recent.Lookup(id); ok {
			return cached, nil
		}
	}
	return domain.FullOrder{}, fmt.Errorf("venue: order %s: %w", id, domain.ErrOrderNotFound)
}
