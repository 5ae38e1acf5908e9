// Package venue holds helpers shared by venue adapters.
package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
)

// DefaultCancelAttempts bounds the cancel-after-place loop.
const DefaultCancelAttempts = 3

// LimitOrderPlacer is the subset of an adapter needed to emulate IOC orders
// on venues that only support resting limit orders.
type LimitOrderPlacer interface {
	Name() string
	PlaceLimitOrder(ctx context.Context, pair domain.AssetPair, side domain.OrderSide, limitPrice, volume money.PriceValue) (domain.MinimalOrder, error)
	CancelOrder(ctx context.Context, id string) (domain.CancelResult, error)
}

// PlaceImmediate places a limit order and immediately cancels whatever did
// not fill. The cancel is retried up to attempts times; ErrOrderNotFound means
// the order already left the book and counts as success. A cancel that keeps
// failing is logged, not returned: the order exists and its id must reach the
// caller.
func PlaceImmediate(ctx context.Context, p LimitOrderPlacer, pair domain.AssetPair, side domain.OrderSide, limitPrice, volume money.PriceValue, attempts int, logger *slog.Logger) (domain.MinimalOrder, error) {
	side.MustValidate()
	if attempts <= 0 {
		attempts = DefaultCancelAttempts
	}

	order, err := p.PlaceLimitOrder(ctx, pair, side, limitPrice, volume)
	if err != nil {
		return domain.MinimalOrder{}, fmt.Errorf("venue: %s: place %s: %w", p.Name(), side, err)
	}

	for i := 1; i <= attempts; i++ {
		res, err := p.CancelOrder(ctx, order.ID)
		if err == nil {
			logger.DebugContext(ctx, "immediate order cancel",
				slog.String("venue", p.Name()),
				slog.String("order_id", order.ID),
				slog.Bool("cancelled", res.Cancelled),
				slog.Bool("already_gone", res.AlreadyGone),
			)
			return order, nil
		}
		if errors.Is(err, domain.ErrOrderNotFound) {
			return order, nil
		}
		logger.WarnContext(ctx, "immediate order cancel failed",
			slog.String("venue", p.Name()),
			slog.String("order_id", order.ID),
			slog.Int("attempt", i),
			slog.String("error", err.Error()),
		)
		if ctx.Err() != nil {
			break
		}
	}
	logger.ErrorContext(ctx, "immediate order may still rest on the book",
		slog.String("venue", p.Name()),
		slog.String("order_id", order.ID),
	)
	return order, nil
}
