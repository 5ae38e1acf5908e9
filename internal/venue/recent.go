package venue

import (
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
)

// DefaultRecentOrderAge is how long placed orders are remembered.
const DefaultRecentOrderAge = 24 * time.Hour

type recentOrder struct {
	order    domain.FullOrder
	placedAt time.Time
}

// RecentOrders remembers orders an adapter placed so GetOrderInfo can still
// answer after the venue purged them. Safe for concurrent use.
type RecentOrders struct {
	maxAge time.Duration
	fee    money.PercentageValue
	now    func() time.Time

	mu     sync.Mutex
	orders map[string]recentOrder
}

// NewRecentOrders creates the cache. fee is the taker fee applied when a
// forgotten order has to be synthesised.
func NewRecentOrders(maxAge time.Duration, fee money.PercentageValue) *RecentOrders {
	if maxAge <= 0 {
		maxAge = DefaultRecentOrderAge
	}
	return &RecentOrders{
		maxAge: maxAge,
		fee:    fee,
		now:    time.Now,
		orders: make(map[string]recentOrder),
	}
}

// Remember stores a placed order, or replaces it with a later state of the
// same order. The age is counted from the first call.
func (r *RecentOrders) Remember(order domain.FullOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	placedAt := r.now()
	if prev, ok := r.orders[order.ID]; ok {
		placedAt = prev.placedAt
	}
	r.orders[order.ID] = recentOrder{order: order, placedAt: placedAt}
}

// Lookup returns the remembered order. A final order comes back as stored.
// An order only known as open is synthesised as Closed, fully filled at its
// limit price with the taker fee applied.
func (r *RecentOrders) Lookup(id string) (domain.FullOrder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	rec, ok := r.orders[id]
	if !ok {
		return domain.FullOrder{}, false
	}

	o := rec.order
	if o.State.IsFinal() {
		return o, true
	}
	o.State = domain.OrderStateClosed
	o.FilledVolume = o.Volume
	if o.LimitPrice != nil {
		o.CostExcludingFee = o.LimitPrice.Mul(o.Volume.Amount())
		o.Fee = r.fee.Of(o.CostExcludingFee)
		if o.Side == domain.OrderSideBuy {
			o.CostIncludingFee = o.CostExcludingFee.Add(o.Fee)
		} else {
			o.CostIncludingFee = o.CostExcludingFee.Sub(o.Fee)
		}
	}
	closed := rec.placedAt
	o.CloseTime = &closed
	return o, true
}

// Len reports how many orders are remembered.
func (r *RecentOrders) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return len(r.orders)
}

func (r *RecentOrders) pruneLocked() {
	cutoff := r.now().Add(-r.maxAge)
	for id, rec := range r.orders {
		if rec.placedAt.Before(cutoff) {
			delete(r.orders, id)
		}
	}
}
