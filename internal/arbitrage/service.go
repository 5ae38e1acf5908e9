package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
)

// ComparisonTag is the alert tag for the buyer ask vs seller bid spread.
const ComparisonTag = "ask_bid_comparison"

// ComparisonObserver receives the spread percentage after every status
// computation.
type ComparisonObserver interface {
	Observe(ctx context.Context, tag string, value float64)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Saga     *Saga
	Pair     domain.AssetPair
	Recorder domain.ArbitrageRecorder
	Observer ComparisonObserver
	Lock     domain.LockManager
	LockTTL  time.Duration
	Logger   *slog.Logger
}

// Service is the command surface over the saga.
type Service struct {
	saga     *Saga
	pair     domain.AssetPair
	recorder domain.ArbitrageRecorder
	observer ComparisonObserver
	lock     domain.LockManager
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Service{
		saga:     cfg.Saga,
		pair:     cfg.Pair,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		lock:     cfg.Lock,
		lockTTL:  cfg.LockTTL,
		logger:   cfg.Logger.With(slog.String("component", "arbitrage_service")),
	}
}

// Pair returns the arbitraged pair.
func (s *Service) Pair() domain.AssetPair { return s.pair }

// VenueStatus is the top of one venue's book.
type VenueStatus struct {
	Name     string                 `json:"name"`
	BestAsk  *domain.OrderBookLevel `json:"best_ask,omitempty"`
	BestBid  *domain.OrderBookLevel `json:"best_bid,omitempty"`
	TakerFee money.PercentageValue  `json:"taker_fee"`
	MakerFee money.PercentageValue  `json:"maker_fee"`
	Balance  *domain.BalanceResult  `json:"balance,omitempty"`
}

// Status compares the buyer's best ask with the seller's best bid.
type Status struct {
	Pair       domain.AssetPair      `json:"pair"`
	Buyer      VenueStatus           `json:"buyer"`
	Seller     VenueStatus           `json:"seller"`
	Spread     money.PriceValue      `json:"spread"`
	Comparison money.PercentageValue `json:"comparison"`
	Crossed    bool                  `json:"crossed"`
	CheckedAt  time.Time             `json:"checked_at"`
}

// GetStatus fetches both books, and balances when includeBalance is set.
func (s *Service) GetStatus(ctx context.Context, includeBalance bool) (Status, error) {
	buyer, seller := s.saga.Buyer(), s.saga.Seller()
	st := Status{
		Pair:   s.pair,
		Buyer:  VenueStatus{Name: buyer.Name(), TakerFee: buyer.TakerFee(), MakerFee: buyer.MakerFee()},
		Seller: VenueStatus{Name: seller.Name(), TakerFee: seller.TakerFee(), MakerFee: seller.MakerFee()},
		Spread: money.Invalid(s.pair.Quote),
	}

	var buyBook, sellBook domain.OrderBook
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if buyBook, err = buyer.GetOrderBook(gctx, s.pair); err != nil {
			return fmt.Errorf("arbitrage: %s order book: %w", buyer.Name(), err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if sellBook, err = seller.GetOrderBook(gctx, s.pair); err != nil {
			return fmt.Errorf("arbitrage: %s order book: %w", seller.Name(), err)
		}
		return nil
	})
	if includeBalance {
		g.Go(func() error {
			bal, err := buyer.GetCurrentBalance(gctx, s.pair)
			if err != nil {
				return fmt.Errorf("arbitrage: %s balance: %w", buyer.Name(), err)
			}
			st.Buyer.Balance = &bal
			return nil
		})
		g.Go(func() error {
			bal, err := seller.GetCurrentBalance(gctx, s.pair)
			if err != nil {
				return fmt.Errorf("arbitrage: %s balance: %w", seller.Name(), err)
			}
			st.Seller.Balance = &bal
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Status{}, err
	}

	st.Buyer.BestAsk = levelPtr(buyBook.BestAsk())
	st.Buyer.BestBid = levelPtr(buyBook.BestBid())
	st.Seller.BestAsk = levelPtr(sellBook.BestAsk())
	st.Seller.BestBid = levelPtr(sellBook.BestBid())
	st.CheckedAt = time.Now().UTC()

	if st.Buyer.BestAsk != nil && st.Seller.BestBid != nil {
		ask, bid := st.Buyer.BestAsk.PricePerUnit, st.Seller.BestBid.PricePerUnit
		st.Spread = bid.Sub(ask)
		st.Comparison = money.FromRatio(st.Spread.Ratio(ask))
		st.Crossed = st.Spread.IsPositive()
		if s.observer != nil {
			s.observer.Observe(ctx, ComparisonTag, st.Comparison.Float())
		}
	}
	return st, nil
}

func levelPtr(l domain.OrderBookLevel, ok bool) *domain.OrderBookLevel {
	if !ok {
		return nil
	}
	return &l
}

// GetInfoForArbitrage dry-runs a new context for budget. The context is
// returned even when the run was rejected or failed; the error says why.
func (s *Service) GetInfoForArbitrage(ctx context.Context, budget Budget) (*Context, error) {
	if err := s.validateBudget(budget); err != nil {
		return nil, err
	}
	ac := NewContext(s.pair, s.saga.Buyer().Name(), s.saga.Seller().Name(), budget)
	ac.DryRun()
	return ac, s.saga.Run(ctx, ac)
}

// Arbitrage runs or resumes ac. A context with BreakOnState set stops there;
// clear it with Resume to commit.
func (s *Service) Arbitrage(ctx context.Context, ac *Context) (*Context, error) {
	if ac == nil {
		return nil, errors.New("arbitrage: nil context")
	}
	if ac.Pair.Key() != s.pair.Key() {
		return ac, fmt.Errorf("%w: context pair %s, service trades %s", ErrInvalidBudget, ac.Pair.Key(), s.pair.Key())
	}
	if err := s.validateContext(ac); err != nil {
		return ac, err
	}
	if ac.BreakOnState == "" && s.lock != nil {
		unlock, err := s.lock.Acquire(ctx, CommitLockKey(s.pair), s.lockTTL)
		if err != nil {
			return ac, fmt.Errorf("arbitrage: commit lock: %w", err)
		}
		defer unlock()
	}
	return ac, s.saga.Run(ctx, ac)
}

// NewRun builds a context for a manual run of budget.
func (s *Service) NewRun(budget Budget) (*Context, error) {
	if err := s.validateBudget(budget); err != nil {
		return nil, err
	}
	return NewContext(s.pair, s.saga.Buyer().Name(), s.saga.Seller().Name(), budget), nil
}

// validateContext rejects a submitted context the saga could not step
// through: unknown states, a budget in the wrong assets, or planned prices
// and volumes that do not belong to the pair.
func (s *Service) validateContext(ac *Context) error {
	if !ac.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidBudget, ac.State)
	}
	if ac.BreakOnState != "" && !ac.BreakOnState.Valid() {
		return fmt.Errorf("%w: unknown break state %q", ErrInvalidBudget, ac.BreakOnState)
	}
	if err := s.validateBudget(ac.Budget); err != nil {
		return err
	}
	type field struct {
		name  string
		value money.PriceValue
		asset money.Asset
	}
	fields := []field{
		{"buy limit price", ac.BuyLimitPrice, s.pair.Quote},
		{"sell limit price", ac.SellLimitPrice, s.pair.Quote},
		{"buy volume", ac.BuyVolume, s.pair.Base},
	}
	for _, o := range []*domain.FullOrder{ac.BuyOrder, ac.SellOrder} {
		if o == nil {
			continue
		}
		fields = append(fields,
			field{string(o.Side) + " order filled volume", o.FilledVolume, s.pair.Base},
			field{string(o.Side) + " order cost", o.CostIncludingFee, s.pair.Quote},
		)
	}
	for _, f := range fields {
		if f.value.IsValid() && !f.value.Asset().Equal(f.asset) {
			return fmt.Errorf("%w: %s in %s, want %s", ErrInvalidBudget, f.name, f.value.Asset(), f.asset)
		}
	}
	return nil
}

func (s *Service) validateBudget(b Budget) error {
	if !b.QuoteToSpend.IsValid() || !b.QuoteToSpend.IsPositive() {
		return fmt.Errorf("%w: quote budget must be positive", ErrInvalidBudget)
	}
	if !b.QuoteToSpend.Asset().Equal(s.pair.Quote) {
		return fmt.Errorf("%w: budget in %s, pair quotes %s", ErrInvalidBudget, b.QuoteToSpend.Asset(), s.pair.Quote)
	}
	if b.BaseCap != nil && !b.BaseCap.Asset().Equal(s.pair.Base) {
		return fmt.Errorf("%w: base cap in %s, pair base is %s", ErrInvalidBudget, b.BaseCap.Asset(), s.pair.Base)
	}
	return nil
}

// AccountInfo describes one venue account.
type AccountInfo struct {
	Venue              string                `json:"venue"`
	Balance            domain.BalanceResult  `json:"balance"`
	OpenOrders         []domain.FullOrder    `json:"open_orders"`
	TakerFee           money.PercentageValue `json:"taker_fee"`
	MakerFee           money.PercentageValue `json:"maker_fee"`
	CanGetClosedOrders bool                  `json:"can_get_closed_orders"`
}

// AccountsInfo covers both venues.
type AccountsInfo struct {
	Buyer  AccountInfo `json:"buyer"`
	Seller AccountInfo `json:"seller"`
}

// GetAccountsInfo fetches balances and open orders of both venues.
func (s *Service) GetAccountsInfo(ctx context.Context) (AccountsInfo, error) {
	var info AccountsInfo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info.Buyer, err = s.accountInfo(gctx, s.saga.Buyer())
		return err
	})
	g.Go(func() (err error) {
		info.Seller, err = s.accountInfo(gctx, s.saga.Seller())
		return err
	})
	if err := g.Wait(); err != nil {
		return AccountsInfo{}, err
	}
	return info, nil
}

func (s *Service) accountInfo(ctx context.Context, v domain.Venue) (AccountInfo, error) {
	bal, err := v.GetCurrentBalance(ctx, s.pair)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("arbitrage: %s balance: %w", v.Name(), err)
	}
	pair := s.pair
	open, err := v.GetOpenOrders(ctx, domain.OrderFilter{Pair: &pair})
	if err != nil {
		return AccountInfo{}, fmt.Errorf("arbitrage: %s open orders: %w", v.Name(), err)
	}
	return AccountInfo{
		Venue:              v.Name(),
		Balance:            bal,
		OpenOrders:         open,
		TakerFee:           v.TakerFee(),
		MakerFee:           v.MakerFee(),
		CanGetClosedOrders: v.CanGetClosedOrders(),
	}, nil
}

// RecentArbitrages lists recorded transitions, newest first.
func (s *Service) RecentArbitrages(ctx context.Context, limit int) ([]domain.ArbitrageRecord, error) {
	if s.recorder == nil {
		return nil, nil
	}
	recs, err := s.recorder.ListRecent(ctx, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("arbitrage: list recent: %w", err)
	}
	return recs, nil
}
