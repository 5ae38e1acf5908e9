// Package arbitrage runs buy-low/sell-high trades across two venues. The
// Saga walks one Context through its states, the Manager drives dry runs on
// a heartbeat and the Service is the command surface used by the API.
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
	"github.com/alanyoungcy/arbengine/internal/product"
	"github.com/alanyoungcy/arbengine/internal/profit"
)

// DefaultPollInterval is the delay between order status polls.
const DefaultPollInterval = 500 * time.Millisecond

// Notifier receives operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SagaConfig wires a Saga. Only the venues and Logger are required.
type SagaConfig struct {
	Buyer  domain.Venue
	Seller domain.Venue
	// Optional product caches used to enforce venue minimum order volumes.
	BuyerProducts  *product.Cache
	SellerProducts *product.Cache
	Policy         Policy
	Recorder       domain.ArbitrageRecorder
	Notifier       Notifier
	Interceptor    Interceptor
	PollInterval   time.Duration
	Logger         *slog.Logger
}

// Saga executes arbitrage contexts between one buyer and one seller venue.
// Venue failures are stored on the context and never retried here.
type Saga struct {
	buyer          domain.Venue
	seller         domain.Venue
	buyerProducts  *product.Cache
	sellerProducts *product.Cache
	policy         Policy
	recorder       domain.ArbitrageRecorder
	notifier       Notifier
	interceptor    Interceptor
	pollInterval   time.Duration
	logger         *slog.Logger
}

// NewSaga creates a Saga.
func NewSaga(cfg SagaConfig) *Saga {
	s := &Saga{
		buyer:          cfg.Buyer,
		seller:         cfg.Seller,
		buyerProducts:  cfg.BuyerProducts,
		sellerProducts: cfg.SellerProducts,
		policy:         cfg.Policy,
		recorder:       cfg.Recorder,
		notifier:       cfg.Notifier,
		interceptor:    cfg.Interceptor,
		pollInterval:   cfg.PollInterval,
		logger:         cfg.Logger.With(slog.String("component", "arbitrage_saga")),
	}
	if s.interceptor == nil {
		s.interceptor = Interceptors(nil)
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	return s
}

// Buyer returns the buyer venue.
func (s *Saga) Buyer() domain.Venue { return s.buyer }

// Seller returns the seller venue.
func (s *Saga) Seller() domain.Venue { return s.seller }

// Run advances ac until it finishes, reaches ac.BreakOnState or a step
// fails. It returns the context's error, if any; policy rejections match
// ErrPolicyRejected. A context that already carries an error is not run.
func (s *Saga) Run(ctx context.Context, ac *Context) error {
	if ac.Buyer != s.buyer.Name() || ac.Seller != s.seller.Name() {
		return fmt.Errorf("arbitrage: context %s is for %s->%s, saga runs %s->%s",
			ac.ID, ac.Buyer, ac.Seller, s.buyer.Name(), s.seller.Name())
	}
	if ac.Finished() {
		return nil
	}

	for {
		if ac.Failed() {
			return ac.Err()
		}
		if ac.BreakOnState != "" && ac.State == ac.BreakOnState {
			s.logger.DebugContext(ctx, "arbitrage break",
				slog.String("context_id", ac.ID),
				slog.String("state", string(ac.State)),
			)
			return nil
		}

		state := ac.State
		err := s.interceptor.BeforeState(ctx, ac)
		if err == nil {
			err = s.step(ctx, ac, state)
		}
		s.interceptor.AfterState(ctx, ac, err)

		if err != nil {
			ac.fail(err)
			ac.UpdatedAt = time.Now().UTC()
			s.record(ctx, ac)
			s.halted(ctx, ac, err)
			return err
		}
		if state == StateFinished {
			return nil
		}

		ac.State = state.Next()
		ac.UpdatedAt = time.Now().UTC()
		s.record(ctx, ac)
	}
}

func (s *Saga) step(ctx context.Context, ac *Context, state State) error {
	switch state {
	case StateCheckStatus:
		return s.checkStatus(ctx, ac)
	case StatePlaceBuyOrder:
		return s.placeBuyOrder(ctx, ac)
	case StateGetBuyOrderInfo:
		return s.getBuyOrderInfo(ctx, ac)
	case StatePlaceSellOrder:
		return s.placeSellOrder(ctx, ac)
	case StateGetSellOrderInfo:
		return s.getSellOrderInfo(ctx, ac)
	case StateCalculateFinalResult:
		return s.calculateFinalResult(ctx, ac)
	case StateFinished:
		s.logger.InfoContext(ctx, "arbitrage finished",
			slog.String("context_id", ac.ID),
			slog.String("quote_delta", ac.Result.QuoteDelta.String()),
			slog.String("base_delta", ac.Result.BaseDelta.String()),
			slog.String("profit_pct", ac.Result.ProfitPercentage.String()),
		)
		return nil
	}
	panic(fmt.Sprintf("arbitrage: invalid state %q", string(state)))
}

func (s *Saga) checkStatus(ctx context.Context, ac *Context) error {
	var (
		buyBook, sellBook domain.OrderBook
		buyBal, sellBal   domain.BalanceResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if buyBook, err = s.buyer.GetOrderBook(gctx, ac.Pair); err != nil {
			return fmt.Errorf("arbitrage: %s order book: %w", s.buyer.Name(), err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if sellBook, err = s.seller.GetOrderBook(gctx, ac.Pair); err != nil {
			return fmt.Errorf("arbitrage: %s order book: %w", s.seller.Name(), err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if buyBal, err = s.buyer.GetCurrentBalance(gctx, ac.Pair); err != nil {
			return fmt.Errorf("arbitrage: %s balance: %w", s.buyer.Name(), err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if sellBal, err = s.seller.GetCurrentBalance(gctx, ac.Pair); err != nil {
			return fmt.Errorf("arbitrage: %s balance: %w", s.seller.Name(), err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	ac.BuyerBalance = &buyBal
	ac.SellerBalance = &sellBal

	quoteBudget := ac.Budget.QuoteToSpend
	switch ac.Budget.QuoteBalanceOption {
	case BalanceCap:
		quoteBudget = money.Min(quoteBudget, buyBal.Quote)
	case BalanceRequire:
		if buyBal.Quote.LessThan(quoteBudget) {
			return fmt.Errorf("%w: %w: %s has %s, budget is %s",
				ErrPolicyRejected, domain.ErrInsufficientBalance, s.buyer.Name(), buyBal.Quote, quoteBudget)
		}
	}

	baseCap := ac.Budget.BaseCap
	switch ac.Budget.BaseBalanceOption {
	case BalanceCap:
		capped := sellBal.Base
		if baseCap != nil {
			capped = money.Min(*baseCap, capped)
		}
		baseCap = &capped
	case BalanceRequire:
		if baseCap != nil && sellBal.Base.LessThan(*baseCap) {
			return fmt.Errorf("%w: %w: %s has %s, cap is %s",
				ErrPolicyRejected, domain.ErrInsufficientBalance, s.seller.Name(), sellBal.Base, *baseCap)
		}
	}

	fees := profit.Fees{Buyer: s.buyer.TakerFee(), Seller: s.seller.TakerFee()}
	calc := profit.Calculate(buyBook, sellBook, quoteBudget, baseCap, fees)
	ac.Calculation = &calc
	ac.BuyVolume = calc.BaseCurrencySellCount.RoundStrategy(money.AlwaysRoundDown)
	ac.BuyLimitPrice = calc.BuyLimitPricePerUnit.RoundStrategy(money.AlwaysRoundUp)
	ac.SellLimitPrice = calc.SellLimitPricePerUnit.RoundStrategy(money.AlwaysRoundDown)

	s.logger.InfoContext(ctx, "arbitrage status checked",
		slog.String("context_id", ac.ID),
		slog.String("spent", calc.QuoteCurrencySpent.String()),
		slog.String("volume", ac.BuyVolume.String()),
		slog.String("profit", calc.Profit.String()),
		slog.String("profit_pct", calc.ProfitPercentage.String()),
		slog.Bool("all_spent", calc.AllQuoteCurrencySpent),
	)

	if ac.Budget.BaseBalanceOption == BalanceRequire && ac.BuyVolume.IsValid() && sellBal.Base.LessThan(ac.BuyVolume) {
		return fmt.Errorf("%w: %w: %s has %s, need %s",
			ErrPolicyRejected, domain.ErrInsufficientBalance, s.seller.Name(), sellBal.Base, ac.BuyVolume)
	}
	if d := s.policy.Evaluate(calc, ac.BuyVolume); !d.Accepted {
		return d.Err()
	}
	return s.checkVenueMinimums(ctx, ac)
}

func (s *Saga) checkVenueMinimums(ctx context.Context, ac *Context) error {
	caches := []struct {
		name  string
		cache *product.Cache
	}{
		{s.buyer.Name(), s.buyerProducts},
		{s.seller.Name(), s.sellerProducts},
	}
	for _, c := range caches {
		if c.cache == nil {
			continue
		}
		p, err := c.cache.Product(ctx, ac.Pair)
		if errors.Is(err, domain.ErrUnknownProduct) {
			return fmt.Errorf("%w: %s does not list %s", ErrPolicyRejected, c.name, ac.Pair.Key())
		}
		if err != nil {
			return fmt.Errorf("arbitrage: %s products: %w", c.name, err)
		}
		if p.MinVolume.IsValid() && ac.BuyVolume.LessThan(p.MinVolume) {
			return fmt.Errorf("%w: volume %s below %s minimum %s",
				ErrPolicyRejected, ac.BuyVolume, c.name, p.MinVolume)
		}
	}
	return nil
}

func (s *Saga) placeBuyOrder(ctx context.Context, ac *Context) error {
	if !ac.BuyVolume.IsValid() || !ac.BuyVolume.IsPositive() || !ac.BuyLimitPrice.IsValid() {
		return fmt.Errorf("arbitrage: context %s has no buy volume; run check status first", ac.ID)
	}
	order, err := s.buyer.PlaceImmediateBuyOrder(ctx, ac.Pair, ac.BuyLimitPrice, ac.BuyVolume)
	if err != nil {
		return fmt.Errorf("arbitrage: place buy on %s: %w", s.buyer.Name(), err)
	}
	ac.BuyOrderID = order.ID
	s.logger.InfoContext(ctx, "buy order placed",
		slog.String("context_id", ac.ID),
		slog.String("venue", s.buyer.Name()),
		slog.String("order_id", order.ID),
		slog.String("limit", ac.BuyLimitPrice.String()),
		slog.String("volume", ac.BuyVolume.String()),
	)
	return nil
}

func (s *Saga) getBuyOrderInfo(ctx context.Context, ac *Context) error {
	order, err := s.awaitFinal(ctx, s.buyer, ac.BuyOrderID)
	if err != nil {
		return err
	}
	ac.BuyOrder = &order
	return nil
}

func (s *Saga) placeSellOrder(ctx context.Context, ac *Context) error {
	if ac.BuyOrder == nil {
		return fmt.Errorf("arbitrage: context %s has no confirmed buy order", ac.ID)
	}
	filled := ac.BuyOrder.FilledVolume
	if !filled.IsPositive() {
		s.logger.InfoContext(ctx, "buy filled nothing, skipping sell",
			slog.String("context_id", ac.ID),
			slog.String("buy_order_id", ac.BuyOrderID),
		)
		return nil
	}
	order, err := s.seller.PlaceImmediateSellOrder(ctx, ac.Pair, ac.SellLimitPrice, filled)
	if err != nil {
		return fmt.Errorf("arbitrage: place sell on %s: %w", s.seller.Name(), err)
	}
	ac.SellOrderID = order.ID
	s.logger.InfoContext(ctx, "sell order placed",
		slog.String("context_id", ac.ID),
		slog.String("venue", s.seller.Name()),
		slog.String("order_id", order.ID),
		slog.String("limit", ac.SellLimitPrice.String()),
		slog.String("volume", filled.String()),
	)
	return nil
}

func (s *Saga) getSellOrderInfo(ctx context.Context, ac *Context) error {
	if ac.SellOrderID == "" {
		return nil
	}
	order, err := s.awaitFinal(ctx, s.seller, ac.SellOrderID)
	if err != nil {
		return err
	}
	ac.SellOrder = &order
	return nil
}

func (s *Saga) calculateFinalResult(ctx context.Context, ac *Context) error {
	if ac.BuyOrder == nil {
		return fmt.Errorf("arbitrage: context %s has no confirmed buy order", ac.ID)
	}
	res := FinalResult{
		BaseBought:  ac.BuyOrder.FilledVolume,
		QuoteSpent:  ac.BuyOrder.CostIncludingFee,
		BaseSold:    money.Zero(ac.Pair.Base),
		QuoteEarned: money.Zero(ac.Pair.Quote),
	}
	if ac.SellOrder != nil {
		res.BaseSold = ac.SellOrder.FilledVolume
		res.QuoteEarned = ac.SellOrder.CostIncludingFee
	}
	res.BaseDelta = res.BaseBought.Sub(res.BaseSold)
	res.QuoteDelta = res.QuoteEarned.Sub(res.QuoteSpent)
	res.ProfitPercentage = money.FromRatio(res.QuoteDelta.Ratio(res.QuoteSpent))

	var buyBal, sellBal domain.BalanceResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { buyBal, err = s.buyer.GetCurrentBalance(gctx, ac.Pair); return err })
	g.Go(func() (err error) { sellBal, err = s.seller.GetCurrentBalance(gctx, ac.Pair); return err })
	if err := g.Wait(); err != nil {
		// The trade is done; a missing snapshot must not leave it unfinished.
		s.logger.WarnContext(ctx, "post-trade balance snapshot failed",
			slog.String("context_id", ac.ID),
			slog.String("error", err.Error()),
		)
	} else {
		res.BuyerBalance = &buyBal
		res.SellerBalance = &sellBal
	}
	ac.Result = &res
	return nil
}

// awaitFinal polls an order until the venue reports it closed or cancelled.
func (s *Saga) awaitFinal(ctx context.Context, v domain.Venue, id string) (domain.FullOrder, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		order, err := v.GetOrderInfo(ctx, id)
		if err != nil {
			return domain.FullOrder{}, fmt.Errorf("arbitrage: %s order %s: %w", v.Name(), id, err)
		}
		if order.State.IsFinal() {
			return order, nil
		}
		s.logger.DebugContext(ctx, "order still open",
			slog.String("venue", v.Name()),
			slog.String("order_id", id),
			slog.String("state", string(order.State)),
		)
		select {
		case <-ctx.Done():
			return domain.FullOrder{}, fmt.Errorf("arbitrage: %s order %s: %w", v.Name(), id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Saga) record(ctx context.Context, ac *Context) {
	if s.recorder == nil {
		return
	}
	rec, err := ac.Record()
	if err == nil {
		err = s.recorder.Append(context.WithoutCancel(ctx), rec)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "record arbitrage transition",
			slog.String("context_id", ac.ID),
			slog.String("state", string(ac.State)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Saga) halted(ctx context.Context, ac *Context, err error) {
	if errors.Is(err, ErrPolicyRejected) {
		s.logger.InfoContext(ctx, "arbitrage rejected",
			slog.String("context_id", ac.ID),
			slog.String("reason", err.Error()),
		)
		return
	}
	s.logger.ErrorContext(ctx, "arbitrage halted",
		slog.String("context_id", ac.ID),
		slog.String("state", string(ac.State)),
		slog.Bool("exposed", ac.Exposed()),
		slog.String("error", err.Error()),
	)
	if !ac.Exposed() || s.notifier == nil {
		return
	}
	title := fmt.Sprintf("Arbitrage %s halted with an open position", ac.Pair.Key())
	msg := fmt.Sprintf("context %s stopped at %s after buy order %s on %s: %v",
		ac.ID, ac.State, ac.BuyOrderID, ac.Buyer, err)
	if nerr := s.notifier.Notify(context.WithoutCancel(ctx), "saga_halted", title, msg); nerr != nil {
		s.logger.ErrorContext(ctx, "halt alert failed",
			slog.String("context_id", ac.ID),
			slog.String("error", nerr.Error()),
		)
	}
}
