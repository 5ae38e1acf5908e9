package arbitrage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
	"github.com/alanyoungcy/arbengine/internal/profit"
)

// ErrPolicyRejected marks a dry run that a policy refused. It is an
// expected outcome, not a venue failure.
var ErrPolicyRejected = errors.New("arbitrage: rejected by policy")

// ErrInvalidBudget marks a budget or context that does not fit the pair.
var ErrInvalidBudget = errors.New("arbitrage: invalid budget")

// State is a saga step.
type State string

const (
	StateCheckStatus          State = "check_status"
	StatePlaceBuyOrder        State = "place_buy_order"
	StateGetBuyOrderInfo      State = "get_buy_order_info"
	StatePlaceSellOrder       State = "place_sell_order"
	StateGetSellOrderInfo     State = "get_sell_order_info"
	StateCalculateFinalResult State = "calculate_final_result"
	StateFinished             State = "finished"
)

var stateOrder = []State{
	StateCheckStatus,
	StatePlaceBuyOrder,
	StateGetBuyOrderInfo,
	StatePlaceSellOrder,
	StateGetSellOrderInfo,
	StateCalculateFinalResult,
	StateFinished,
}

// Valid reports whether s is one of the saga states.
func (s State) Valid() bool {
	for _, st := range stateOrder {
		if st == s {
			return true
		}
	}
	return false
}

func (s State) index() int {
	for i, st := range stateOrder {
		if st == s {
			return i
		}
	}
	panic(fmt.Sprintf("arbitrage: invalid state %q", string(s)))
}

// Next returns the state following s. Finished is its own successor.
func (s State) Next() State {
	i := s.index()
	if i == len(stateOrder)-1 {
		return s
	}
	return stateOrder[i+1]
}

// Before reports whether s comes strictly before o.
func (s State) Before(o State) bool { return s.index() < o.index() }

// BalanceOption tells CheckStatus what to do with a venue balance.
type BalanceOption string

const (
	// BalanceIgnore does not look at the balance.
	BalanceIgnore BalanceOption = "ignore"
	// BalanceCap lowers the budget to what the balance allows.
	BalanceCap BalanceOption = "cap"
	// BalanceRequire rejects the run when the balance does not cover it.
	BalanceRequire BalanceOption = "require"
)

// ParseBalanceOption accepts "", ignore, cap and require.
func ParseBalanceOption(s string) (BalanceOption, error) {
	switch BalanceOption(s) {
	case "", BalanceIgnore:
		return BalanceIgnore, nil
	case BalanceCap, BalanceRequire:
		return BalanceOption(s), nil
	}
	return "", fmt.Errorf("%w: balance option %q", ErrInvalidBudget, s)
}

// Budget holds the caller's limits for one run. QuoteBalanceOption applies to
// the buyer's quote balance and BaseBalanceOption to the seller's base
// balance.
type Budget struct {
	QuoteToSpend       money.PriceValue  `json:"quote_to_spend"`
	QuoteBalanceOption BalanceOption     `json:"quote_balance_option"`
	BaseCap            *money.PriceValue `json:"base_cap,omitempty"`
	BaseBalanceOption  BalanceOption     `json:"base_balance_option"`
}

// FinalResult summarises a finished run.
type FinalResult struct {
	BaseBought       money.PriceValue      `json:"base_bought"`
	BaseSold         money.PriceValue      `json:"base_sold"`
	BaseDelta        money.PriceValue      `json:"base_delta"`
	QuoteSpent       money.PriceValue      `json:"quote_spent"`
	QuoteEarned      money.PriceValue      `json:"quote_earned"`
	QuoteDelta       money.PriceValue      `json:"quote_delta"`
	ProfitPercentage money.PercentageValue `json:"profit_percentage"`
	BuyerBalance     *domain.BalanceResult `json:"buyer_balance,omitempty"`
	SellerBalance    *domain.BalanceResult `json:"seller_balance,omitempty"`
}

// Context is the working record of one arbitrage attempt. It is owned by a
// single saga run and appended to the recorder at every transition.
type Context struct {
	ID           string           `json:"id"`
	Pair         domain.AssetPair `json:"pair"`
	Buyer        string           `json:"buyer"`
	Seller       string           `json:"seller"`
	State        State            `json:"state"`
	BreakOnState State            `json:"break_on_state,omitempty"`
	Budget       Budget           `json:"budget"`

	BuyerBalance  *domain.BalanceResult `json:"buyer_balance,omitempty"`
	SellerBalance *domain.BalanceResult `json:"seller_balance,omitempty"`
	Calculation   *profit.Calculation   `json:"calculation,omitempty"`

	BuyLimitPrice  money.PriceValue  `json:"buy_limit_price"`
	BuyVolume      money.PriceValue  `json:"buy_volume"`
	BuyOrderID     string            `json:"buy_order_id,omitempty"`
	BuyOrder       *domain.FullOrder `json:"buy_order,omitempty"`
	SellLimitPrice money.PriceValue  `json:"sell_limit_price"`
	SellOrderID    string            `json:"sell_order_id,omitempty"`
	SellOrder      *domain.FullOrder `json:"sell_order,omitempty"`
	Result         *FinalResult      `json:"result,omitempty"`

	Error string `json:"error,omitempty"`
	err   error

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewContext starts a context at CheckStatus.
func NewContext(pair domain.AssetPair, buyer, seller string, budget Budget) *Context {
	if budget.QuoteBalanceOption == "" {
		budget.QuoteBalanceOption = BalanceIgnore
	}
	if budget.BaseBalanceOption == "" {
		budget.BaseBalanceOption = BalanceIgnore
	}
	now := time.Now().UTC()
	return &Context{
		ID:             uuid.NewString(),
		Pair:           pair,
		Buyer:          buyer,
		Seller:         seller,
		State:          StateCheckStatus,
		Budget:         budget,
		BuyLimitPrice:  money.Invalid(pair.Quote),
		BuyVolume:      money.Invalid(pair.Base),
		SellLimitPrice: money.Invalid(pair.Quote),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// DryRun makes the next run stop before any order is placed.
func (c *Context) DryRun() { c.BreakOnState = StatePlaceBuyOrder }

// Resume clears the break so the next run continues to Finished.
func (c *Context) Resume() { c.BreakOnState = "" }

// Failed reports whether the Error slot is set.
func (c *Context) Failed() bool { return c.Error != "" }

// Err returns the stored error. After a JSON round trip only the message
// survives.
func (c *Context) Err() error {
	if c.err != nil {
		return c.err
	}
	if c.Error != "" {
		return errors.New(c.Error)
	}
	return nil
}

// Finished reports whether the saga reached its terminal state.
func (c *Context) Finished() bool { return c.State == StateFinished }

// Exposed reports whether the context stopped with a buy order placed but the
// sell leg not yet confirmed, leaving an unhedged position.
func (c *Context) Exposed() bool {
	return c.Failed() && c.BuyOrderID != "" && c.State.Before(StateCalculateFinalResult)
}

func (c *Context) fail(err error) {
	c.err = err
	c.Error = err.Error()
}

// Record converts the context into a recorder row.
func (c *Context) Record() (domain.ArbitrageRecord, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return domain.ArbitrageRecord{}, fmt.Errorf("arbitrage: encode context: %w", err)
	}
	rec := domain.ArbitrageRecord{
		ContextID:  c.ID,
		Pair:       c.Pair.Key(),
		Buyer:      c.Buyer,
		Seller:     c.Seller,
		State:      string(c.State),
		Error:      c.Error,
		DryRun:     c.BreakOnState == StatePlaceBuyOrder,
		Payload:    payload,
		RecordedAt: c.UpdatedAt,
	}
	switch {
	case c.Result != nil:
		rec.Profit = c.Result.QuoteDelta.Amount()
		rec.ProfitPct = c.Result.ProfitPercentage.Percent()
	case c.Calculation != nil:
		rec.Profit = c.Calculation.Profit.Amount()
		rec.ProfitPct = c.Calculation.ProfitPercentage.Percent()
	}
	return rec, nil
}
