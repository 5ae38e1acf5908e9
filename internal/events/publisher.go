package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbengine/internal/arbitrage"
	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Event types.
const (
	TypeArbitrageState  = "arbitrage_state"
	TypeArbitrageHalted = "arbitrage_halted"
	TypeStatus          = "status"
	TypeManager         = "manager"
)

const publishTimeout = 5 * time.Second

// ArbitrageSummary is the payload of arbitrage events.
type ArbitrageSummary struct {
	ContextID string          `json:"context_id"`
	Pair      string          `json:"pair"`
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
	State     arbitrage.State `json:"state"`
	DryRun    bool            `json:"dry_run"`
	Error     string          `json:"error,omitempty"`
	Profit    string          `json:"profit,omitempty"`
	ProfitPct string          `json:"profit_pct,omitempty"`
}

// Publisher turns saga transitions and API status snapshots into bus
// events. It implements arbitrage.Interceptor.
type Publisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(bus domain.SignalBus, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "event_publisher")),
		now:    time.Now,
	}
}

func (p *Publisher) BeforeState(context.Context, *arbitrage.Context) error { return nil }

// AfterState publishes every completed step; halted steps are also
// appended to the durable stream.
func (p *Publisher) AfterState(ctx context.Context, ac *arbitrage.Context, stepErr error) {
	sum := ArbitrageSummary{
		ContextID: ac.ID,
		Pair:      ac.Pair.Key(),
		Buyer:     ac.Buyer,
		Seller:    ac.Seller,
		State:     ac.State,
		DryRun:    ac.BreakOnState != "",
	}
	if ac.Calculation != nil {
		sum.Profit = ac.Calculation.Profit.String()
		sum.ProfitPct = ac.Calculation.ProfitPercentage.String()
	}
	typ := TypeArbitrageState
	if stepErr != nil {
		typ = TypeArbitrageHalted
		sum.Error = stepErr.Error()
	}

	durable := stepErr != nil || ac.State == arbitrage.StateFinished
	p.publish(ctx, domain.ChannelArbitrage, typ, sum, durable)
}

// PublishStatus broadcasts an API-level snapshot such as a spread status or
// manager change.
func (p *Publisher) PublishStatus(ctx context.Context, typ string, payload any) {
	p.publish(ctx, domain.ChannelStatus, typ, payload, false)
}

func (p *Publisher) publish(ctx context.Context, channel, typ string, payload any, durable bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.ErrorContext(ctx, "encode event payload failed",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
		return
	}
	msg, err := json.Marshal(domain.Event{Type: typ, Payload: raw, Timestamp: p.now().UTC()})
	if err != nil {
		p.logger.ErrorContext(ctx, "encode event failed", slog.String("error", err.Error()))
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.bus.Publish(pubCtx, channel, msg); err != nil {
		p.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
	if durable {
		if err := p.bus.StreamAppend(pubCtx, domain.StreamArbitrage, msg); err != nil {
			p.logger.WarnContext(ctx, "stream append failed",
				slog.String("type", typ),
				slog.String("error", err.Error()),
			)
		}
	}
}

var _ arbitrage.Interceptor = (*Publisher)(nil)
