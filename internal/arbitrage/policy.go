package arbitrage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/money"
	"github.com/alanyoungcy/arbengine/internal/profit"
)

// Policy decides whether a dry run is worth committing. A run is accepted
// when its profit percentage is at least MinProfit and its tradable base
// volume is strictly greater than MinVolume.
type Policy struct {
	MinProfit money.PercentageValue
	// MinVolume is a base-asset amount; the zero value means zero.
	MinVolume decimal.Decimal
}

// DefaultManagerPolicy is the manager's out-of-the-box policy.
func DefaultManagerPolicy() Policy {
	return Policy{
		MinProfit: money.PercentFromFloat(0.6),
		MinVolume: decimal.NewFromFloat(0.05),
	}
}

// Decision is the policy outcome for one dry run.
type Decision struct {
	ContextID        string                `json:"context_id"`
	Accepted         bool                  `json:"accepted"`
	Reason           string                `json:"reason,omitempty"`
	ProfitPercentage money.PercentageValue `json:"profit_percentage"`
	Volume           money.PriceValue      `json:"volume"`
	DecidedAt        time.Time             `json:"decided_at"`
}

// Err returns nil for accepted decisions and ErrPolicyRejected wrapped with
// the reason otherwise.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPolicyRejected, d.Reason)
}

// Evaluate applies the policy to a profit calculation. volume is the amount
// that would actually be traded.
func (p Policy) Evaluate(calc profit.Calculation, volume money.PriceValue) Decision {
	d := Decision{
		Accepted:         true,
		ProfitPercentage: calc.ProfitPercentage,
		Volume:           volume,
		DecidedAt:        time.Now().UTC(),
	}
	minVolume := money.New(p.MinVolume, volume.Asset())
	switch {
	case calc.ProfitPercentage.LessThan(p.MinProfit):
		d.Accepted = false
		d.Reason = fmt.Sprintf("profit %s below minimum %s", calc.ProfitPercentage, p.MinProfit)
	case !volume.IsValid() || !volume.GreaterThan(minVolume):
		d.Accepted = false
		d.Reason = fmt.Sprintf("volume %s not above minimum %s", volume, minVolume)
	}
	return d
}
