package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const thresholdSendTimeout = 15 * time.Second

// ThresholdRule alerts when an observed value for Tag reaches MinValue, at
// most once per MinInterval.
type ThresholdRule struct {
	Tag         string        `toml:"tag"`
	MinValue    float64       `toml:"min_value"`
	MinInterval time.Duration `toml:"min_interval"`
}

// Dispatcher is the subset of Notifier the alerter needs.
type Dispatcher interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ThresholdAlerter evaluates observed values against its rules.
type ThresholdAlerter struct {
	rules  []ThresholdRule
	out    Dispatcher
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last map[int]time.Time
}

func NewThresholdAlerter(rules []ThresholdRule, out Dispatcher, logger *slog.Logger) *ThresholdAlerter {
	return &ThresholdAlerter{
		rules:  rules,
		out:    out,
		logger: logger.With(slog.String("component", "threshold_alerter")),
		now:    time.Now,
		last:   make(map[int]time.Time),
	}
}

// Observe checks value against every rule for tag and sends one alert per
// rule that fires.
func (a *ThresholdAlerter) Observe(ctx context.Context, tag string, value float64) {
	for _, i := range a.due(tag, value) {
		rule := a.rules[i]
		title := fmt.Sprintf("%s reached %.4f", tag, value)
		msg := fmt.Sprintf("%s is %.4f, threshold %.4f", tag, value, rule.MinValue)

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), thresholdSendTimeout)
		err := a.out.Notify(sendCtx, EventThreshold, title, msg)
		cancel()
		if err != nil {
			a.logger.WarnContext(ctx, "threshold alert failed",
				slog.String("tag", tag),
				slog.Float64("value", value),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.InfoContext(ctx, "threshold alert sent",
			slog.String("tag", tag),
			slog.Float64("value", value),
			slog.Float64("min_value", rule.MinValue),
		)
	}
}

// due returns the indexes of rules that fire now and marks them as alerted.
func (a *ThresholdAlerter) due(tag string, value float64) []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	var fire []int
	for i, r := range a.rules {
		if r.Tag != tag || value < r.MinValue {
			continue
		}
		if last, ok := a.last[i]; ok && now.Sub(last) < r.MinInterval {
			continue
		}
		a.last[i] = now
		fire = append(fire, i)
	}
	return fire
}
