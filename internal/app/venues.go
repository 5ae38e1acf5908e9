package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/config"
	"github.com/alanyoungcy/arbengine/internal/crypto"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
	"github.com/alanyoungcy/arbengine/internal/platform/restvenue"
	"github.com/alanyoungcy/arbengine/internal/venue/paper"
)

// venue is what the saga and the product cache need from an adapter.
type venue interface {
	domain.Venue
	domain.ProductLister
}

// pairFromConfig resolves the configured pair to well-known assets.
func pairFromConfig(cfg config.PairConfig) domain.AssetPair {
	return domain.NewAssetPair(money.AssetByName(cfg.Base), money.AssetByName(cfg.Quote))
}

// newVenue builds a paper or REST venue. limiter is shared across
// processes and may be nil.
func newVenue(vc config.VenueConfig, pair domain.AssetPair, limiter domain.RateLimiter, logger *slog.Logger) (venue, error) {
	switch vc.Kind {
	case config.VenuePaper:
		return newPaperVenue(vc, pair, logger)
	case config.VenueREST:
		secret, err := crypto.ResolveSecret(crypto.SecretSource{
			Secret:     vc.APISecret,
			SealedPath: vc.SealedSecretPath,
			Password:   vc.SealedSecretPassword,
		})
		if err != nil && !errors.Is(err, crypto.ErrNoSecret) {
			return nil, fmt.Errorf("app: venue %s: %w", vc.Name, err)
		}
		rc := restvenue.Config{
			Name:    vc.Name,
			BaseURL: vc.BaseURL,
			Auth: crypto.HMACAuth{
				Key:        vc.APIKey,
				Secret:     secret,
				Passphrase: vc.APIPassphrase,
			},
			Pair:               pair,
			Symbol:             vc.Symbol,
			TakerFee:           money.PercentFromFloat(vc.TakerFeePct),
			MakerFee:           money.PercentFromFloat(vc.MakerFeePct),
			CanGetClosedOrders: vc.CanGetClosedOrders,
			BookDepth:          vc.BookDepth,
			Timeout:            vc.Timeout.Duration,
			MaxRetries:         vc.MaxRetries,
			RetryBackoff:       vc.RetryBackoff.Duration,
			RequestsPerSecond:  vc.RequestsPerSecond,
			Burst:              vc.Burst,
		}
		if limiter != nil && vc.SharedLimit > 0 {
			rc.SharedLimiter = limiter
			rc.SharedLimit = vc.SharedLimit
			rc.SharedWindow = vc.SharedWindow.Duration
		}
		return restvenue.New(rc, logger), nil
	}
	return nil, fmt.Errorf("app: venue %s: unknown kind %q", vc.Name, vc.Kind)
}

func newPaperVenue(vc config.VenueConfig, pair domain.AssetPair, logger *slog.Logger) (*paper.Venue, error) {
	pc := paper.Config{
		Name:        vc.Name,
		Pair:        pair,
		TakerFee:    money.PercentFromFloat(vc.TakerFeePct),
		MakerFee:    money.PercentFromFloat(vc.MakerFeePct),
		FillRatio:   decimal.NewFromFloat(vc.Paper.FillRatio),
		PurgeClosed: vc.Paper.PurgeClosed,
	}
	if vc.Paper.MinVolume != "" {
		mv, err := money.NewFromString(vc.Paper.MinVolume, pair.Base)
		if err != nil {
			return nil, fmt.Errorf("app: venue %s: min volume: %w", vc.Name, err)
		}
		pc.MinVolume = mv
	}
	v := paper.New(pc, logger)

	for asset, amount := range vc.Paper.Balances {
		bal, err := money.NewFromString(amount, money.AssetByName(asset))
		if err != nil {
			return nil, fmt.Errorf("app: venue %s: balance %s: %w", vc.Name, asset, err)
		}
		v.SetBalance(bal)
	}
	asks, err := paperLevels(vc.Paper.Asks, pair)
	if err != nil {
		return nil, fmt.Errorf("app: venue %s: asks: %w", vc.Name, err)
	}
	bids, err := paperLevels(vc.Paper.Bids, pair)
	if err != nil {
		return nil, fmt.Errorf("app: venue %s: bids: %w", vc.Name, err)
	}
	v.SetOrderBook(asks, bids)
	return v, nil
}

func paperLevels(raw [][]string, pair domain.AssetPair) ([]domain.OrderBookLevel, error) {
	out := make([]domain.OrderBookLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) != 2 {
			return nil, fmt.Errorf("level %v is not [price, volume]", lv)
		}
		price, err := money.NewFromString(lv[0], pair.Quote)
		if err != nil {
			return nil, err
		}
		volume, err := money.NewFromString(lv[1], pair.Base)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.OrderBookLevel{PricePerUnit: price, VolumeUnits: volume})
	}
	return out, nil
}
