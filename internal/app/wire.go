package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/arbitrage"
	s3blob "github.com/alanyoungcy/arbengine/internal/blob/s3"
	"github.com/alanyoungcy/arbengine/internal/cache/redis"
	"github.com/alanyoungcy/arbengine/internal/config"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/events"
	"github.com/alanyoungcy/arbengine/internal/money"
	"github.com/alanyoungcy/arbengine/internal/notify"
	"github.com/alanyoungcy/arbengine/internal/product"
	"github.com/alanyoungcy/arbengine/internal/server/handler"
	"github.com/alanyoungcy/arbengine/internal/server/middleware"
	"github.com/alanyoungcy/arbengine/internal/store/memory"
	"github.com/alanyoungcy/arbengine/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional backends are nil
// when not configured.
type Dependencies struct {
	Pair   domain.AssetPair
	Buyer  domain.Venue
	Seller domain.Venue

	Recorder   domain.ArbitrageRecorder
	AuditStore domain.AuditStore

	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Comparisons *redis.ComparisonCache

	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	Notifier  *notify.Notifier
	Alerter   *notify.ThresholdAlerter
	Publisher *events.Publisher

	Saga    *arbitrage.Saga
	Service *arbitrage.Service

	// HealthChecks feed GET /api/health.
	HealthChecks map[string]handler.Pinger
}

// Wire builds every dependency from cfg. The cleanup function releases
// connections in reverse order and must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Pair:         pairFromConfig(cfg.Pair),
		HealthChecks: make(map[string]handler.Pinger),
	}

	// --- Storage ---
	if cfg.Database.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Database.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Recorder = postgres.NewArbitrageStore(pg.Pool())
		deps.AuditStore = postgres.NewAuditStore(pg.Pool())
		deps.HealthChecks["postgres"] = pg.Ping
	} else {
		logger.WarnContext(ctx, "database disabled, arbitrage records are kept in memory")
		deps.Recorder = memory.NewArbitrageStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Comparisons = redis.NewComparisonCache(rc, cfg.Redis.ComparisonTTL.Duration)
		deps.HealthChecks["redis"] = rc.Ping
	} else {
		deps.RateLimiter = middleware.NewLocalLimiter()
		deps.LockManager = arbitrage.NewLocalLock()
		deps.SignalBus = events.NewLocalBus()
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobReader = s3blob.NewReader(sc)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc, cfg.S3.PartSize), logger)
		deps.HealthChecks["s3"] = sc.Health
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(senders(cfg.Notify), cfg.Notify.Events, logger)
	deps.Alerter = notify.NewThresholdAlerter(cfg.Notify.ThresholdRules(), deps.Notifier, logger)
	deps.Publisher = events.NewPublisher(deps.SignalBus, logger)

	// --- Venues and engine ---
	// Only Redis gives a limit shared across processes.
	var shared domain.RateLimiter
	if cfg.Redis.Enabled {
		shared = deps.RateLimiter
	}
	buyer, err := newVenue(cfg.Buyer, deps.Pair, shared, logger)
	if err != nil {
		return fail(err)
	}
	seller, err := newVenue(cfg.Seller, deps.Pair, shared, logger)
	if err != nil {
		return fail(err)
	}
	deps.Buyer, deps.Seller = buyer, seller

	policy, err := policyFrom(cfg.Arbitrage.MinProfitPct, cfg.Arbitrage.MinVolume)
	if err != nil {
		return fail(fmt.Errorf("wire: arbitrage policy: %w", err))
	}
	interceptors := arbitrage.Interceptors{deps.Publisher}
	if deps.Archiver != nil {
		interceptors = append(interceptors, deps.Archiver)
	}
	deps.Saga = arbitrage.NewSaga(arbitrage.SagaConfig{
		Buyer:          buyer,
		Seller:         seller,
		BuyerProducts:  product.NewCache(buyer, cfg.ProductCacheTTL.Duration, logger),
		SellerProducts: product.NewCache(seller, cfg.ProductCacheTTL.Duration, logger),
		Policy:         policy,
		Recorder:       deps.Recorder,
		Notifier:       deps.Notifier,
		Interceptor:    interceptors,
		PollInterval:   cfg.Arbitrage.PollInterval.Duration,
		Logger:         logger,
	})
	deps.Service = arbitrage.NewService(arbitrage.ServiceConfig{
		Saga:     deps.Saga,
		Pair:     deps.Pair,
		Recorder: deps.Recorder,
		Observer: &comparisonFanout{cache: deps.Comparisons, alerter: deps.Alerter, logger: logger},
		Lock:     deps.LockManager,
		LockTTL:  cfg.Arbitrage.LockTTL.Duration,
		Logger:   logger,
	})

	return deps, cleanup, nil
}

func senders(cfg config.NotifyConfig) []notify.Sender {
	var out []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		out = append(out, notify.NewTelegramSender(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		out = append(out, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if cfg.SlackWebhookURL != "" {
		out = append(out, notify.NewSlackSender(cfg.SlackWebhookURL))
	}
	return out
}

func policyFrom(minProfitPct float64, minVolume string) (arbitrage.Policy, error) {
	vol := decimal.Zero
	if minVolume != "" {
		var err error
		if vol, err = decimal.NewFromString(minVolume); err != nil {
			return arbitrage.Policy{}, fmt.Errorf("min volume %q: %w", minVolume, err)
		}
	}
	return arbitrage.Policy{MinProfit: money.PercentFromFloat(minProfitPct), MinVolume: vol}, nil
}

// comparisonFanout stores every comparison for the API and feeds the
// threshold alerter.
type comparisonFanout struct {
	cache   *redis.ComparisonCache
	alerter *notify.ThresholdAlerter
	logger  *slog.Logger
}

func (f *comparisonFanout) Observe(ctx context.Context, tag string, value float64) {
	if f.cache != nil {
		if err := f.cache.Store(ctx, tag, value); err != nil {
			f.logger.WarnContext(ctx, "store comparison failed",
				slog.String("tag", tag),
				slog.String("error", err.Error()),
			)
		}
	}
	f.alerter.Observe(ctx, tag, value)
}
