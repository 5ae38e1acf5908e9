// Package config defines the arbengine configuration and its validation.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/notify"
)

// Modes.
const (
	ModeManager = "manager"
	ModeServer  = "server"
	ModeStatus  = "status"
)

// Venue kinds.
const (
	VenuePaper = "paper"
	VenueREST  = "rest"
)

// Config is the root configuration. Fields come from a TOML file and may be
// overridden by ARBENGINE_* environment variables.
type Config struct {
	Pair            PairConfig      `toml:"pair"`
	Buyer           VenueConfig     `toml:"buyer"`
	Seller          VenueConfig     `toml:"seller"`
	Arbitrage       ArbitrageConfig `toml:"arbitrage"`
	Manager         ManagerConfig   `toml:"manager"`
	ProductCacheTTL Duration        `toml:"product_cache_ttl"`
	Database        DatabaseConfig  `toml:"database"`
	Redis           RedisConfig     `toml:"redis"`
	S3              S3Config        `toml:"s3"`
	Notify          NotifyConfig    `toml:"notify"`
	Server          ServerConfig    `toml:"server"`
	Mode            string          `toml:"mode"`
	LogLevel        string          `toml:"log_level"`
}

// PairConfig names the arbitraged pair, e.g. base = "ETH", quote = "EUR".
type PairConfig struct {
	Base  string `toml:"base"`
	Quote string `toml:"quote"`
}

// VenueConfig describes one side of the arbitrage. Kind "paper" runs an
// in-memory venue seeded from Paper; kind "rest" talks HMAC-signed REST.
type VenueConfig struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`

	BaseURL       string `toml:"base_url"`
	APIKey        string `toml:"api_key"`
	APISecret     string `toml:"api_secret"`
	APIPassphrase string `toml:"api_passphrase"`
	// SealedSecretPath points at a file written by crypto.Seal; it is used
	// when APISecret is empty and opened with SealedSecretPassword.
	SealedSecretPath     string `toml:"sealed_secret_path"`
	SealedSecretPassword string `toml:"-"`
	Symbol               string `toml:"symbol"`

	// Fees are percentages: 0.26 means 0.26%.
	TakerFeePct        float64 `toml:"taker_fee_pct"`
	MakerFeePct        float64 `toml:"maker_fee_pct"`
	CanGetClosedOrders bool    `toml:"can_get_closed_orders"`
	BookDepth          int     `toml:"book_depth"`

	Timeout           Duration `toml:"timeout"`
	MaxRetries        int      `toml:"max_retries"`
	RetryBackoff      Duration `toml:"retry_backoff"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	// SharedLimit caps requests per SharedWindow across every process using
	// the same Redis; 0 disables it.
	SharedLimit  int      `toml:"shared_limit"`
	SharedWindow Duration `toml:"shared_window"`

	Paper PaperConfig `toml:"paper"`
}

// PaperConfig seeds a paper venue. Levels are [price, volume] pairs.
type PaperConfig struct {
	Balances    map[string]string `toml:"balances"`
	Asks        [][]string        `toml:"asks"`
	Bids        [][]string        `toml:"bids"`
	MinVolume   string            `toml:"min_volume"`
	FillRatio   float64           `toml:"fill_ratio"`
	PurgeClosed bool              `toml:"purge_closed"`
}

// ArbitrageConfig drives the saga.
type ArbitrageConfig struct {
	// MinProfitPct and MinVolume form the commit policy for manual runs.
	MinProfitPct float64  `toml:"min_profit_pct"`
	MinVolume    string   `toml:"min_volume"`
	PollInterval Duration `toml:"poll_interval"`
	LockTTL      Duration `toml:"lock_ttl"`
}

// ManagerConfig drives the auto-arbitrage loop.
type ManagerConfig struct {
	// Chunk is the quote amount dry-run on every decision.
	Chunk        string   `toml:"chunk"`
	AutoCommit   bool     `toml:"auto_commit"`
	Interval     Duration `toml:"interval"`
	Quiescence   Duration `toml:"quiescence"`
	MinProfitPct float64  `toml:"min_profit_pct"`
	MinVolume    string   `toml:"min_volume"`
}

// DatabaseConfig holds PostgreSQL parameters. When disabled, records and
// the audit log are kept in memory.
type DatabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis parameters. When disabled, events use an
// in-process bus and there is no cross-process locking.
type RedisConfig struct {
	Enabled       bool     `toml:"enabled"`
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	ComparisonTTL Duration `toml:"comparison_ttl"`
}

// S3Config holds object storage parameters for the context archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSize       int64  `toml:"part_size"`
}

// NotifyConfig holds alert channels and threshold rules.
type NotifyConfig struct {
	TelegramAPIURL    string      `toml:"telegram_api_url"`
	TelegramToken     string      `toml:"telegram_token"`
	TelegramChatID    string      `toml:"telegram_chat_id"`
	DiscordWebhookURL string      `toml:"discord_webhook_url"`
	SlackWebhookURL   string      `toml:"slack_webhook_url"`
	Events            []string    `toml:"events"`
	Alerts            []AlertRule `toml:"alerts"`
}

// AlertRule is one [[notify.alerts]] entry.
type AlertRule struct {
	Tag         string   `toml:"tag"`
	MinValue    float64  `toml:"min_value"`
	MinInterval Duration `toml:"min_interval"`
}

// ThresholdRules converts the alert rules for the notifier.
func (n NotifyConfig) ThresholdRules() []notify.ThresholdRule {
	out := make([]notify.ThresholdRule, 0, len(n.Alerts))
	for _, a := range n.Alerts {
		out = append(out, notify.ThresholdRule{
			Tag:         a.Tag,
			MinValue:    a.MinValue,
			MinInterval: a.MinInterval.Duration,
		})
	}
	return out
}

// ServerConfig holds HTTP server parameters. The server runs in server mode
// and, when Port is set, alongside the manager.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   Duration `toml:"rate_window"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// Duration decodes TOML strings such as "5m" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs two paper venues in server mode.
func Defaults() Config {
	paperVenue := func(name string) VenueConfig {
		return VenueConfig{
			Name:               name,
			Kind:               VenuePaper,
			TakerFeePct:        0.26,
			MakerFeePct:        0.16,
			CanGetClosedOrders: true,
			BookDepth:          50,
			Timeout:            Duration{10 * time.Second},
			MaxRetries:         2,
			RetryBackoff:       Duration{250 * time.Millisecond},
			RequestsPerSecond:  5,
			Burst:              5,
			SharedWindow:       Duration{time.Second},
		}
	}
	return Config{
		Pair:   PairConfig{Base: "ETH", Quote: "EUR"},
		Buyer:  paperVenue("buyer"),
		Seller: paperVenue("seller"),
		Arbitrage: ArbitrageConfig{
			MinProfitPct: 0,
			MinVolume:    "0",
			PollInterval: Duration{500 * time.Millisecond},
			LockTTL:      Duration{2 * time.Minute},
		},
		Manager: ManagerConfig{
			Chunk:        "500",
			AutoCommit:   false,
			Interval:     Duration{time.Second},
			Quiescence:   Duration{20 * time.Second},
			MinProfitPct: 0.6,
			MinVolume:    "0.05",
		},
		ProductCacheTTL: Duration{10 * time.Minute},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      10,
			MaxRetries:    3,
			ComparisonTTL: Duration{time.Hour},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "arbengine",
			ForcePathStyle: true,
			PartSize:       5 << 20,
		},
		Notify: NotifyConfig{
			Events: []string{notify.EventSagaHalted, notify.EventThreshold, notify.EventManager},
		},
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:    20,
			RateWindow:   Duration{time.Second},
			WriteTimeout: Duration{2 * time.Minute},
		},
		Mode:     ModeServer,
		LogLevel: "info",
	}
}

var (
	validModes     = []string{ModeManager, ModeServer, ModeStatus}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validKinds     = []string{VenuePaper, VenueREST}
)

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !slices.Contains(validModes, strings.ToLower(c.Mode)) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		add("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Pair.Base == "" || c.Pair.Quote == "" {
		add("pair: base and quote must be set")
	} else if strings.EqualFold(c.Pair.Base, c.Pair.Quote) {
		add("pair: base and quote must differ")
	}

	c.Buyer.validate("buyer", add)
	c.Seller.validate("seller", add)
	if c.Buyer.Name != "" && c.Buyer.Name == c.Seller.Name {
		add("buyer and seller must have different names")
	}

	checkDecimal(c.Arbitrage.MinVolume, "arbitrage: min_volume", add)
	if c.Arbitrage.MinProfitPct < -100 {
		add("arbitrage: min_profit_pct must be >= -100")
	}
	if d, ok := checkDecimal(c.Manager.Chunk, "manager: chunk", add); ok && !d.IsPositive() {
		add("manager: chunk must be > 0")
	}
	checkDecimal(c.Manager.MinVolume, "manager: min_volume", add)

	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				add("database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				add("database: port must be 1-65535, got %d", c.Database.Port)
			}
			if c.Database.Database == "" {
				add("database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			add("database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			add("database: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		add("notify: telegram_chat_id is required with telegram_token")
	}
	for i, a := range c.Notify.Alerts {
		if a.Tag == "" {
			add("notify.alerts[%d]: tag must not be empty", i)
		}
		if a.MinInterval.Duration < 0 {
			add("notify.alerts[%d]: min_interval must not be negative", i)
		}
	}

	if c.Mode == ModeServer && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (v VenueConfig) validate(side string, add func(string, ...any)) {
	if v.Name == "" {
		add("%s: name must not be empty", side)
	}
	if !slices.Contains(validKinds, v.Kind) {
		add("%s: unknown kind %q (valid: %s)", side, v.Kind, strings.Join(validKinds, ", "))
	}
	if v.TakerFeePct < 0 || v.MakerFeePct < 0 {
		add("%s: fees must not be negative", side)
	}
	switch v.Kind {
	case VenueREST:
		if v.BaseURL == "" {
			add("%s: base_url is required for rest venues", side)
		}
		if v.APIKey != "" && v.APISecret == "" && v.SealedSecretPath == "" {
			add("%s: api_secret or sealed_secret_path is required with api_key", side)
		}
		if v.SealedSecretPath != "" && v.SealedSecretPassword == "" {
			add("%s: sealed_secret_path needs a password in the environment", side)
		}
	case VenuePaper:
		for asset, amount := range v.Paper.Balances {
			checkDecimal(amount, fmt.Sprintf("%s.paper.balances.%s", side, asset), add)
		}
		for _, lv := range append(slices.Clone(v.Paper.Asks), v.Paper.Bids...) {
			if len(lv) != 2 {
				add("%s.paper: book levels must be [price, volume] pairs", side)
				break
			}
			checkDecimal(lv[0], side+".paper: level price", add)
			checkDecimal(lv[1], side+".paper: level volume", add)
		}
		if v.Paper.FillRatio < 0 || v.Paper.FillRatio > 1 {
			add("%s.paper: fill_ratio must be within [0, 1]", side)
		}
	}
}

func checkDecimal(s, field string, add func(string, ...any)) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		add("%s: %q is not a decimal", field, s)
		return decimal.Zero, false
	}
	return d, true
}
