package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARBENGINE_"

// Load merges the TOML file at path over Defaults, loads .env when present
// and applies ARBENGINE_* overrides. An empty path skips the file. Unknown
// TOML keys are an error. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and toggles at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Pair.Base, "PAIR_BASE")
	setStr(&cfg.Pair.Quote, "PAIR_QUOTE")

	applyVenueOverrides(&cfg.Buyer, "BUYER_")
	applyVenueOverrides(&cfg.Seller, "SELLER_")

	setFloat64(&cfg.Arbitrage.MinProfitPct, "ARBITRAGE_MIN_PROFIT_PCT")
	setStr(&cfg.Arbitrage.MinVolume, "ARBITRAGE_MIN_VOLUME")
	setDuration(&cfg.Arbitrage.PollInterval, "ARBITRAGE_POLL_INTERVAL")
	setDuration(&cfg.Arbitrage.LockTTL, "ARBITRAGE_LOCK_TTL")

	setStr(&cfg.Manager.Chunk, "MANAGER_CHUNK")
	setBool(&cfg.Manager.AutoCommit, "MANAGER_AUTO_COMMIT")
	setDuration(&cfg.Manager.Interval, "MANAGER_INTERVAL")
	setDuration(&cfg.Manager.Quiescence, "MANAGER_QUIESCENCE")
	setFloat64(&cfg.Manager.MinProfitPct, "MANAGER_MIN_PROFIT_PCT")
	setStr(&cfg.Manager.MinVolume, "MANAGER_MIN_VOLUME")

	setDuration(&cfg.ProductCacheTTL, "PRODUCT_CACHE_TTL")

	setBool(&cfg.Database.Enabled, "DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "DATABASE_DSN")
	setStr(&cfg.Database.Host, "DATABASE_HOST")
	setInt(&cfg.Database.Port, "DATABASE_PORT")
	setStr(&cfg.Database.Database, "DATABASE_DATABASE")
	setStr(&cfg.Database.User, "DATABASE_USER")
	setStr(&cfg.Database.Password, "DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "DATABASE_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.SlackWebhookURL, "NOTIFY_SLACK_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

func applyVenueOverrides(v *VenueConfig, prefix string) {
	setStr(&v.Name, prefix+"NAME")
	setStr(&v.Kind, prefix+"KIND")
	setStr(&v.BaseURL, prefix+"BASE_URL")
	setStr(&v.APIKey, prefix+"API_KEY")
	setStr(&v.APISecret, prefix+"API_SECRET")
	setStr(&v.APIPassphrase, prefix+"API_PASSPHRASE")
	setStr(&v.SealedSecretPath, prefix+"SEALED_SECRET_PATH")
	setStr(&v.SealedSecretPassword, prefix+"SEALED_SECRET_PASSWORD")
	setStr(&v.Symbol, prefix+"SYMBOL")
	setFloat64(&v.TakerFeePct, prefix+"TAKER_FEE_PCT")
	setFloat64(&v.MakerFeePct, prefix+"MAKER_FEE_PCT")
	setDuration(&v.Timeout, prefix+"TIMEOUT")
	setInt(&v.SharedLimit, prefix+"SHARED_LIMIT")
}

// Typed helpers. Each mutates the target only when the variable is set and
// parses.

func lookup(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
