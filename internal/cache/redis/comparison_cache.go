package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// ComparisonCache keeps the latest ask/bid comparison per tag in a hash at
// "arbengine:comparison:{tag}" so the API can serve it without touching
// the venues.
type ComparisonCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewComparisonCache creates the cache; ttl 0 keeps entries forever.
func NewComparisonCache(c *Client, ttl time.Duration) *ComparisonCache {
	return &ComparisonCache{rdb: c.rdb, ttl: ttl, now: time.Now}
}

func comparisonKey(tag string) string {
	return keyPrefix + "comparison:" + tag
}

// Store saves value as the latest comparison for tag.
func (cc *ComparisonCache) Store(ctx context.Context, tag string, value float64) error {
	key := comparisonKey(tag)
	pipe := cc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"value": strconv.FormatFloat(value, 'f', -1, 64),
		"ts":    strconv.FormatInt(cc.now().UnixNano(), 10),
	})
	if cc.ttl > 0 {
		pipe.Expire(ctx, key, cc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set comparison %s: %w", tag, err)
	}
	return nil
}

// Last returns the latest comparison for tag, or domain.ErrNotFound.
func (cc *ComparisonCache) Last(ctx context.Context, tag string) (domain.Comparison, error) {
	vals, err := cc.rdb.HGetAll(ctx, comparisonKey(tag)).Result()
	if err != nil {
		return domain.Comparison{}, fmt.Errorf("redis: get comparison %s: %w", tag, err)
	}
	return parseComparison(tag, vals)
}

func parseComparison(tag string, vals map[string]string) (domain.Comparison, error) {
	rawValue, okValue := vals["value"]
	rawTS, okTS := vals["ts"]
	if !okValue || !okTS {
		return domain.Comparison{}, fmt.Errorf("redis: comparison %s: %w", tag, domain.ErrNotFound)
	}
	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return domain.Comparison{}, fmt.Errorf("redis: parse comparison %s: %w", tag, err)
	}
	nanos, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return domain.Comparison{}, fmt.Errorf("redis: parse comparison ts %s: %w", tag, err)
	}
	return domain.Comparison{Tag: tag, Value: value, ObservedAt: time.Unix(0, nanos)}, nil
}
