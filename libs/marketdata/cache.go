package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketwarehouse/internal/validator"
)

// Cache provides Redis-backed caching for upstream candle responses, keyed
// by (symbol, timeframe, start, end). It is optional; callers fall through
// to the provider on any cache error.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a new cache instance.
func NewCache(config CacheConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: config.RedisURL,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client, ttl: config.TTL}, nil
}

func candleCacheKey(symbol string, timeframe Timeframe, start, end time.Time) string {
	return fmt.Sprintf("candles:%s:%s:%d:%d", symbol, timeframe, start.Unix(), end.Unix())
}

// GetCandles retrieves a cached candle batch for the exact (symbol,
// timeframe, start, end) window.
func (c *Cache) GetCandles(ctx context.Context, symbol string, timeframe Timeframe, start, end time.Time) ([]validator.RawCandle, error) {
	key := candleCacheKey(symbol, timeframe, start, end)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheError
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheError, err)
	}

	var candles []validator.RawCandle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal candles: %v", ErrCacheError, err)
	}
	return candles, nil
}

// SetCandles caches a candle batch. Daily and weekly candles are cached
// longer than intraday ones since they change less often.
func (c *Cache) SetCandles(ctx context.Context, symbol string, timeframe Timeframe, start, end time.Time, candles []validator.RawCandle) error {
	key := candleCacheKey(symbol, timeframe, start, end)
	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal candles: %v", ErrCacheError, err)
	}

	ttl := c.ttl
	if timeframe == Timeframe1Day || timeframe == Timeframe1Week {
		ttl = 24 * time.Hour
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheError, err)
	}
	return nil
}

// Close closes the cache connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
