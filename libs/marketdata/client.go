package marketdata

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"marketwarehouse/internal/ratelimit"
	"marketwarehouse/internal/validator"
	"marketwarehouse/libs/observability"
	"marketwarehouse/libs/resilience"
)

// Provider is the core contract every upstream market data provider must
// implement: date-ranged OHLCV history, adjusted-for-splits history, and a
// health probe. Enrichment endpoints (dividends, splits, earnings, options)
// are optional and advertised via the interfaces below, since not every
// provider's tier or API surface supports them.
type Provider interface {
	Name() string
	FetchCandles(ctx context.Context, symbol string, assetClass AssetClass, timeframe Timeframe, start, end time.Time) ([]validator.RawCandle, error)
	FetchAdjustedCandles(ctx context.Context, symbol string, timeframe Timeframe, start, end time.Time) ([]validator.RawCandle, error)
	HealthCheck(ctx context.Context) error
}

// DividendsProvider is implemented by providers that can report cash
// dividend events.
type DividendsProvider interface {
	FetchDividends(ctx context.Context, symbol string, start, end time.Time) ([]Dividend, error)
}

// SplitsProvider is implemented by providers that can report stock split
// events.
type SplitsProvider interface {
	FetchSplits(ctx context.Context, symbol string, start, end time.Time) ([]Split, error)
}

// EarningsProvider is implemented by providers that can report earnings
// events.
type EarningsProvider interface {
	FetchEarnings(ctx context.Context, symbol string, start, end time.Time) ([]Earnings, error)
}

// OptionsProvider is implemented by providers that can report an options
// chain snapshot.
type OptionsProvider interface {
	FetchOptionsChainSnapshot(ctx context.Context, symbol string, asOf time.Time) (*OptionsSnapshot, error)
}

type providerEntry struct {
	provider Provider
	priority int
	breaker  *resilience.CircuitBreaker
}

// Client aggregates one or more providers behind a single OHLCV/enrichment
// API, with provider fallback, a shared rate limit gate, per-provider
// circuit breaking, and an optional read-through cache.
type Client struct {
	providers []providerEntry
	cache     *Cache
	config    *Config
	limiter   *ratelimit.Limiter
}

// NewClient builds a Client from config, initializing every enabled
// provider in priority order (lowest Priority tried first).
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := &Client{
		config:  config,
		limiter: ratelimit.New(config.RateLimit),
	}

	if config.Cache.Enabled {
		cache, err := NewCache(config.Cache)
		if err != nil {
			log.Printf("failed to initialize cache: %v", err)
		} else {
			client.cache = cache
		}
	}

	for _, pc := range config.Providers {
		if !pc.Enabled {
			continue
		}

		var provider Provider
		var err error

		switch pc.Name {
		case ProviderPolygon:
			provider, err = NewPolygonProvider(pc)
		case ProviderAlpaca:
			provider, err = NewAlpacaProvider(pc)
		default:
			log.Printf("unknown provider: %s", pc.Name)
			continue
		}

		if err != nil {
			log.Printf("failed to initialize %s provider: %v", pc.Name, err)
			continue
		}

		client.providers = append(client.providers, providerEntry{
			provider: provider,
			priority: pc.Priority,
			breaker:  resilience.NewCircuitBreaker(resilience.DefaultConfig(string(pc.Name))),
		})
	}

	sort.Slice(client.providers, func(i, j int) bool {
		return client.providers[i].priority < client.providers[j].priority
	})

	if len(client.providers) == 0 {
		return nil, ErrNoProviderAvailable
	}

	log.Printf("initialized market data client with %d provider(s)", len(client.providers))
	return client, nil
}

// invoke runs fn through the rate limiter, the provider's circuit breaker,
// and the retry policy, logging one upstream_call audit record regardless
// of outcome.
func invoke[T any](ctx context.Context, c *Client, entry providerEntry, endpoint string, fn func() (T, error)) (T, error) {
	var zero T
	if err := c.limiter.Acquire(ctx); err != nil {
		return zero, err
	}

	start := time.Now()
	raw, err := entry.breaker.ExecuteWithContext(ctx, func() (any, error) {
		return withRetry(ctx, fn)
	})
	observability.LogUpstreamCall(ctx, entry.provider.Name(), endpoint, time.Since(start), err)

	if err != nil {
		return zero, err
	}
	result, _ := raw.(T)
	return result, nil
}

// FetchCandles returns raw OHLCV candles for symbol over [start, end),
// trying the cache first, then each provider in priority order until one
// succeeds. A provider reporting no records for the window is a successful
// empty result, not a fallback trigger.
func (c *Client) FetchCandles(ctx context.Context, symbol string, assetClass AssetClass, timeframe Timeframe, start, end time.Time) ([]validator.RawCandle, error) {
	if !ValidTimeframes[timeframe] {
		return nil, ErrInvalidTimeframe
	}

	if c.cache != nil {
		if candles, err := c.cache.GetCandles(ctx, symbol, timeframe, start, end); err == nil {
			return candles, nil
		}
	}

	var lastErr error
	for _, entry := range c.providers {
		candles, err := invoke(ctx, c, entry, "fetch_candles", func() ([]validator.RawCandle, error) {
			return entry.provider.FetchCandles(ctx, symbol, assetClass, timeframe, start, end)
		})
		if err == nil {
			if c.cache != nil {
				_ = c.cache.SetCandles(ctx, symbol, timeframe, start, end, candles)
			}
			return candles, nil
		}
		lastErr = err
		log.Printf("%s provider failed for %s candles: %v", entry.provider.Name(), symbol, err)
	}

	return nil, fmt.Errorf("%w: %v", ErrNoProviderAvailable, lastErr)
}

// FetchAdjustedCandles returns split/dividend-adjusted OHLCV candles, with
// the same provider fallback behavior as FetchCandles. Results are not
// cached since adjustment factors can change retroactively after a new
// corporate action is declared.
func (c *Client) FetchAdjustedCandles(ctx context.Context, symbol string, timeframe Timeframe, start, end time.Time) ([]validator.RawCandle, error) {
	if !ValidTimeframes[timeframe] {
		return nil, ErrInvalidTimeframe
	}

	var lastErr error
	for _, entry := range c.providers {
		candles, err := invoke(ctx, c, entry, "fetch_adjusted_candles", func() ([]validator.RawCandle, error) {
			return entry.provider.FetchAdjustedCandles(ctx, symbol, timeframe, start, end)
		})
		if err == nil {
			return candles, nil
		}
		lastErr = err
		log.Printf("%s provider failed for %s adjusted candles: %v", entry.provider.Name(), symbol, err)
	}

	return nil, fmt.Errorf("%w: %v", ErrNoProviderAvailable, lastErr)
}

// FetchDividends returns dividend events from the first provider in
// priority order that implements DividendsProvider.
func (c *Client) FetchDividends(ctx context.Context, symbol string, start, end time.Time) ([]Dividend, error) {
	var lastErr error
	for _, entry := range c.providers {
		enrich, ok := entry.provider.(DividendsProvider)
		if !ok {
			continue
		}
		result, err := invoke(ctx, c, entry, "fetch_dividends", func() ([]Dividend, error) {
			return enrich.FetchDividends(ctx, symbol, start, end)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrEndpointUnsupported
	}
	return nil, fmt.Errorf("%w: %v", ErrNoProviderAvailable, lastErr)
}

// FetchSplits returns split events from the first provider in priority
// order that implements SplitsProvider.
func (c *Client) FetchSplits(ctx context.Context, symbol string, start, end time.Time) ([]Split, error) {
	var lastErr error
	for _, entry := range c.providers {
		enrich, ok := entry.provider.(SplitsProvider)
		if !ok {
			continue
		}
		result, err := invoke(ctx, c, entry, "fetch_splits", func() ([]Split, error) {
			return enrich.FetchSplits(ctx, symbol, start, end)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrEndpointUnsupported
	}
	return nil, fmt.Errorf("%w: %v", ErrNoProviderAvailable, lastErr)
}

// FetchEarnings returns earnings events from the first provider in
// priority order that implements EarningsProvider.
func (c *Client) FetchEarnings(ctx context.Context, symbol string, start, end time.Time) ([]Earnings, error) {
	var lastErr error
	for _, entry := range c.providers {
		enrich, ok := entry.provider.(EarningsProvider)
		if !ok {
			continue
		}
		result, err := invoke(ctx, c, entry, "fetch_earnings", func() ([]Earnings, error) {
			return enrich.FetchEarnings(ctx, symbol, start, end)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrEndpointUnsupported
	}
	return nil, fmt.Errorf("%w: %v", ErrNoProviderAvailable, lastErr)
}

// FetchOptionsChainSnapshot returns a point-in-time options chain from the
// first provider in priority order that implements OptionsProvider.
func (c *Client) FetchOptionsChainSnapshot(ctx context.Context, symbol string, asOf time.Time) (*OptionsSnapshot, error) {
	var lastErr error
	for _, entry := range c.providers {
		enrich, ok := entry.provider.(OptionsProvider)
		if !ok {
			continue
		}
		result, err := invoke(ctx, c, entry, "fetch_options_chain", func() (*OptionsSnapshot, error) {
			return enrich.FetchOptionsChainSnapshot(ctx, symbol, asOf)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrEndpointUnsupported
	}
	return nil, fmt.Errorf("%w: %v", ErrNoProviderAvailable, lastErr)
}

// HealthCheck probes every configured provider and returns each one's
// health error (nil entries are healthy).
func (c *Client) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, entry := range c.providers {
		results[entry.provider.Name()] = entry.provider.HealthCheck(ctx)
	}
	return results
}

// Close releases client resources (the cache connection, if any).
func (c *Client) Close() error {
	if c.cache != nil {
		return c.cache.Close()
	}
	return nil
}
