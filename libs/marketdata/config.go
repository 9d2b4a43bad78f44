package marketdata

import (
	"errors"
	"time"

	"marketwarehouse/internal/ratelimit"
)

// ProviderName identifies a supported upstream OHLCV provider.
type ProviderName string

const (
	ProviderPolygon ProviderName = "polygon"
	ProviderAlpaca  ProviderName = "alpaca"
)

// Config holds market data client configuration.
type Config struct {
	Providers   []ProviderConfig
	Cache       CacheConfig
	RateLimit   ratelimit.Config
	CallTimeout time.Duration
}

// ProviderConfig holds provider-specific configuration.
type ProviderConfig struct {
	Name      ProviderName
	APIKey    string
	APISecret string // only used for Alpaca
	Priority  int    // lower number = higher priority (1 is highest, tried first)
	Enabled   bool
}

// CacheConfig holds caching configuration.
type CacheConfig struct {
	Enabled  bool
	RedisURL string
	TTL      time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: []ProviderConfig{},
		Cache: CacheConfig{
			Enabled:  true,
			RedisURL: "localhost:6379",
			TTL:      5 * time.Minute,
		},
		RateLimit:   ratelimit.DefaultConfig(),
		CallTimeout: 30 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	for i, p := range c.Providers {
		if p.Name == "" {
			return errors.New("provider name cannot be empty")
		}
		if p.APIKey == "" {
			return errors.New("provider API key cannot be empty")
		}
		if p.Name == ProviderAlpaca && p.APISecret == "" {
			return errors.New("alpaca provider requires API secret")
		}
		if p.Priority == 0 {
			c.Providers[i].Priority = i + 1
		}
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}

	return nil
}
