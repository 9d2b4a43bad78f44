// Package config loads the warehouse engine's closed configuration
// (spec.md §6) from a JSON file plus environment variable overrides,
// following the same Load(path) pattern as the platform's
// services/jax-market/internal/config package.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"marketwarehouse/internal/orchestrator"
	"marketwarehouse/internal/ratelimit"
	"marketwarehouse/internal/scheduler"
	"marketwarehouse/libs/database"
	"marketwarehouse/libs/marketdata"
)

// Config is the closed configuration enumeration from spec.md §6. Every
// field except MisfireGraceSeconds, CacheEnabled and MigrationsPath has a
// named environment-variable override (see applyEnvOverrides); those three
// are set only by the defaults or the config file. No other configuration
// surface exists.
type Config struct {
	UpstreamAPIKey    string `json:"upstream_api_key"`
	UpstreamAPISecret string `json:"upstream_api_secret"`
	DatabaseURL       string `json:"database_url"`

	BackfillScheduleHour   int `json:"backfill_schedule_hour"`
	BackfillScheduleMinute int `json:"backfill_schedule_minute"`

	MaxConcurrentSymbols      int `json:"max_concurrent_symbols"`
	InterGroupPauseSeconds    int `json:"inter_group_pause_seconds"`
	InterSymbolStaggerSeconds int `json:"inter_symbol_stagger_seconds"`
	ChunkDays                 int `json:"chunk_days"`
	DefaultHistoryDays        int `json:"default_history_days"`
	GapRetryMaxAttempts       int `json:"gap_retry_max_attempts"`
	UpstreamCallTimeoutSecs   int `json:"upstream_call_timeout_seconds"`
	JobDeadlineSeconds        int `json:"job_deadline_seconds"`

	MisfireGraceSeconds int `json:"misfire_grace_seconds"`

	RedisURL     string `json:"redis_url"`
	CacheEnabled bool   `json:"cache_enabled"`

	MigrationsPath string `json:"migrations_path"`
}

// Defaults returns the spec.md §6 default values. Load starts here and
// applies the config file, then environment overrides, on top.
func Defaults() Config {
	return Config{
		BackfillScheduleHour:      2,
		BackfillScheduleMinute:    0,
		MaxConcurrentSymbols:      3,
		InterGroupPauseSeconds:    15,
		InterSymbolStaggerSeconds: 5,
		ChunkDays:                 365,
		DefaultHistoryDays:        365,
		GapRetryMaxAttempts:       2,
		UpstreamCallTimeoutSecs:   30,
		JobDeadlineSeconds:        14400,
		MisfireGraceSeconds:       600,
		CacheEnabled:              true,
		RedisURL:                  "localhost:6379",
		MigrationsPath:            "migrations",
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment variable overrides, then validates the closed enumeration's
// required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UPSTREAM_API_KEY"); v != "" {
		cfg.UpstreamAPIKey = v
	}
	if v := os.Getenv("UPSTREAM_API_SECRET"); v != "" {
		cfg.UpstreamAPISecret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	envInt("BACKFILL_SCHEDULE_HOUR", &cfg.BackfillScheduleHour)
	envInt("BACKFILL_SCHEDULE_MINUTE", &cfg.BackfillScheduleMinute)
	envInt("MAX_CONCURRENT_SYMBOLS", &cfg.MaxConcurrentSymbols)
	envInt("INTER_GROUP_PAUSE_SECONDS", &cfg.InterGroupPauseSeconds)
	envInt("INTER_SYMBOL_STAGGER_SECONDS", &cfg.InterSymbolStaggerSeconds)
	envInt("CHUNK_DAYS", &cfg.ChunkDays)
	envInt("DEFAULT_HISTORY_DAYS", &cfg.DefaultHistoryDays)
	envInt("GAP_RETRY_MAX_ATTEMPTS", &cfg.GapRetryMaxAttempts)
	envInt("UPSTREAM_CALL_TIMEOUT_SECONDS", &cfg.UpstreamCallTimeoutSecs)
	envInt("JOB_DEADLINE_SECONDS", &cfg.JobDeadlineSeconds)
}

func envInt(name string, dest *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dest = n
}

// Validate checks the two required fields (spec.md §6: "UPSTREAM_API_KEY —
// required", "DATABASE_URL — required") are present. Configuration
// invalid is fatal at process start (spec.md §7).
func (c *Config) Validate() error {
	if c.UpstreamAPIKey == "" {
		return ErrMissingUpstreamAPIKey
	}
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	return nil
}

// RateLimit derives a ratelimit.Config. The warehouse engine does not
// expose a separate requests-per-window setting in the closed enumeration,
// so this always returns ratelimit.DefaultConfig (60 requests per 60s).
func (c *Config) RateLimit() ratelimit.Config {
	return ratelimit.DefaultConfig()
}

// Database derives a libs/database Config from the closed enumeration.
func (c *Config) Database() *database.Config {
	dbCfg := database.DefaultConfig()
	dbCfg.DSN = c.DatabaseURL
	return dbCfg
}

// MarketData derives a libs/marketdata Config, enabling Polygon (primary)
// and, only when UpstreamAPISecret is set, Alpaca (fallback) per
// SPEC_FULL.md's domain stack table.
func (c *Config) MarketData() *marketdata.Config {
	mdCfg := marketdata.DefaultConfig()
	mdCfg.RateLimit = c.RateLimit()
	mdCfg.CallTimeout = time.Duration(c.UpstreamCallTimeoutSecs) * time.Second
	mdCfg.Cache = marketdata.CacheConfig{
		Enabled:  c.CacheEnabled,
		RedisURL: c.RedisURL,
		TTL:      5 * time.Minute,
	}
	mdCfg.Providers = []marketdata.ProviderConfig{
		{Name: marketdata.ProviderPolygon, APIKey: c.UpstreamAPIKey, Priority: 1, Enabled: true},
	}
	if c.UpstreamAPISecret != "" {
		mdCfg.Providers = append(mdCfg.Providers, marketdata.ProviderConfig{
			Name: marketdata.ProviderAlpaca, APIKey: c.UpstreamAPIKey, APISecret: c.UpstreamAPISecret,
			Priority: 2, Enabled: true,
		})
	}
	return mdCfg
}

// Orchestrator derives an internal/orchestrator Config from the closed
// enumeration (spec.md §4.5, §6).
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		MaxConcurrentSymbols: c.MaxConcurrentSymbols,
		InterGroupPause:      time.Duration(c.InterGroupPauseSeconds) * time.Second,
		InterSymbolStagger:   time.Duration(c.InterSymbolStaggerSeconds) * time.Second,
		ChunkDays:            c.ChunkDays,
		DefaultHistoryDays:   c.DefaultHistoryDays,
		GapRetryMaxAttempts:  c.GapRetryMaxAttempts,
		GapRetryBaseDelay:    orchestrator.DefaultConfig().GapRetryBaseDelay,
		UpstreamCallTimeout:  time.Duration(c.UpstreamCallTimeoutSecs) * time.Second,
		JobDeadline:          time.Duration(c.JobDeadlineSeconds) * time.Second,
	}
}

// Scheduler derives an internal/scheduler Config. The daily tick's history
// window reuses DefaultHistoryDays (spec.md §6) rather than a separate
// knob — there is no operator-supplied date range for the scheduled job.
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		ScheduleHour:   c.BackfillScheduleHour,
		ScheduleMinute: c.BackfillScheduleMinute,
		MisfireGrace:   time.Duration(c.MisfireGraceSeconds) * time.Second,
		HistoryWindow:  time.Duration(c.DefaultHistoryDays) * 24 * time.Hour,
	}
}
