// Package ratelimit provides a token-bucket gate over the upstream
// provider's contracted call budget.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Config describes a requests-per-window budget.
type Config struct {
	// RequestsPerWindow is the number of requests allowed per Window.
	RequestsPerWindow int
	// Window is the period over which RequestsPerWindow applies.
	Window time.Duration
	// Burst is the maximum number of tokens that can accumulate. Defaults
	// to RequestsPerWindow when zero.
	Burst int
}

// DefaultConfig returns a 60 requests/60s budget, a common free-tier default
// among OHLCV providers.
func DefaultConfig() Config {
	return Config{
		RequestsPerWindow: 60,
		Window:            time.Minute,
		Burst:             60,
	}
}

// Limiter is a process-wide token bucket. All upstream calls must Acquire a
// token before issuing a request.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a Limiter from cfg, applying DefaultConfig's values for a zero
// RequestsPerWindow or Window; a zero Burst becomes RequestsPerWindow.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerWindow
	}

	perSecond := float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), cfg.Burst)}
}

// Acquire blocks cooperatively until a token is available or ctx is
// cancelled. Waiters are served FIFO by the underlying reservation queue.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
