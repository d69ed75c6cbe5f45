// Package ratelimit implements a token bucket throttle for outbound deliveries.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/postrelay/internal/metrics"
	"github.com/JakeFAU/postrelay/internal/relay"
	"golang.org/x/time/rate"
)

var _ relay.Throttle = (*Limiter)(nil)

// Config holds rate limiter configuration.
type Config struct {
	// RatePerSec is the sustained send rate. Zero or less disables throttling.
	RatePerSec float64
	Burst      int
}

// Limiter spaces out deliveries to a single channel.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RatePerSec)
	if cfg.RatePerSec <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(r, burst)}
}

// Wait blocks until a send token is available, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate tokens are not interesting as delay.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveThrottleDelay(d)
	}
	return nil
}
