// Package ratelimit implements token bucket politeness limits keyed by source
// or host, so concurrent workers never burst a single supplier.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/adquify/catalog-harvester/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter manages one token bucket per key.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	overrides    map[string]rate.Limit
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// PerKeyRPS overrides the default rate for specific keys (hosts or source codes).
	PerKeyRPS map[string]float64
}

// New creates a new Limiter. A non-positive DefaultRPS disables limiting.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  toLimit(cfg.DefaultRPS),
		defaultBurst: burst,
		overrides:    make(map[string]rate.Limit, len(cfg.PerKeyRPS)),
	}
	for k, v := range cfg.PerKeyRPS {
		l.overrides[strings.ToLower(k)] = toLimit(v)
	}
	return l
}

// Key returns the limiter key for a fetch target: the lower-cased host for
// URLs, otherwise the fallback (normally the source code).
func Key(target, fallback string) string {
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		return strings.ToLower(u.Hostname())
	}
	return strings.ToLower(fallback)
}

// Wait blocks until a token is available for key, respecting the context.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	key = strings.ToLower(key)
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		r, ok := l.overrides[key]
		if !ok {
			r = l.defaultRate
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, waited)
	}
	return nil
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}
