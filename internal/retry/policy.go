// Package retry decides whether and when a failed adapter call is attempted again.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// Defaults applied by NewJitterPolicy when a field is left zero.
const (
	DefaultMaxAttempts = 3
	DefaultMinJitter   = 500 * time.Millisecond
	DefaultMaxJitter   = 1500 * time.Millisecond
)

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// JitterPolicy retries up to MaxAttempts times and waits a uniformly random
// delay in [MinJitter, MaxJitter] before every attempt, including the first.
type JitterPolicy struct {
	maxAttempts int
	minJitter   time.Duration
	maxJitter   time.Duration
}

// Config configures a JitterPolicy.
type Config struct {
	MaxAttempts int
	MinJitter   time.Duration
	MaxJitter   time.Duration
}

// NewJitterPolicy builds a policy, falling back to defaults for zero fields.
func NewJitterPolicy(cfg Config) *JitterPolicy {
	p := &JitterPolicy{
		maxAttempts: cfg.MaxAttempts,
		minJitter:   cfg.MinJitter,
		maxJitter:   cfg.MaxJitter,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.minJitter < 0 {
		p.minJitter = 0
	}
	if cfg.MinJitter == 0 && cfg.MaxJitter == 0 {
		p.minJitter, p.maxJitter = DefaultMinJitter, DefaultMaxJitter
	}
	if p.maxJitter < p.minJitter {
		p.maxJitter = p.minJitter
	}
	return p
}

// MaxAttempts returns the attempt budget per job.
func (p *JitterPolicy) MaxAttempts() int { return p.maxAttempts }

// ShouldRetry decides whether another attempt follows a failure on attempt
// (1-based).
func (p *JitterPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || IsPermanent(err) {
		return false
	}
	return true
}

// Delay returns the jitter to wait before the given attempt.
func (p *JitterPolicy) Delay(_ int) time.Duration {
	span := p.maxJitter - p.minJitter
	if span <= 0 {
		return p.minJitter
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return p.minJitter + span/2
	}
	return p.minJitter + time.Duration(n.Int64())
}

// Wait sleeps for Delay(attempt) or until ctx ends.
func (p *JitterPolicy) Wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
