// Package backoff provides pluggable retry delay strategies.
// All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows the delay by Base for every attempt.
// Delay = min(Base * attempt, Cap).
type Linear struct {
	Base time.Duration
	Cap  time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(base, maxDelay time.Duration) *Linear {
	return &Linear{Base: base, Cap: maxDelay}
}

// Delay returns Base * attempt, capped at Cap.
func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := l.Base * time.Duration(attempt)
	if l.Cap > 0 && d > l.Cap {
		return l.Cap
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^(attempt-1), Cap).
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Cap. Successive delays
// are non-decreasing, which makes retry pacing predictable in tests and
// in dashboards.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := e.Base
	for n := 1; n < attempt; n++ {
		if e.Cap > 0 && d >= e.Cap {
			return e.Cap
		}
		doubled := d * 2
		if doubled < d {
			// Overflowed; stop doubling.
			break
		}
		d = doubled
	}
	if e.Cap > 0 && d > e.Cap {
		return e.Cap
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Base * 2^(attempt-1), Cap)).
// This prevents thundering herd when many retries fire at once.
type ExponentialWithJitter struct {
	exp Exponential
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{exp: Exponential{Base: base, Cap: maxDelay}}
}

// Delay returns a random duration in [0, min(Base * 2^(attempt-1), Cap)).
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	ceiling := e.exp.Delay(attempt)
	if ceiling <= 0 {
		return 0
	}
	return rand.N(ceiling) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the engine default: pure exponential with 1s
// base and 60s cap. Jitter is opt-in because the default must keep
// successive delays for one job non-decreasing.
func DefaultStrategy() Strategy {
	return NewExponential(1*time.Second, 60*time.Second)
}
