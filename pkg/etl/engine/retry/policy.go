// Package retry defines the retry policy applied to batch delivery.
package retry

import (
	"math"
	"time"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
)

// Policy decides whether a failed storage write is retried and how long to
// back off between attempts.
type Policy interface {
	// ShouldRetry determines whether a given error is retry-worthy.
	ShouldRetry(err error) bool
	// NextBackoff returns the backoff interval before the given attempt
	// number (starting from 1 for the first retry).
	NextBackoff(attempt int) time.Duration
	// MaxAttempts returns the total number of delivery attempts allowed.
	MaxAttempts() int
}

// exponentialPolicy backs off exponentially from a base interval up to a cap.
type exponentialPolicy struct {
	maxAttempts int
	base        time.Duration
	cap         time.Duration
	factor      float64
}

// NewExponentialPolicy creates a Policy from the retry configuration.
func NewExponentialPolicy(cfg config.RetryConfig) Policy {
	base := cfg.BackoffBase()
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	capInterval := cfg.BackoffCap()
	if capInterval < base {
		capInterval = base
	}
	factor := cfg.Factor
	if factor < 1.0 {
		factor = 2.0
	}
	return &exponentialPolicy{
		maxAttempts: cfg.MaxAttempts,
		base:        base,
		cap:         capInterval,
		factor:      factor,
	}
}

// ShouldRetry reports whether the error is transient. Permanent failures
// (malformed write, schema violation) and cancellation are never retried.
func (p *exponentialPolicy) ShouldRetry(err error) bool {
	if err == nil || exception.IsCancellation(err) {
		return false
	}
	return exception.IsTransient(err)
}

// NextBackoff returns base * factor^(attempt-1), capped.
func (p *exponentialPolicy) NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.base) * math.Pow(p.factor, float64(attempt-1)))
	if d > p.cap || d <= 0 {
		d = p.cap
	}
	return d
}

// MaxAttempts returns the configured attempt bound.
func (p *exponentialPolicy) MaxAttempts() int {
	if p.maxAttempts < 1 {
		return 1
	}
	return p.maxAttempts
}

var _ Policy = (*exponentialPolicy)(nil)
