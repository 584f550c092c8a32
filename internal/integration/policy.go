package integration

import (
	"math"
	"time"
)

// RetryPolicy bounds automatic retries of failed postings.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns three automatic attempts with a 30s doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 30 * time.Second, MaxBackoff: 15 * time.Minute}
}

// Exhausted reports whether attempts has used up the automatic budget.
func (p RetryPolicy) Exhausted(attempts int) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	return attempts >= max
}

// Backoff returns base * 2^(attempts-1), capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	base := p.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	if attempts <= 1 {
		return p.capped(base)
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempts-1)))
	if delay <= 0 {
		return p.capped(p.MaxBackoff)
	}
	return p.capped(delay)
}

func (p RetryPolicy) capped(d time.Duration) time.Duration {
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
