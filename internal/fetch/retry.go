package fetch

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// RetryPolicy implements capped exponential backoff with jitter.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds the default policy: five attempts, waits growing
// from one second and bounded at twenty.
func NewRetryPolicy() RetryPolicy {
	return RetryPolicy{
		maxAttempts: 5,
		baseDelay:   time.Second,
		maxDelay:    20 * time.Second,
	}
}

// NewRetryPolicyWith overrides the defaults; non-positive values fall back.
func NewRetryPolicyWith(maxAttempts int, baseDelay, maxDelay time.Duration) RetryPolicy {
	p := NewRetryPolicy()
	if maxAttempts > 0 {
		p.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		p.baseDelay = baseDelay
	}
	if maxDelay > 0 {
		p.maxDelay = maxDelay
	}
	return p
}

// MaxAttempts returns the attempt cap including the first try.
func (p RetryPolicy) MaxAttempts() int { return p.maxAttempts }

// ShouldRetry decides whether the error class is transient.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	// The class check comes first: a per-request timeout wraps
	// context.DeadlineExceeded too, and that one is retryable.
	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Class {
		case ClassCanceled:
			return false
		case ClassHTTPStatus:
			return fe.StatusCode == 429 || fe.StatusCode >= 500
		}
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait before the given retry attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p RetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
