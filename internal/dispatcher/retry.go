package dispatcher

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"
)

var errRetryableStatus = errors.New("retryable status")

// RetryPolicy bounds attempts and picks a random backoff between failures.
type RetryPolicy struct {
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
}

// NewRetryPolicy builds a policy with the given ceiling and backoff window.
func NewRetryPolicy(maxAttempts int, backoffMin, backoffMax time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		backoffMin:  backoffMin,
		backoffMax:  backoffMax,
	}
}

// ShouldRetry decides whether another attempt is allowed after err.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *RetryPolicy) Backoff(_ int) time.Duration {
	return randomBetween(p.backoffMin, p.backoffMax)
}

// statusError reports throttling and server errors as transient failures.
func statusError(code int) error {
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %d", errRetryableStatus, code)
	}
	return nil
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	span := hi - lo
	if span <= 0 {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return lo + span/2
	}
	return lo + time.Duration(n.Int64())
}
