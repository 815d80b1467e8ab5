// Package retry centralizes the retry policy applied to external engine
// calls. Each external dependency gets its own Policy instance instead of
// hand-rolled loops at call sites.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a parameterized bounded-backoff retry schedule
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy returns the schedule used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialInterval: 500 * time.Millisecond, MaxInterval: 5 * time.Second}
}

// Permanent marks an error as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, the attempt budget is spent, or ctx is done.
// The last error is returned on exhaustion.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
	return backoff.Retry(op, b)
}
