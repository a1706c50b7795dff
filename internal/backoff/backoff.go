// Package backoff runs operations under a bounded exponential retry policy
// with jitter.
package backoff

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"

	"quotesync/internal/qsync"
)

// Policy bounds retries of one operation.
type Policy struct {
	Base        time.Duration // delay before the first retry
	MaxAttempts int           // total attempts, including the first
	MaxJitter   time.Duration // uniform jitter added to every delay
}

// DefaultPolicy matches the sync worker defaults.
var DefaultPolicy = Policy{Base: 500 * time.Millisecond, MaxAttempts: 4, MaxJitter: 250 * time.Millisecond}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the jitter-free delay before retry n (1-based): Base·2^(n-1).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < n; i++ {
		if d > time.Duration(1<<62)/2 {
			return time.Duration(1 << 62)
		}
		d *= 2
	}
	return d
}

// Backoff builds a fresh go-retry Backoff for the policy. Backoffs are
// stateful, so each Do call needs its own.
func (p Policy) Backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = time.Nanosecond
	}
	b := retry.NewExponential(base)
	if p.MaxJitter > 0 {
		b = withJitter(p.MaxJitter, b)
	}
	return retry.WithMaxRetries(uint64(p.attempts()-1), b)
}

// withJitter adds uniform jitter in [0, max] to every delay. go-retry's own
// jitter helpers can subtract from the delay, which breaks the lower bound.
func withJitter(max time.Duration, next retry.Backoff) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if stop {
			return 0, true
		}
		return d + time.Duration(rand.Int64N(int64(max)+1)), false
	})
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether Do would retry err: a transient error per
// qsync.IsTransient that is neither marked Permanent nor a context error.
func IsRetryable(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return qsync.IsTransient(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, the policy is
// exhausted or ctx ends. The last error from fn is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var last error
	err := retry.Do(ctx, p.Backoff(), func(ctx context.Context) error {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if IsRetryable(last) {
			return retry.RetryableError(last)
		}
		return last
	})
	if err == nil {
		return nil
	}
	if last != nil {
		var p *permanentError
		if errors.As(last, &p) {
			return p.err
		}
		if ctx.Err() != nil && !errors.Is(last, ctx.Err()) {
			return errors.Join(last, ctx.Err())
		}
		return last
	}
	return err
}
