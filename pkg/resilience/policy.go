// Package resilience provides the bounded-retry policy shared by the
// function-call dispatcher and the connection supervisor, and the supervisor
// that keeps the speech-agent link alive across transient failures.
package resilience

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy is a bounded exponential backoff. One policy object parameterizes
// every retry loop in the bridge; there are no ad hoc retry loops at call
// sites.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int `yaml:"max_attempts"`
	// Initial is the first backoff delay.
	Initial time.Duration `yaml:"initial"`
	// Cap bounds any single backoff delay.
	Cap time.Duration `yaml:"cap"`
	// MaxElapsed bounds the total time spent retrying. Zero disables it.
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// DefaultPolicy is the reconnection shape: 1s, 2s, 4s, 8s, 8s over at most
// 30 seconds before degrading.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Initial: time.Second, Cap: 8 * time.Second, MaxElapsed: 30 * time.Second}
}

// DispatchPolicy is the short shape used for business-logic retries.
func DispatchPolicy() Policy {
	return Policy{MaxAttempts: 2, Initial: 200 * time.Millisecond, Cap: time.Second}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Cap <= 0 {
		p.Cap = 8 * time.Second
	}
	return p
}

// backoff builds the go-retry backoff chain for this policy.
func (p Policy) backoff() retry.Backoff {
	p = p.normalized()
	b := retry.NewExponential(p.Initial)
	b = retry.WithCappedDuration(p.Cap, b)
	b = retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
	if p.MaxElapsed > 0 {
		b = retry.WithMaxDuration(p.MaxElapsed, b)
	}
	return b
}

// Do runs op under the policy. Any error from op is treated as retryable
// until attempts or elapsed time are exhausted; the last error is returned.
// Context cancellation stops retrying immediately.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
