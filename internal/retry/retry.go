// Package retry holds the single retry policy shared by the transfer
// stages. Stages mark errors that must not be retried with Permanent;
// everything else is retried with exponential backoff up to MaxAttempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialBackoff is the first sleep; subsequent sleeps grow
	// exponentially up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Do runs op until it succeeds, returns a permanent error, the context
// is cancelled, or the attempt budget runs out.
func (p Policy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	// MaxRetries counts retries after the first attempt.
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	return backoff.Retry(op, bo)
}

// Permanent wraps err so Do stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
