// Package retry runs an operation under a bounded retry policy.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy allows MaxRetries retries after the first attempt. Backoff returns
// the delay to wait after the n-th failed attempt (n starts at 1).
type Policy struct {
	MaxRetries int
	Backoff    func(n int) time.Duration
}

// Exponential waits 2^n units after the n-th failure: 2, 4, 8 units...
func Exponential(maxRetries int, unit time.Duration) Policy {
	return Policy{
		MaxRetries: maxRetries,
		Backoff: func(n int) time.Duration {
			if n > 30 {
				n = 30
			}
			return unit * time.Duration(int64(1)<<uint(n))
		},
	}
}

func Fixed(maxRetries int, delay time.Duration) Policy {
	return Policy{
		MaxRetries: maxRetries,
		Backoff:    func(int) time.Duration { return delay },
	}
}

// Delay returns the wait after the n-th failed attempt.
func (p Policy) Delay(n int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(n)
}

// Attempts is the total number of calls the policy permits.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Budget is the longest a full sequence can take when every attempt runs
// for perAttempt and fails.
func (p Policy) Budget(perAttempt time.Duration) time.Duration {
	total := time.Duration(p.Attempts()) * perAttempt
	for n := 1; n < p.Attempts(); n++ {
		total += p.Delay(n)
	}
	return total
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

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the policy is
// exhausted or ctx is done. fn receives the 1-based attempt number. The
// returned count is the number of calls made; the error is the last one
// returned by fn with any permanent marker removed.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	total := p.Attempts()
	var err error
	for attempt := 1; attempt <= total; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if IsPermanent(err) {
			return attempt, unwrapPermanent(err)
		}
		if attempt == total {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
	return total, err
}

func unwrapPermanent(err error) error {
	if p, ok := err.(*permanentError); ok {
		return p.err
	}
	return err
}
