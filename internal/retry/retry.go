package retry

import (
	"context"
	"time"
)

// Policy bounds the number of attempts and the wait between them.
type Policy struct {
	// Retries is the number of extra attempts after the first one.
	Retries int
	// Backoff is the wait before the first retry; it doubles every retry.
	Backoff time.Duration
	// MaxBackoff caps the wait. Zero means no cap.
	MaxBackoff time.Duration
}

// Delay returns the wait before retry number n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 || p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Do calls fn until it succeeds, shouldRetry rejects its error, the
// attempts run out, or ctx ends. It returns the number of attempts made
// and the last error.
func Do(ctx context.Context, p Policy, shouldRetry func(error) bool, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt == attempts || (shouldRetry != nil && !shouldRetry(err)) {
			return attempt, err
		}
		if serr := SleepWithContext(ctx, p.Delay(attempt)); serr != nil {
			return attempt, err
		}
	}
	return attempts, err
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
