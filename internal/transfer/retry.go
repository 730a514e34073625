package transfer

import (
	"context"
	"time"
)

// RetryPolicy retries an operation a fixed number of times with a fixed
// delay between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do calls fn until it succeeds or MaxAttempts is spent. It returns the number
// of attempts made and the last error. A MaxAttempts below 1 means one attempt.
// The delay is skipped after the final attempt, and ctx cancellation during a
// delay ends the loop with ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		if err = fn(); err == nil {
			return attempt, nil
		}
		if attempt == limit {
			return attempt, err
		}
		if werr := wait(ctx, p.Delay); werr != nil {
			return attempt, werr
		}
	}
	return limit, err
}

func wait(ctx context.Context, d time.Duration) error {
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
