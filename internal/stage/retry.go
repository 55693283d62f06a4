package stage

import (
	"context"
)

// Retrier re-runs a failed attempt up to MaxReruns times after the first
// one. Success on any attempt wins; a cancelled context stops immediately.
type Retrier struct {
	// MaxReruns is how many re-runs follow a failed first attempt.
	MaxReruns int
}

// Do runs fn until it succeeds or the attempts are exhausted. It returns
// the number of attempts made and the last error.
func (r Retrier) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	attempts := 0
	var err error
	for attempt := 1; attempt <= r.MaxReruns+1; attempt++ {
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		attempts = attempt
		err = fn(attempt)
		if err == nil {
			return attempts, nil
		}
	}
	return attempts, err
}
