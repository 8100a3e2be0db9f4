package utils

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts controls Retry. Waits double per attempt up to MaxWait, with
// optional jitter to avoid thundering herds.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// DefaultRetryOpts is a sane retry budget for transient backend errors.
var DefaultRetryOpts = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, or ctx is
// done. Returns the last error on exhaustion and ctx.Err() on cancellation.
func Retry(ctx context.Context, opts RetryOpts, fn func() error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	wait := opts.InitialWait
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}
		sleep := wait
		if opts.Jitter {
			sleep += time.Duration(rand.Int63n(int64(wait)/2 + 1))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return lastErr
}
