package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures exponential backoff.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// Retry calls f until it succeeds, MaxAttempts is used up or ctx is done.
// At least one attempt is always made.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	wait := opts.InitialWait

	var result Result[T]
	for attempt := range attempts {
		result = f(ctx)
		if result.IsOk() || attempt == attempts-1 {
			return result
		}

		sleep := wait
		if opts.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 {
			sleep = min(sleep, opts.MaxWait)
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}

		wait *= 2
		if opts.MaxWait > 0 {
			wait = min(wait, opts.MaxWait)
		}
	}
	return result
}

// RetryStage retries stage with opts for each input.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
