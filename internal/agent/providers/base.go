package providers

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

const (
	backoffFactor = 2.0
	backoffJitter = 0.1
	maxBackoff    = 30 * time.Second
)

// retrier holds shared retry configuration for model clients. Only the
// request is retried; a response that arrived is never replayed.
type retrier struct {
	maxAttempts int
	delay       time.Duration
	random      func() float64
}

func newRetrier(maxRetries int, delay time.Duration) retrier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if delay <= 0 {
		delay = time.Second
	}
	return retrier{maxAttempts: maxRetries + 1, delay: delay, random: rand.Float64} // #nosec G404 -- jitter does not require cryptographic randomness
}

// backoff returns the wait after the given failed attempt (1-based):
// delay * 2^(attempt-1) plus up to 10% jitter, capped at 30s.
func (r retrier) backoff(attempt int) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(r.delay) * math.Pow(backoffFactor, exp)
	random := 0.0
	if r.random != nil {
		random = r.random()
	}
	total := math.Min(float64(maxBackoff), base+base*backoffJitter*random)
	return time.Duration(total)
}

// do executes op while IsRetryable holds, sleeping between attempts.
func (r retrier) do(ctx context.Context, op func() error) error {
	attempts := r.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		if !IsRetryable(err) || attempt == attempts {
			break
		}
		if err := sleepContext(ctx, r.backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
