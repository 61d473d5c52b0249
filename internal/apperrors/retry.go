package apperrors

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig controls the backoff schedule for transient errors,
// generalized from the teacher's alexerrors.RetryConfig used by the LLM
// client factory.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// DefaultRetryConfig mirrors the teacher's conservative defaults: a handful
// of attempts with exponential backoff capped at a few seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// Delay exposes the backoff schedule for callers that need to hand-roll
// their own retry loop instead of using Do (e.g. a loop that must stop
// early for reasons Do's transient/permanent classification doesn't
// capture, such as a streaming call that has already emitted partial
// output).
func (c RetryConfig) Delay(attempt int) time.Duration {
	return c.delay(attempt)
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.BaseDelay << uint(attempt)
	if d > c.MaxDelay || d <= 0 {
		d = c.MaxDelay
	}
	if c.Jitter > 0 {
		jitter := time.Duration(float64(d) * c.Jitter * (rand.Float64()*2 - 1))
		d += jitter
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Do runs fn, retrying while IsTransient(err) and attempts remain. It stops
// immediately on a permanent or degraded error, or when ctx is cancelled.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.delay(attempt)):
		}
	}
	return lastErr
}
