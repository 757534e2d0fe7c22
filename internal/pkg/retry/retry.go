package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"webextract/internal/pkg/apperr"
)

// Policy bounds a retry loop by attempts and total wall-clock time.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxElapsed is the wall-clock ceiling; zero disables it.
	MaxElapsed time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		MaxElapsed:  45 * time.Second,
	}
}

// Backoff returns the delay before attempt i+1: base*2^i capped at
// MaxDelay, plus up to 50% jitter.
func (p Policy) Backoff(i int) time.Duration {
	backoff := time.Duration(math.Min(float64(p.BaseDelay)*math.Pow(2, float64(i)), float64(p.MaxDelay)))
	jitter := time.Duration(rand.Float64() * float64(backoff) * 0.5)
	return backoff + jitter
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, logger zerolog.Logger, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	start := time.Now()

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = fn(ctx, i+1)
		if lastErr == nil {
			return nil
		}
		if !apperr.Retryable(lastErr) || i == attempts-1 {
			return lastErr
		}

		nextBackoff := p.Backoff(i)
		if hint := apperr.RetryAfterHint(lastErr); hint > nextBackoff {
			nextBackoff = min(hint, p.MaxDelay)
		}
		if p.MaxElapsed > 0 && time.Since(start)+nextBackoff > p.MaxElapsed {
			logger.Debug().Int("attempt", i+1).Msg("retry budget exhausted")
			return lastErr
		}

		logger.Debug().Err(lastErr).Int("attempt", i+1).Dur("backoff", nextBackoff).Msg("retrying")
		select {
		case <-ctx.Done():
			return apperr.Transient("retry", "", apperr.ReasonCanceled, ctx.Err())
		case <-time.After(nextBackoff):
		}
	}
	return lastErr
}
