package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"webextract/internal/pkg/apperr"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestBackoffGrowsAndIsCapped(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	tests := []struct {
		attempt int
		lo, hi  time.Duration
	}{
		{0, 100 * time.Millisecond, 150 * time.Millisecond},
		{1, 200 * time.Millisecond, 300 * time.Millisecond},
		{2, 300 * time.Millisecond, 450 * time.Millisecond},
		{6, 300 * time.Millisecond, 450 * time.Millisecond},
	}
	for _, tt := range tests {
		for n := 0; n < 20; n++ {
			d := p.Backoff(tt.attempt)
			assert.GreaterOrEqual(t, d, tt.lo)
			assert.LessOrEqual(t, d, tt.hi)
		}
	}
}

func TestDoRetriesTransientUntilExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), zerolog.Nop(), func(context.Context, int) error {
		calls++
		return apperr.Transient("fetch", "", apperr.ReasonHTTPStatus, nil)
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, apperr.ErrTransientFetch)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), zerolog.Nop(), func(context.Context, int) error {
		calls++
		return apperr.Permanent("fetch", "", apperr.ReasonHTTPStatus, nil)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, apperr.ErrPermanentFetch)
}

func TestDoSucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), zerolog.Nop(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return apperr.Transient("fetch", "", apperr.ReasonTimeout, nil)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoHonorsCancellationDuringBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	err := Do(ctx, p, zerolog.Nop(), func(context.Context, int) error {
		cancel()
		return apperr.Transient("fetch", "", apperr.ReasonTimeout, nil)
	})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDoRespectsWallClockCeiling(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond, MaxElapsed: 10 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), p, zerolog.Nop(), func(context.Context, int) error {
		calls++
		return apperr.Transient("fetch", "", apperr.ReasonTimeout, nil)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "next backoff would exceed the ceiling")
}
