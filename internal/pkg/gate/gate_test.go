package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestCeilingNeverExceeded(t *testing.T) {
	defer goleak.VerifyNone(t)

	const ceiling = 4
	g := New(ceiling, nil)

	var current, maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(ceiling))
	assert.LessOrEqual(t, g.Peak(), ceiling)
	assert.Equal(t, 0, g.InFlight())
}

func TestReleaseOnError(t *testing.T) {
	g := New(1, nil)
	boom := errors.New("boom")

	err := g.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, g.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := g.Acquire(ctx)
	require.NoError(t, err, "slot must be free after a failed operation")
	release()
}

func TestReleaseOnPanic(t *testing.T) {
	g := New(1, nil)
	assert.Panics(t, func() {
		_ = g.Do(context.Background(), func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, 0, g.InFlight())
}

func TestAcquireHonorsCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := New(1, nil)
	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Acquire(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("blocked acquire did not observe cancellation")
	}

	assert.Equal(t, 1, g.InFlight(), "canceled waiter must not hold a slot")
	release()
	assert.Equal(t, 0, g.InFlight())
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New(2, nil)
	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()
	assert.Equal(t, 0, g.InFlight())

	// Both slots are still usable.
	r1, err := g.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, g.InFlight())
	r1()
	r2()
}

func TestDefaultCeiling(t *testing.T) {
	assert.Equal(t, DefaultCeiling, New(0, nil).Capacity())
}
