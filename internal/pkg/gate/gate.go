package gate

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"webextract/internal/pkg/metrics"
)

// DefaultCeiling bounds simultaneous outbound operations.
const DefaultCeiling = 32

// Gate is a counting semaphore over outbound network operations.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
	peak     atomic.Int64
	metrics  *metrics.Metrics
}

func New(capacity int, m *metrics.Metrics) *Gate {
	if capacity <= 0 {
		capacity = DefaultCeiling
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
		metrics:  m,
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func is safe to call more than once.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return func() {}, err
	}
	n := g.inFlight.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	g.metrics.GateAcquired()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			g.metrics.GateReleased()
			g.sem.Release(1)
		})
	}, nil
}

// Do runs fn while holding a slot. The slot is released on every exit path.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// InFlight reports the number of held slots.
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

// Peak reports the highest number of simultaneously held slots.
func (g *Gate) Peak() int { return int(g.peak.Load()) }

func (g *Gate) Capacity() int { return int(g.capacity) }
