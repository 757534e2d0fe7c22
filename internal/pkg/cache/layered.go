package cache

import (
	"context"

	"github.com/rs/zerolog"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/metrics"
)

// Layered fronts an optional shared Backend with the in-memory Cache.
// Backend failures surface as CacheUnavailable and never block the caller.
type Layered[V any] struct {
	name    string
	local   *Cache[V]
	remote  Backend[V]
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewLayered[V any](name string, local *Cache[V], remote Backend[V], logger zerolog.Logger, m *metrics.Metrics) *Layered[V] {
	return &Layered[V]{
		name:    name,
		local:   local,
		remote:  remote,
		logger:  logger.With().Str("cache", name).Logger(),
		metrics: m,
	}
}

func (l *Layered[V]) Name() string { return l.name }

// Lookup checks memory, then the remote tier. A remote error is returned
// alongside a miss so the caller can log it and carry on.
func (l *Layered[V]) Lookup(ctx context.Context, key string) (V, bool, error) {
	if v, ok := l.local.Lookup(key); ok {
		l.metrics.CacheLookup(l.name, "hit")
		return v, true, nil
	}
	var zero V
	if l.remote == nil {
		l.metrics.CacheLookup(l.name, "miss")
		return zero, false, nil
	}
	v, ok, err := l.remote.Get(ctx, key)
	if err != nil {
		l.metrics.CacheLookup(l.name, "error")
		return zero, false, apperr.CacheUnavailable("cache.lookup", err)
	}
	if !ok {
		l.metrics.CacheLookup(l.name, "miss")
		return zero, false, nil
	}
	l.metrics.CacheLookup(l.name, "hit")
	l.local.Store(key, v)
	return v, true, nil
}

// Store writes through both tiers. The memory tier always succeeds.
func (l *Layered[V]) Store(ctx context.Context, key string, value V) error {
	l.local.Store(key, value)
	if l.remote == nil {
		return nil
	}
	if err := l.remote.Set(ctx, key, value, l.local.TTL()); err != nil {
		return apperr.CacheUnavailable("cache.store", err)
	}
	return nil
}
