package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webextract/internal/pkg/apperr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestStoreThenLookup(t *testing.T) {
	clock := newClock()
	c := New[string](time.Minute, 10).WithClock(clock.Now)

	c.Store("k", "v")
	got, ok := c.Lookup("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	_, ok = c.Lookup("missing")
	assert.False(t, ok)
}

func TestLookupAfterExpiryIsMissAndRemoves(t *testing.T) {
	clock := newClock()
	c := New[string](time.Minute, 10).WithClock(clock.Now)

	c.Store("k", "v")
	clock.Advance(59 * time.Second)
	_, ok := c.Lookup("k")
	assert.True(t, ok, "entry should be live before TTL")

	clock.Advance(2 * time.Second)
	_, ok = c.Lookup("k")
	assert.False(t, ok, "entry should be expired after TTL")
	assert.Equal(t, 0, c.Len())
}

func TestStoreOverwrites(t *testing.T) {
	clock := newClock()
	c := New[int](time.Minute, 10).WithClock(clock.Now)

	c.Store("k", 1)
	clock.Advance(50 * time.Second)
	c.Store("k", 2)
	clock.Advance(50 * time.Second)

	got, ok := c.Lookup("k")
	assert.True(t, ok, "overwrite should refresh expiry")
	assert.Equal(t, 2, got)
	assert.Equal(t, 1, c.Len())
}

func TestEvictsOldestInserted(t *testing.T) {
	c := New[int](time.Hour, 3)
	c.Store("a", 1)
	c.Store("b", 2)
	c.Store("c", 3)

	// Reading does not refresh insertion order.
	_, _ = c.Lookup("a")
	c.Store("d", 4)

	_, ok := c.Lookup("a")
	assert.False(t, ok, "oldest insertion should be evicted")
	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Lookup(k)
		assert.True(t, ok, "key %s should remain", k)
	}
	assert.Equal(t, 3, c.Len())
}

func TestOverwriteMovesKeyToBackOfOrder(t *testing.T) {
	c := New[int](time.Hour, 2)
	c.Store("a", 1)
	c.Store("b", 2)
	c.Store("a", 10)
	c.Store("c", 3)

	_, ok := c.Lookup("b")
	assert.False(t, ok, "b is now the oldest insertion")
	v, ok := c.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestCapacityHoldsUnderChurn(t *testing.T) {
	c := New[int](time.Hour, 5)
	for i := 0; i < 1000; i++ {
		c.Store(fmt.Sprintf("k%d", i%7), i)
		assert.LessOrEqual(t, c.Len(), 5)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](time.Hour, 100)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", (g*500+i)%150)
				c.Store(key, i)
				c.Lookup(key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 100)
}

type stubBackend struct {
	mu      sync.Mutex
	data    map[string]string
	getErr  error
	setErr  error
	setKeys []string
}

func (s *stubBackend) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *stubBackend) Set(_ context.Context, key string, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.setKeys = append(s.setKeys, key)
	s.data[key] = value
	return nil
}

func TestLayeredPromotesRemoteHit(t *testing.T) {
	remote := &stubBackend{data: map[string]string{"k": "remote"}}
	local := New[string](time.Minute, 10)
	l := NewLayered[string]("scrape", local, remote, zerolog.Nop(), nil)

	v, ok, err := l.Lookup(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "remote", v)

	v, ok = local.Lookup("k")
	assert.True(t, ok, "remote hit should be promoted")
	assert.Equal(t, "remote", v)
}

func TestLayeredRemoteFailureIsCacheUnavailable(t *testing.T) {
	remote := &stubBackend{data: map[string]string{}, getErr: errors.New("connection refused"), setErr: errors.New("connection refused")}
	l := NewLayered[string]("scrape", New[string](time.Minute, 10), remote, zerolog.Nop(), nil)

	_, ok, err := l.Lookup(context.Background(), "k")
	assert.False(t, ok)
	assert.ErrorIs(t, err, apperr.ErrCacheUnavailable)

	err = l.Store(context.Background(), "k", "v")
	assert.ErrorIs(t, err, apperr.ErrCacheUnavailable)

	remote.getErr = nil
	v, ok, err := l.Lookup(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok, "memory tier keeps the value when remote store fails")
	assert.Equal(t, "v", v)
}

func TestLayeredWithoutRemote(t *testing.T) {
	l := NewLayered[string]("search", New[string](time.Minute, 10), nil, zerolog.Nop(), nil)
	_, ok, err := l.Lookup(context.Background(), "k")
	assert.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, l.Store(context.Background(), "k", "v"))
	v, ok, _ := l.Lookup(context.Background(), "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestRedisBackendUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	backend := NewRedisBackend[string](client, "test:")
	l := NewLayered[string]("scrape", New[string](time.Minute, 10), backend, zerolog.Nop(), nil)

	_, ok, err := l.Lookup(context.Background(), "k")
	assert.False(t, ok)
	assert.ErrorIs(t, err, apperr.ErrCacheUnavailable)
}

func TestDialRedisRejectsBadURL(t *testing.T) {
	_, err := DialRedis("not-a-url://")
	assert.Error(t, err)
}
