package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemoryLimiter(rate, burst)
	m.now = clock.Now
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m, clock
}

func allow(t *testing.T, m Limiter, key string) Decision {
	t.Helper()
	d, err := m.Allow(context.Background(), key)
	require.NoError(t, err)
	return d
}

func TestMemoryLimiter_BurstThenDeny(t *testing.T) {
	m, _ := newLimiter(t, 1, 3)

	for i := range 3 {
		assert.True(t, allow(t, m, "k").Allowed, "request %d is within the burst", i)
	}
	d := allow(t, m, "k")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)
}

func TestMemoryLimiter_Refill(t *testing.T) {
	m, clock := newLimiter(t, 2, 1)

	require.True(t, allow(t, m, "k").Allowed)
	d := allow(t, m, "k")
	require.False(t, d.Allowed)
	assert.Equal(t, 500*time.Millisecond, d.RetryAfter)

	clock.Advance(250 * time.Millisecond)
	d = allow(t, m, "k")
	require.False(t, d.Allowed)
	assert.Equal(t, 250*time.Millisecond, d.RetryAfter)

	clock.Advance(250 * time.Millisecond)
	assert.True(t, allow(t, m, "k").Allowed)
}

func TestMemoryLimiter_TokensCapAtBurst(t *testing.T) {
	m, clock := newLimiter(t, 100, 2)

	allow(t, m, "k")
	clock.Advance(time.Hour)

	assert.True(t, allow(t, m, "k").Allowed)
	assert.True(t, allow(t, m, "k").Allowed)
	assert.False(t, allow(t, m, "k").Allowed, "a long idle period refills only up to the burst")
}

func TestMemoryLimiter_IndependentKeys(t *testing.T) {
	m, _ := newLimiter(t, 1, 1)

	assert.True(t, allow(t, m, "a").Allowed)
	assert.False(t, allow(t, m, "a").Allowed)
	assert.True(t, allow(t, m, "b").Allowed)
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	m, _ := newLimiter(t, 1, 50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				d, err := m.Allow(context.Background(), "shared")
				if err == nil && d.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed, "the frozen clock never refills")
}

func TestMemoryLimiter_EvictStale(t *testing.T) {
	m, clock := newLimiter(t, 1, 1)

	allow(t, m, "old")
	clock.Advance(staleThreshold + time.Second)
	allow(t, m, "fresh")
	m.evictStale()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NotContains(t, m.buckets, "old")
	assert.Contains(t, m.buckets, "fresh")
}

func TestMemoryLimiter_CloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNew(t *testing.T) {
	assert.IsType(t, NoopLimiter{}, New(0, 10))

	l := New(1, 1)
	defer func() { _ = l.Close() }()
	assert.IsType(t, &MemoryLimiter{}, l)

	var noop NoopLimiter
	for range 100 {
		assert.True(t, allow(t, noop, "any").Allowed)
	}
}
