package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/nfse-downloader/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, clock *fakeClock, policy Policy) *Cache {
	t.Helper()
	policies := make(map[Namespace]Policy)
	for _, ns := range Namespaces {
		policies[ns] = policy
	}
	c, err := New(Config{Policies: policies, SweepInterval: time.Hour}, WithClock(clock.Now))
	require.NoError(t, err)
	return c
}

func TestStore_PutThenGet(t *testing.T) {
	c := newTestCache(t, newFakeClock(), Policy{TTL: time.Minute, MaxEntries: 10})

	c.Hashes.Put("a", "fp-a")
	got, ok := c.Hashes.Get("a")
	require.True(t, ok)
	assert.Equal(t, "fp-a", got)

	c.Decisions.Put("k", model.VerdictConflict)
	v, ok := c.Decisions.Get("k")
	require.True(t, ok)
	assert.Equal(t, model.VerdictConflict, v)

	_, ok = c.Hashes.Get("missing")
	assert.False(t, ok)
}

func TestStore_LazyExpiryWithoutSweep(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, Policy{TTL: 10 * time.Second, MaxEntries: 10})

	c.Listings.Put("dir", []string{"a.xml"})

	clock.Advance(9 * time.Second)
	_, ok := c.Listings.Get("dir")
	assert.True(t, ok, "entry younger than TTL must be served")

	clock.Advance(time.Second)
	_, ok = c.Listings.Get("dir")
	assert.False(t, ok, "entry aged exactly TTL must be absent")
	assert.Equal(t, 0, c.Listings.Len(), "stale entry removed on access")
}

func TestStore_CapacityKeepsMostRecent(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, Policy{TTL: time.Hour, MaxEntries: 3})

	for i := 0; i < 10; i++ {
		c.Hashes.Put(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
		assert.LessOrEqual(t, c.Hashes.Len(), 3)
		// Every other insert shares a timestamp with the previous one.
		if i%2 == 1 {
			clock.Advance(time.Millisecond)
		}
	}

	for i := 0; i < 7; i++ {
		_, ok := c.Hashes.Get(fmt.Sprintf("k%d", i))
		assert.False(t, ok, "k%d should have been evicted", i)
	}
	for i := 7; i < 10; i++ {
		got, ok := c.Hashes.Get(fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should survive", i)
		assert.Equal(t, fmt.Sprintf("v%d", i), got)
	}
}

func TestStore_OverwriteRefreshesInsertion(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, Policy{TTL: time.Hour, MaxEntries: 2})

	c.Hashes.Put("a", "1")
	clock.Advance(time.Second)
	c.Hashes.Put("b", "2")
	clock.Advance(time.Second)
	c.Hashes.Put("a", "3") // a is now the newest
	clock.Advance(time.Second)
	c.Hashes.Put("c", "4") // evicts b

	_, ok := c.Hashes.Get("b")
	assert.False(t, ok)
	got, ok := c.Hashes.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "3", got)
}

func TestStore_PutIfAbsent(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, Policy{TTL: time.Minute, MaxEntries: 10})

	got, stored := c.Hashes.PutIfAbsent("p", "first")
	assert.True(t, stored)
	assert.Equal(t, "first", got)

	got, stored = c.Hashes.PutIfAbsent("p", "second")
	assert.False(t, stored)
	assert.Equal(t, "first", got)

	clock.Advance(time.Minute)
	got, stored = c.Hashes.PutIfAbsent("p", "third")
	assert.True(t, stored, "expired entry does not block")
	assert.Equal(t, "third", got)
}

func TestStore_HitCountAndStats(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, Policy{TTL: time.Minute, MaxEntries: 10})

	c.Hashes.Put("a", "1")
	clock.Advance(10 * time.Second)
	c.Hashes.Put("b", "2")
	clock.Advance(10 * time.Second)

	for i := 0; i < 3; i++ {
		_, _ = c.Hashes.Get("a")
	}
	_, _ = c.Hashes.Get("b")
	_, _ = c.Hashes.Get("nope")

	st, ok := c.Stats(NamespaceHash)
	require.True(t, ok)
	assert.Equal(t, 2, st.Size)
	assert.Equal(t, int64(4), st.TotalHits)
	assert.Equal(t, int64(1), st.Misses)
	assert.InDelta(t, 15.0, st.AverageAgeSeconds, 0.001)
	assert.Equal(t, 10, st.MaxEntries)
	assert.Equal(t, 60.0, st.TTLSeconds)

	_, ok = c.Stats("bogus")
	assert.False(t, ok)
}

func TestStore_StatsSkipExpired(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, Policy{TTL: time.Minute, MaxEntries: 10})

	c.Hashes.Put("old", "1")
	_, _ = c.Hashes.Get("old")
	clock.Advance(50 * time.Second)
	c.Hashes.Put("new", "2")
	clock.Advance(20 * time.Second)

	st, ok := c.Stats(NamespaceHash)
	require.True(t, ok)
	assert.Equal(t, 1, st.Size)
	assert.Equal(t, int64(0), st.TotalHits)
	assert.InDelta(t, 20.0, st.AverageAgeSeconds, 0.001)
	assert.Equal(t, 2, c.Hashes.Len(), "stats do not evict")
}

func TestStore_PutIfAbsentIsNotAHit(t *testing.T) {
	clock := newFakeClock()
	reg := prometheus.NewRegistry()
	policies := map[Namespace]Policy{}
	for _, ns := range Namespaces {
		policies[ns] = Policy{TTL: time.Minute, MaxEntries: 10}
	}
	c, err := New(Config{Policies: policies, SweepInterval: time.Hour}, WithClock(clock.Now), WithMetrics(reg))
	require.NoError(t, err)

	_, stored := c.Hashes.PutIfAbsent("p", "first")
	require.True(t, stored)
	_, stored = c.Hashes.PutIfAbsent("p", "second")
	require.False(t, stored)

	st, _ := c.Stats(NamespaceHash)
	assert.Equal(t, int64(0), st.TotalHits)

	m, err := newMetrics(reg)
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.hits.WithLabelValues(string(NamespaceHash))))
}

func TestCache_SweepRemovesExpiredAcrossNamespaces(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, Policy{TTL: 30 * time.Second, MaxEntries: 10})

	c.Listings.Put("old", nil)
	c.Hashes.Put("old", "x")
	clock.Advance(20 * time.Second)
	c.Hashes.Put("fresh", "y")
	clock.Advance(15 * time.Second)

	assert.Equal(t, 2, c.SweepAll())
	assert.Equal(t, 0, c.Listings.Len())
	assert.Equal(t, 1, c.Hashes.Len())

	assert.Equal(t, 0, c.SweepAll(), "second sweep is a no-op")
}

func TestCache_Clear(t *testing.T) {
	c := newTestCache(t, newFakeClock(), Policy{TTL: time.Minute, MaxEntries: 10})

	c.Hashes.Put("a", "1")
	c.Decisions.Put("a", model.VerdictNew)

	require.NoError(t, c.Clear(NamespaceHash))
	assert.Equal(t, 0, c.Hashes.Len())
	assert.Equal(t, 1, c.Decisions.Len())

	assert.Error(t, c.Clear("bogus"))

	c.ClearAll()
	assert.Equal(t, 0, c.Decisions.Len())
}

func TestCache_BackgroundSweep(t *testing.T) {
	c, err := New(Config{
		Policies: map[Namespace]Policy{
			NamespaceHash: {TTL: 20 * time.Millisecond, MaxEntries: 10},
		},
		SweepInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	c.Start(context.Background())
	defer c.Close()

	c.Hashes.Put("a", "1")
	assert.Eventually(t, func() bool {
		return c.Hashes.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCache_CloseWithoutStart(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache(t, newFakeClock(), Policy{TTL: time.Minute, MaxEntries: 50})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", i%80)
				c.Hashes.Put(key, fmt.Sprintf("%d-%d", w, i))
				_, _ = c.Hashes.Get(key)
				_, _ = c.Hashes.PutIfAbsent(key, "x")
				if i%100 == 0 {
					c.SweepAll()
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Hashes.Len(), 50)
}

func TestCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := newFakeClock()
	c, err := New(Config{
		Policies: map[Namespace]Policy{
			NamespaceHash: {TTL: time.Minute, MaxEntries: 1},
		},
	}, WithClock(clock.Now), WithMetrics(reg))
	require.NoError(t, err)

	c.Hashes.Put("a", "1")
	c.Hashes.Put("b", "2")
	_, _ = c.Hashes.Get("b")
	_, _ = c.Hashes.Get("a")

	m, err := newMetrics(reg) // shares the already registered collectors
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits.WithLabelValues(string(NamespaceHash))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.misses.WithLabelValues(string(NamespaceHash))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions.WithLabelValues(string(NamespaceHash), reasonCapacity)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entries.WithLabelValues(string(NamespaceHash))))
}
