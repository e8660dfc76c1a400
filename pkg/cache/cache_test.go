package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticFetcher(value string) Fetcher {
	return func(ctx context.Context, q Query) (json.RawMessage, error) {
		return json.RawMessage(value), nil
	}
}

func countingFetcher(value string, calls *atomic.Int64) Fetcher {
	return func(ctx context.Context, q Query) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(value), nil
	}
}

func balanceQuery(address string) Query {
	return Query{Method: "query_balance", Params: map[string]string{"address": address}}
}

func TestCache_SetAndGet(t *testing.T) {
	c := New(Config{TTL: time.Minute, RefreshInterval: 300 * time.Second, MaxEntries: 1000}, staticFetcher(`"unused"`))
	defer c.Close()

	q := balanceQuery("cmx1abc")
	require.NoError(t, c.Set(q, json.RawMessage(`"cached"`)))

	value, err := c.Get(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, `"cached"`, string(value))
}

func TestCache_FreshHitDoesNotFetch(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{TTL: time.Minute, RefreshInterval: 300 * time.Second, MaxEntries: 1000}, countingFetcher(`"fetched"`, &calls))
	defer c.Close()

	q := balanceQuery("cmx1abc")
	require.NoError(t, c.Set(q, json.RawMessage(`"primed"`)))

	for i := 0; i < 5; i++ {
		value, err := c.Get(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, `"primed"`, string(value))
	}

	assert.Equal(t, int64(0), calls.Load())
	assert.Equal(t, uint64(5), c.Metrics().Hits)
}

func TestCache_MissFetchesExactlyOnce(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{TTL: time.Minute, RefreshInterval: 300 * time.Second, MaxEntries: 1000}, countingFetcher(`"fetched"`, &calls))
	defer c.Close()

	q := balanceQuery("cmx1abc")
	value, err := c.Get(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, `"fetched"`, string(value))
	assert.Equal(t, int64(1), calls.Load())

	m := c.Metrics()
	assert.Equal(t, uint64(1), m.Misses)
	assert.Equal(t, uint64(0), m.Hits)

	// Entry is now fresh: next read is a hit without another fetch.
	_, err = c.Get(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, uint64(1), c.Metrics().Hits)
}

func TestCache_TTLExpiryTriggersRefetch(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{TTL: 50 * time.Millisecond, RefreshInterval: 300 * time.Second, MaxEntries: 1000}, countingFetcher(`"fetched"`, &calls))
	defer c.Close()

	q := balanceQuery("cmx1abc")
	require.NoError(t, c.Set(q, json.RawMessage(`"old"`)))

	time.Sleep(80 * time.Millisecond)

	value, err := c.Get(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, `"fetched"`, string(value), "stale entries are refetched, not served")
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, uint64(1), c.Metrics().Misses)
}

func TestCache_FetchErrorPropagates(t *testing.T) {
	fetchErr := errors.New("node unreachable")
	c := New(Config{TTL: time.Minute, RefreshInterval: 300 * time.Second, MaxEntries: 1000}, func(ctx context.Context, q Query) (json.RawMessage, error) {
		return nil, fetchErr
	})
	defer c.Close()

	_, err := c.Get(context.Background(), balanceQuery("cmx1abc"))
	assert.ErrorIs(t, err, fetchErr, "the cache adds no error kind of its own")
}

func TestCache_EvictionBound(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{TTL: 60 * time.Second, RefreshInterval: 300 * time.Second, MaxEntries: 2}, countingFetcher(`"refetched"`, &calls))
	defer c.Close()

	require.NoError(t, c.Set(Query{Method: "a"}, json.RawMessage(`"1"`)))
	require.NoError(t, c.Set(Query{Method: "b"}, json.RawMessage(`"2"`)))
	require.NoError(t, c.Set(Query{Method: "c"}, json.RawMessage(`"3"`)))

	m := c.Metrics()
	assert.Equal(t, 2, m.Entries, "key count never exceeds max_entries")

	// "a" was the least recently refreshed and must be the evicted one.
	value, err := c.Get(context.Background(), Query{Method: "a"})
	require.NoError(t, err)
	assert.Equal(t, `"refetched"`, string(value))
	assert.Equal(t, int64(1), calls.Load(), "get(a) after eviction is a miss that refetches")

	// "b" and "c" survived. "a"'s re-admission evicted the next oldest, "b".
	assert.Equal(t, 2, c.Metrics().Entries)
}

func TestCache_EvictionIsDeterministicOneAtATime(t *testing.T) {
	c := New(Config{TTL: time.Minute, RefreshInterval: 300 * time.Second, MaxEntries: 3}, staticFetcher(`"x"`))
	defer c.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(Query{Method: fmt.Sprintf("key_%d", i)}, json.RawMessage(`"v"`)))
		assert.LessOrEqual(t, c.Metrics().Entries, 3)
	}

	// The most recent inserts survive.
	c.mu.RLock()
	_, has9 := c.entries["key_9:"]
	_, has0 := c.entries["key_0:"]
	c.mu.RUnlock()
	assert.True(t, has9)
	assert.False(t, has0)
}

func TestCache_Invalidate(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{TTL: time.Minute, RefreshInterval: 300 * time.Second, MaxEntries: 1000}, countingFetcher(`"fetched"`, &calls))
	defer c.Close()

	q := balanceQuery("cmx1abc")
	require.NoError(t, c.Set(q, json.RawMessage(`"cached"`)))
	require.NoError(t, c.Invalidate(q))

	assert.Equal(t, 0, c.Metrics().Entries)

	_, err := c.Get(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestCache_BackgroundRefreshOverwrites(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{TTL: time.Minute, RefreshInterval: 50 * time.Millisecond, MaxEntries: 1000}, countingFetcher(`"refreshed"`, &calls))
	defer c.Close()

	q := balanceQuery("cmx1abc")
	require.NoError(t, c.Set(q, json.RawMessage(`"initial"`)))

	require.Eventually(t, func() bool {
		value, err := c.Get(context.Background(), q)
		return err == nil && string(value) == `"refreshed"`
	}, 2*time.Second, 20*time.Millisecond, "worker should overwrite the entry")

	assert.Equal(t, uint64(0), c.Metrics().RefreshFailures)
}

func TestCache_RefreshFailureKeepsStaleValue(t *testing.T) {
	c := New(Config{TTL: time.Minute, RefreshInterval: 50 * time.Millisecond, MaxEntries: 1000}, func(ctx context.Context, q Query) (json.RawMessage, error) {
		return nil, errors.New("node down")
	})
	defer c.Close()

	q := balanceQuery("cmx1abc")
	require.NoError(t, c.Set(q, json.RawMessage(`"last-good"`)))

	require.Eventually(t, func() bool {
		return c.Metrics().RefreshFailures >= 1
	}, 2*time.Second, 20*time.Millisecond)

	// The failure was swallowed into metrics; the value is still served.
	value, err := c.Get(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, `"last-good"`, string(value))
	assert.Equal(t, 1, c.Metrics().Entries)
}

func TestCache_RefreshDoesNotResurrectInvalidatedKeys(t *testing.T) {
	c := New(Config{TTL: time.Minute, RefreshInterval: 30 * time.Millisecond, MaxEntries: 1000}, staticFetcher(`"refreshed"`))
	defer c.Close()

	q := balanceQuery("cmx1abc")
	require.NoError(t, c.Set(q, json.RawMessage(`"cached"`)))
	require.NoError(t, c.Invalidate(q))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, c.Metrics().Entries)
}

func TestCache_StaleFetchDoesNotClobberNewerEntry(t *testing.T) {
	c := New(Config{TTL: time.Minute, RefreshInterval: 300 * time.Second, MaxEntries: 1000}, staticFetcher(`"x"`))
	defer c.Close()

	q := balanceQuery("cmx1abc")
	key, err := q.Key()
	require.NoError(t, err)

	now := time.Now()
	c.publish(key, q, json.RawMessage(`"newer"`), now, true)
	// A fetch that started earlier finishes later; it must lose.
	c.publish(key, q, json.RawMessage(`"older"`), now.Add(-time.Second), true)

	value, err := c.Get(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, `"newer"`, string(value))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{TTL: time.Minute, RefreshInterval: 50 * time.Millisecond, MaxEntries: 64}, countingFetcher(`"v"`, &calls))
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q := Query{Method: fmt.Sprintf("m_%d", (n+j)%16)}
				_, err := c.Get(context.Background(), q)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	m := c.Metrics()
	assert.Equal(t, uint64(400), m.Hits+m.Misses)
	assert.LessOrEqual(t, m.Entries, 64)
}

func TestCache_CloseStopsWorker(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{TTL: time.Minute, RefreshInterval: 20 * time.Millisecond, MaxEntries: 10}, countingFetcher(`"v"`, &calls))

	require.NoError(t, c.Set(Query{Method: "a"}, json.RawMessage(`"v"`)))
	c.Close()

	quiesced := calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, quiesced, calls.Load(), "no refreshes after Close")

	// Close is idempotent.
	c.Close()
}

func TestCache_ZeroConfigUsesDefaults(t *testing.T) {
	c := New(Config{}, staticFetcher(`"v"`))
	defer c.Close()

	assert.Equal(t, 600*time.Second, c.cfg.TTL)
	assert.Equal(t, 300*time.Second, c.cfg.RefreshInterval)
	assert.Equal(t, 1000, c.cfg.MaxEntries)
}
