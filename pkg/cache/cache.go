// Package cache is a TTL-bounded, background-refreshing store for node query
// results. Values are opaque JSON blobs; re-fetching goes through the Fetcher
// the cache was constructed with.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/comx-labs/comx-client/pkg/metrics"
	"github.com/rs/zerolog/log"
)

// Fetcher executes a query against the node. The cache never inspects the
// returned blob.
type Fetcher func(ctx context.Context, q Query) (json.RawMessage, error)

type Config struct {
	TTL             time.Duration
	RefreshInterval time.Duration
	MaxEntries      int
}

func DefaultConfig() Config {
	return Config{
		TTL:             600 * time.Second,
		RefreshInterval: 300 * time.Second,
		MaxEntries:      1000,
	}
}

type entry struct {
	query          Query
	value          json.RawMessage
	insertedAt     time.Time
	refreshedAt    time.Time
	fetchStartedAt time.Time
}

// Metrics is a point-in-time snapshot of the cache counters. Counters are
// monotonic for the cache's lifetime and reset only on reconstruction.
type Metrics struct {
	Hits            uint64 `json:"hits"`
	Misses          uint64 `json:"misses"`
	RefreshFailures uint64 `json:"refreshFailures"`
	Entries         int    `json:"entries"`
}

type QueryCache struct {
	cfg   Config
	fetch Fetcher

	mu      sync.RWMutex
	entries map[string]*entry

	hits            atomic.Uint64
	misses          atomic.Uint64
	refreshFailures atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds the cache and starts its refresh worker. Zero config fields fall
// back to the documented defaults. The worker is owned by the cache: it runs
// until Close.
func New(cfg Config, fetch Fetcher) *QueryCache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.RefreshInterval > cfg.TTL {
		log.Warn().
			Dur("refresh_interval", cfg.RefreshInterval).
			Dur("ttl", cfg.TTL).
			Msg("Refresh interval exceeds TTL, entries will expire between refresh cycles")
	}

	c := &QueryCache{
		cfg:     cfg,
		fetch:   fetch,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.refreshLoop()
	return c
}

// Close stops the refresh worker and waits for it to exit.
func (c *QueryCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

// Get serves a fresh entry from memory, otherwise fetches synchronously and
// publishes the result. Fetch errors propagate unchanged; the cache adds no
// error kind of its own.
func (c *QueryCache) Get(ctx context.Context, q Query) (json.RawMessage, error) {
	key, err := q.Key()
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	var value json.RawMessage
	fresh := ok && time.Since(e.insertedAt) < c.cfg.TTL
	if fresh {
		value = e.value
	}
	c.mu.RUnlock()

	if fresh {
		c.hits.Add(1)
		metrics.RecordCacheHit()
		return value, nil
	}

	c.misses.Add(1)
	metrics.RecordCacheMiss()

	// Network round trip happens outside any lock.
	started := time.Now()
	result, err := c.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	c.publish(key, q, result, started, true)
	return result, nil
}

// Set primes or overwrites an entry without going through the fetcher.
func (c *QueryCache) Set(q Query, value json.RawMessage) error {
	key, err := q.Key()
	if err != nil {
		return err
	}
	c.publish(key, q, value, time.Now(), true)
	return nil
}

// Invalidate removes an entry unconditionally.
func (c *QueryCache) Invalidate(q Query) error {
	key, err := q.Key()
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.entries, key)
	n := len(c.entries)
	c.mu.Unlock()

	metrics.SetCacheEntries(n)
	return nil
}

func (c *QueryCache) Metrics() Metrics {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	return Metrics{
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		RefreshFailures: c.refreshFailures.Load(),
		Entries:         n,
	}
}

// publish installs a fetched value under a short exclusive section. A fetch
// that started strictly before the one that produced the current entry is
// dropped, so a latency-reordered response never replaces newer data. With
// admitNew false the write only lands if the key is still tracked, which
// keeps the refresh worker from resurrecting invalidated or evicted keys.
func (c *QueryCache) publish(key string, q Query, value json.RawMessage, fetchStarted time.Time, admitNew bool) {
	now := time.Now()

	c.mu.Lock()
	existing, ok := c.entries[key]
	if !ok && !admitNew {
		c.mu.Unlock()
		return
	}
	if ok && fetchStarted.Before(existing.fetchStartedAt) {
		c.mu.Unlock()
		return
	}

	c.entries[key] = &entry{
		query:          q,
		value:          value,
		insertedAt:     now,
		refreshedAt:    now,
		fetchStartedAt: fetchStarted,
	}
	c.evictLocked()
	n := len(c.entries)
	c.mu.Unlock()

	metrics.SetCacheEntries(n)
}

// evictLocked enforces MaxEntries by removing the least-recently-refreshed
// entry; ties break on the smallest key so eviction is deterministic.
// Caller holds the write lock.
func (c *QueryCache) evictLocked() {
	for len(c.entries) > c.cfg.MaxEntries {
		var victim string
		var oldest time.Time
		for key, e := range c.entries {
			if victim == "" ||
				e.refreshedAt.Before(oldest) ||
				(e.refreshedAt.Equal(oldest) && key < victim) {
				victim = key
				oldest = e.refreshedAt
			}
		}
		delete(c.entries, victim)
		log.Debug().Str("key", victim).Msg("Evicted cache entry")
	}
}

func (c *QueryCache) refreshLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.refreshAll()
		}
	}
}

// refreshAll re-executes every tracked query. Failures are counted and
// logged, never surfaced to callers, and never evict the existing value.
func (c *QueryCache) refreshAll() {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	queries := make([]Query, 0, len(c.entries))
	for key, e := range c.entries {
		keys = append(keys, key)
		queries = append(queries, e.query)
	}
	c.mu.RUnlock()

	for i, key := range keys {
		select {
		case <-c.stop:
			return
		default:
		}

		started := time.Now()
		value, err := c.fetch(context.Background(), queries[i])
		if err != nil {
			c.refreshFailures.Add(1)
			metrics.RecordRefreshFailure()
			log.Warn().Err(err).Str("key", key).Msg("Background refresh failed")
			continue
		}
		c.publish(key, queries[i], value, started, false)
	}
}
