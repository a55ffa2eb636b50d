// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package entry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

const defaultStalenessThreshold = 30 * time.Second

// Notification is one signal from a Listener. A zero Notification is a
// heartbeat.
type Notification struct {
	// EntryID is the entry that changed.
	EntryID string
	// Reset asks the cache to drop everything, e.g. after a reconnect that
	// may have missed notifications.
	Reset bool
}

// Listener abstracts PostgreSQL LISTEN/NOTIFY for testability. The returned
// channel closes when the listener stops.
type Listener interface {
	Listen(ctx context.Context) (<-chan Notification, error)
}

// CacheOption configures a CachedStore.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	stalenessThreshold time.Duration
}

// WithStalenessThreshold sets how long the cache trusts its contents without
// hearing from the listener.
func WithStalenessThreshold(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.stalenessThreshold = d
	}
}

// CachedStore is a read-through cache of entries in front of a Store.
// Entries are evicted when their id is notified. Until a listener is
// attached, or once it goes quiet past the staleness threshold, reads go
// straight to the backing store.
type CachedStore struct {
	Store
	cfg cacheConfig

	mu      sync.RWMutex
	entries map[string]*Entry
	// gen advances on every eviction so a load that raced one is not cached.
	gen uint64

	// lastSignal is the Unix time in nanoseconds the listener last proved alive.
	lastSignal atomic.Int64

	wg sync.WaitGroup
}

// NewCachedStore wraps s.
func NewCachedStore(s Store, opts ...CacheOption) *CachedStore {
	cfg := cacheConfig{stalenessThreshold: defaultStalenessThreshold}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CachedStore{
		Store:   s,
		cfg:     cfg,
		entries: make(map[string]*Entry),
	}
}

// Get returns the cached entry or loads it from the backing store.
func (c *CachedStore) Get(ctx context.Context, id string) (*Entry, error) {
	if c.IsStale() {
		cacheLookups.WithLabelValues("bypass").Inc()
		return c.Store.Get(ctx, id)
	}

	c.mu.RLock()
	e, ok := c.entries[id]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return e.Clone(), nil
	}

	cacheLookups.WithLabelValues("miss").Inc()
	e, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.gen == gen {
		c.entries[id] = e.Clone()
	}
	c.mu.Unlock()
	return e, nil
}

// Update writes through and evicts the entry.
func (c *CachedStore) Update(ctx context.Context, e *Entry) error {
	err := c.Store.Update(ctx, e)
	c.Invalidate(e.ID)
	return err
}

// SoftDelete writes through and evicts the entry.
func (c *CachedStore) SoftDelete(ctx context.Context, p DeleteParams) error {
	err := c.Store.SoftDelete(ctx, p)
	c.Invalidate(p.ID)
	return err
}

// Invalidate evicts a single entry.
func (c *CachedStore) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.gen++
	c.mu.Unlock()
}

// Flush evicts every entry.
func (c *CachedStore) Flush() {
	c.mu.Lock()
	clear(c.entries)
	c.gen++
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *CachedStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IsStale reports whether the listener has been silent past the threshold.
func (c *CachedStore) IsStale() bool {
	last := c.lastSignal.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) > c.cfg.stalenessThreshold
}

// Touch marks the listener as alive without evicting anything.
func (c *CachedStore) Touch() {
	c.lastSignal.Store(time.Now().UnixNano())
}

// StartWithListener consumes notifications until ctx is cancelled or the
// listener channel closes. The cache is flushed on start so nothing loaded
// before the subscription can survive a missed notification.
func (c *CachedStore) StartWithListener(ctx context.Context, l Listener) error {
	ch, err := l.Listen(ctx)
	if err != nil {
		return oops.Code("CACHE_LISTEN_FAILED").Wrap(err)
	}
	c.Flush()
	c.Touch()

	c.wg.Add(1)
	go c.listenLoop(ctx, ch)
	return nil
}

// Wait blocks until the listener goroutine has exited.
func (c *CachedStore) Wait() {
	c.wg.Wait()
}

func (c *CachedStore) listenLoop(ctx context.Context, ch <-chan Notification) {
	defer c.wg.Done()
	defer c.lastSignal.Store(0)

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				slog.Warn("entry cache listener closed, bypassing cache")
				return
			}
			switch {
			case n.Reset:
				c.Flush()
				cacheInvalidations.Inc()
			case n.EntryID != "":
				c.Invalidate(n.EntryID)
				cacheInvalidations.Inc()
			}
			c.Touch()
		}
	}
}

var (
	// cacheLookups counts cached reads by outcome.
	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crewkeeper_access_entry_cache_lookups_total",
		Help: "Total number of entry cache lookups by outcome",
	}, []string{"outcome"})

	cacheInvalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crewkeeper_access_entry_cache_invalidations_total",
		Help: "Total number of entry cache invalidations received from the listener",
	})
)
