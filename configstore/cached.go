package configstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsafe/riskreactor/telemetry"
)

const defaultCacheSweep = time.Minute

// cacheEntry remembers one resolved row, including resolved absence so
// a missing default row does not hit the store on every load.
type cacheEntry struct {
	value     string
	present   bool
	expiresAt time.Time
}

func (e cacheEntry) expired() bool { return time.Now().After(e.expiresAt) }

// Cached wraps a Store with a TTL read cache keyed by tenant and name.
// Writes go straight through and invalidate; a default-row write drops
// the name for every tenant since every fallback may have changed.
type Cached struct {
	store   Store
	ttl     time.Duration
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	entries map[uuid.UUID]map[string]cacheEntry

	shutdown chan struct{}
	closed   sync.Once
}

// CachedOption adjusts cache construction.
type CachedOption func(*Cached)

// WithCacheTelemetry attaches hit and miss counters.
func WithCacheTelemetry(m *telemetry.Metrics) CachedOption {
	return func(c *Cached) { c.metrics = m }
}

// NewCached wraps store. Entries live for ttl; an expired sweep runs on
// a fixed interval until Close.
func NewCached(store Store, ttl time.Duration, opts ...CachedOption) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	c := &Cached{
		store:    store,
		ttl:      ttl,
		entries:  make(map[uuid.UUID]map[string]cacheEntry),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweep()
	return c
}

var _ Store = (*Cached)(nil)

// LoadRaw serves what it can from the cache and fetches the rest in one
// store round-trip. Absent names are cached as absent for the TTL.
func (c *Cached) LoadRaw(ctx context.Context, tenant uuid.UUID, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	var missing []string

	c.mu.RLock()
	byName := c.entries[tenant]
	for _, name := range names {
		entry, ok := byName[name]
		if !ok || entry.expired() {
			missing = append(missing, name)
			continue
		}
		if entry.present {
			out[name] = entry.value
		}
	}
	c.mu.RUnlock()

	if c.metrics != nil {
		c.metrics.ConfigCacheHits.Add(float64(len(names) - len(missing)))
		c.metrics.ConfigCacheMisses.Add(float64(len(missing)))
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.store.LoadRaw(ctx, tenant, missing)
	if err != nil {
		return nil, err
	}

	expires := time.Now().Add(c.ttl)
	c.mu.Lock()
	byName = c.entries[tenant]
	if byName == nil {
		byName = make(map[string]cacheEntry)
		c.entries[tenant] = byName
	}
	for _, name := range missing {
		value, present := fetched[name]
		byName[name] = cacheEntry{value: value, present: present, expiresAt: expires}
		if present {
			out[name] = value
		}
	}
	c.mu.Unlock()
	return out, nil
}

// StoreRaw writes through and invalidates the affected entries.
func (c *Cached) StoreRaw(ctx context.Context, tenant *uuid.UUID, name, value string) error {
	if err := c.store.StoreRaw(ctx, tenant, name, value); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if tenant != nil {
		delete(c.entries[*tenant], name)
		return nil
	}
	for _, byName := range c.entries {
		delete(byName, name)
	}
	return nil
}

// Invalidate drops every cached row for a tenant.
func (c *Cached) Invalidate(tenant uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, tenant)
	c.mu.Unlock()
}

// Close stops the background sweep.
func (c *Cached) Close() {
	c.closed.Do(func() { close(c.shutdown) })
}

func (c *Cached) sweep() {
	ticker := time.NewTicker(defaultCacheSweep)
	defer ticker.Stop()
	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.mu.Lock()
			for tenant, byName := range c.entries {
				for name, entry := range byName {
					if entry.expired() {
						delete(byName, name)
					}
				}
				if len(byName) == 0 {
					delete(c.entries, tenant)
				}
			}
			c.mu.Unlock()
		}
	}
}
