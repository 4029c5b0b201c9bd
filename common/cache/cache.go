// Package cache provides the in-process L1 layer in front of
// internal/resource.CachedFetcher's Redis-backed L2: a resource byte blob
// fetched by this process in the last TTL window is served straight out of
// memory, skipping both the network round trip to the underlying fetcher
// and the round trip to Redis.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/lyzr/wasmrun/common/logger"
)

// Cache is a byte-value store keyed by string, with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// sweepInterval is how often expired entries are purged from a MemoryCache.
const sweepInterval = 1 * time.Minute

// MemoryCache is a process-local, TTL-expiring Cache. It never talks to the
// network, so it's cheap to check before falling through to Redis.
type MemoryCache struct {
	entries map[string]cacheEntry
	mu      sync.RWMutex
	log     *logger.Logger
	done    chan struct{}
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a MemoryCache and starts its background sweeper.
func NewMemoryCache(log *logger.Logger) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]cacheEntry),
		log:     log,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the cached value for key, or ok=false on a miss or an expired
// entry.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[key]
	if !found || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key with the given TTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes key, if present.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Close stops the background sweeper and drops all entries.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()

	close(c.done)
	c.log.Info("memory cache closed")
	return nil
}

// Len reports the current entry count, expired or not. Nothing in this
// repository calls it yet; the fetch path never does.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}
