// Package cache implements the process-local TTL cache (C2): hot reads for
// policies, sessions, and component configs sit in front of the relational
// store so the common path never touches disk.
//
// Grounded on internal/adapter/outbound/memory.MemoryRateLimiter's
// sweep-goroutine-over-a-mutex-guarded-map pattern, generalized from a
// fixed-TTL rate-limit cell to an arbitrary-value, arbitrary-TTL cache with
// glob-pattern enumeration.
package cache

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"time"
)

// DefaultTTL is used by Put when the caller does not specify one.
const DefaultTTL = 60 * time.Second

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a process-wide key-value map with per-entry expiry and a
// background sweep. The zero value is not usable; construct with New.
type Cache struct {
	mu            sync.RWMutex
	entries       map[string]entry
	sweepInterval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New creates a Cache whose sweeper, once started via StartSweeper, removes
// expired entries every sweepInterval.
func New(sweepInterval time.Duration) *Cache {
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	return &Cache{
		entries:       make(map[string]entry),
		sweepInterval: sweepInterval,
		stopChan:      make(chan struct{}),
	}
}

// Get returns the value stored at key and whether it was a live hit. A hit
// on an expired entry purges it on read and reports a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Put stores value at key with DefaultTTL. Concurrent writers to the same
// key race on last-writer-wins, which is acceptable because cached values
// are always reads-from-of-record against the relational store.
func (c *Cache) Put(key string, value any) {
	c.PutTTL(key, value, DefaultTTL)
}

// PutTTL stores value at key with a caller-specified TTL.
func (c *Cache) PutTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Match enumerates live (non-expired) entries whose key matches the given
// shell glob pattern (path.Match syntax, e.g. "policy:*").
func (c *Cache) Match(pattern string) map[string]any {
	now := time.Now()
	out := make(map[string]any)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			continue
		}
		if ok, err := path.Match(pattern, k); err == nil && ok {
			out[k] = e.value
		}
	}
	return out
}

// DeleteMatch removes every entry whose key matches pattern and returns the
// number of entries removed.
func (c *Cache) DeleteMatch(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if ok, err := path.Match(pattern, k); err == nil && ok {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Invalidate removes a single key, used after a policy/config/session write
// to force the next read to go through to the relational store.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// StartSweeper starts the background sweep goroutine. It removes every
// entry whose expires_at is in the past every sweepInterval, until ctx is
// cancelled or Stop is called.
func (c *Cache) StartSweeper(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	swept := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			swept++
		}
	}
	if swept > 0 {
		slog.Debug("cache sweep completed", "swept_entries", swept, "remaining_entries", len(c.entries))
	}
}

// Stop gracefully stops the sweep goroutine and waits for it to exit. Safe
// to call multiple times.
func (c *Cache) Stop() {
	c.once.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}

// Len returns the current number of tracked entries, including any not yet
// swept past their expiry. Useful for testing and monitoring.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
