// Package memcacher is the default in-memory Cacher implementation. No
// third-party cache client (redis, memcache, ristretto, ...) appears
// anywhere in the retrieval pack's dependency graphs, so this is a
// deliberate standard-library implementation rather than a corpus-grounded
// one: a map guarded by a mutex plus lazy expiry, in the same spirit as the
// teacher's own in-memory queue package.
package memcacher

import (
	"context"
	"path"
	"sync"
	"time"
)

type entry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// Cacher is a process-local, TTL-aware cache.
type Cacher struct {
	mu      sync.Mutex
	entries map[string]entry
}

func New() *Cacher {
	return &Cacher{entries: make(map[string]entry)}
}

func (c *Cacher) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		if ok {
			delete(c.entries, key)
		}
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *Cacher) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	c.entries[key] = entry{value: value, expireAt: expireAt}
	return nil
}

func (c *Cacher) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Clean deletes every key matching pattern, using shell-style path.Match
// semantics (e.g. "math.*").
func (c *Cacher) Clean(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if matched, err := path.Match(pattern, key); err == nil && matched {
			delete(c.entries, key)
		}
	}
	return nil
}
