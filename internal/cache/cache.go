// Package cache provides a process-local keyed result cache with per-entry
// TTL and a FIFO size bound. It memoizes expensive read-only fetches from
// the external trackers; it is an accelerator, never a source of correctness.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// NoTTL marks an entry that never expires on its own; only size pressure
// can evict it.
const NoTTL time.Duration = 0

// Stats holds hit/miss/eviction counters. Counters are observability only
// and never influence cache behavior.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time // zero when the entry has no TTL
	seq       uint64
}

// Cache is a thread-safe keyed store. Keys are built from an explicit,
// versioned schema (see Key) so collisions and misses are auditable.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxSize int
	seq     uint64
	now     func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache. maxSize <= 0 means unbounded.
func New(maxSize int) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Key builds a stable cache key from a call identity and its arguments.
// Arguments are canonicalized through JSON with sorted map keys, so
// semantically identical calls collapse to one entry regardless of
// call-site. The schema version is part of the key; bumping it invalidates
// every existing entry.
func Key(identity string, args ...any) string {
	canonical := make([]string, 0, len(args))
	for _, a := range args {
		canonical = append(canonical, canonicalJSON(a))
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%v", identity, canonical)))
	return identity + "|v1|" + hex.EncodeToString(h[:])
}

func canonicalJSON(v any) string {
	switch m := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%q:%s", k, canonicalJSON(m[k])))
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%#v", v)
		}
		return string(b)
	}
}

// Get returns the cached value for key. A read past expiry is a miss; the
// expired entry is dropped before hit/miss accounting.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key with the given TTL. NoTTL means the entry only
// leaves under size pressure. Eviction is FIFO by creation order and happens
// lazily before insert.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 {
		// Room check excludes an existing entry being overwritten.
		_, replacing := c.entries[key]
		for !replacing && len(c.entries) >= c.maxSize {
			c.evictOldestLocked()
		}
	}

	c.seq++
	e := &entry{
		value:     value,
		createdAt: c.now(),
		seq:       c.seq,
	}
	if ttl > 0 {
		e.expiresAt = e.createdAt.Add(ttl)
	}
	c.entries[key] = e
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestSeq uint64
	first := true
	for k, e := range c.entries {
		if first || e.seq < oldestSeq {
			oldestKey, oldestSeq = k, e.seq
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// EvictExpired removes all expired entries and reports how many went.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	c.evictions += int64(removed)
	return removed
}

// Clear drops every entry and resets counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

// SetClock overrides the time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// GetOr returns the cached value for key, or computes, stores, and returns
// it. Errors from compute are returned without caching so a transient
// failure never poisons the cache.
func GetOr[T any](c *Cache, key string, ttl time.Duration, compute func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	c.Set(key, v, ttl)
	return v, nil
}
