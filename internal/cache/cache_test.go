package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStableAcrossArgOrder(t *testing.T) {
	a := Key("tracker.search", map[string]any{"assignee": "jane", "project": "CORE"})
	b := Key("tracker.search", map[string]any{"project": "CORE", "assignee": "jane"})
	assert.Equal(t, a, b, "map key order must not change the cache key")

	c := Key("tracker.search", map[string]any{"assignee": "jane"})
	assert.NotEqual(t, a, c)
}

func TestKeyIncludesIdentity(t *testing.T) {
	a := Key("tracker.search", "jane")
	b := Key("repohost.commits", "jane")
	assert.NotEqual(t, a, b)
}

func TestGetOrMemoizesWithinTTL(t *testing.T) {
	c := New(0)
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })

	calls := 0
	compute := func() (string, error) {
		calls++
		return "result", nil
	}

	key := Key("spy", 1)

	v1, err := GetOr(c, key, time.Minute, compute)
	require.NoError(t, err)
	v2, err := GetOr(c, key, time.Minute, compute)
	require.NoError(t, err)

	assert.Equal(t, "result", v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls, "second call within TTL must not recompute")

	// Past expiry the third call recomputes.
	now = now.Add(2 * time.Minute)
	_, err = GetOr(c, key, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExpiredReadIsMiss(t *testing.T) {
	c := New(0)
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("k", "v", time.Second)
	_, ok := c.Get("k")
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "read past expiry must be a miss")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestNoTTLEntrySurvives(t *testing.T) {
	c := New(0)
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("forever", 42, NoTTL)
	now = now.Add(1000 * time.Hour)
	v, ok := c.Get("forever")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestFIFOEviction(t *testing.T) {
	c := New(2)
	c.Set("a", 1, NoTTL)
	c.Set("b", 2, NoTTL)
	c.Set("c", 3, NoTTL) // evicts "a", the oldest insert

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := New(2)
	c.Set("a", 1, NoTTL)
	c.Set("b", 2, NoTTL)
	c.Set("a", 10, NoTTL)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestEvictExpired(t *testing.T) {
	c := New(0)
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	c.Set("never", 3, NoTTL)

	now = now.Add(time.Minute)
	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 2, c.Stats().Size)
}

func TestComputeErrorNotCached(t *testing.T) {
	c := New(0)
	calls := 0
	_, err := GetOr(c, "k", time.Minute, func() (int, error) {
		calls++
		return 0, assert.AnError
	})
	require.Error(t, err)

	v, err := GetOr(c, "k", time.Minute, func() (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)
}
