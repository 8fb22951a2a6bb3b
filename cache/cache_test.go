package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	c, err := New[string, []string](nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, 30*time.Second, c.TTL())

	t.Run("读写与删除", func(t *testing.T) {
		_, ok := c.Get("api")
		assert.False(t, ok)

		c.Set("api", []string{"10.0.0.1:8080"})
		v, ok := c.Get("api")
		require.True(t, ok)
		assert.Equal(t, []string{"10.0.0.1:8080"}, v)

		c.Delete("api")
		_, ok = c.Get("api")
		assert.False(t, ok)
	})

	t.Run("统计命中", func(t *testing.T) {
		c.Set("orders", []string{"a"})
		_, _ = c.Get("orders")
		_, _ = c.Get("missing")
		s := c.Stats()
		assert.GreaterOrEqual(t, s.Hits, uint64(1))
		assert.GreaterOrEqual(t, s.Misses, uint64(1))
	})

	t.Run("清空", func(t *testing.T) {
		c.Set("x", nil)
		c.Clear()
		_, ok := c.Get("x")
		assert.False(t, ok)
	})
}

func TestTTL(t *testing.T) {
	c, err := New[string, int](&Config{TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.SetWithTTL("short", 1, 50*time.Millisecond)
	c.Set("long", 2)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("short")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	v, ok := c.Get("long")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
