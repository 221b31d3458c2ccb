package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	c, err := NewRedis(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestMemory_GetSetExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "specs:type:ADAPT", []byte("v1"), time.Minute))

	val, ok, err := m.Get(ctx, "specs:type:ADAPT")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), val)

	now = now.Add(time.Minute)
	_, ok, err = m.Get(ctx, "specs:type:ADAPT")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire at ttl")
	assert.Equal(t, 0, m.Len())
}

func TestMemory_ZeroTTLStoresNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	_, ok, _ := m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemory_Purge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "specs:type:ADAPT", []byte("a"), time.Minute))
	require.NoError(t, m.Set(ctx, "specs:all", []byte("b"), time.Minute))
	require.NoError(t, m.Set(ctx, "other", []byte("c"), time.Minute))

	require.NoError(t, m.Purge(ctx, "specs:"))

	_, ok, _ := m.Get(ctx, "specs:type:ADAPT")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "specs:all")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "other")
	assert.True(t, ok)
}

func TestNewRedis(t *testing.T) {
	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := NewRedis(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})

	t.Run("pings", func(t *testing.T) {
		c, _ := setupRedis(t)
		assert.NoError(t, c.Ping(context.Background()))
	})
}

func TestRedis_GetSet(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedis(t)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "specs:all", []byte(`[]`), 30*time.Second))
	assert.True(t, mr.Exists("hfp:test:specs:all"))

	val, ok, err := c.Get(ctx, "specs:all")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", string(val))

	mr.FastForward(31 * time.Second)
	_, ok, err = c.Get(ctx, "specs:all")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Purge(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedis(t)

	require.NoError(t, c.Set(ctx, "specs:type:AGGREGATE", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "specs:type:ADAPT", []byte("b"), time.Minute))
	require.NoError(t, c.Set(ctx, "guard", []byte("c"), time.Minute))

	require.NoError(t, c.Purge(ctx, "specs:"))

	assert.False(t, mr.Exists("hfp:test:specs:type:AGGREGATE"))
	assert.False(t, mr.Exists("hfp:test:specs:type:ADAPT"))
	assert.True(t, mr.Exists("hfp:test:guard"))

	// Purging an empty prefix set is a no-op.
	assert.NoError(t, c.Purge(ctx, "nothing:"))
}
