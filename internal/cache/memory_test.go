package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinsk/voiceforge/internal/cache"
)

func TestMemory_SetGetRoundtrip(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", []byte("v"), time.Minute))

	val, found, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)
}

func TestMemory_GetMiss(t *testing.T) {
	mc := cache.NewMemoryCache()

	val, found, err := mc.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestMemory_ExpiredEntryIsAMiss(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mc.SetNowFunc(func() time.Time { return now })

	require.NoError(t, mc.Set(ctx, "k", []byte("v"), time.Minute))

	now = now.Add(time.Minute)
	_, found, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_Delete(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, mc.Delete(ctx, "k"))

	_, found, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_EvictExpired(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mc.SetNowFunc(func() time.Time { return now })

	require.NoError(t, mc.Set(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, mc.Set(ctx, "long", []byte("b"), time.Hour))

	now = now.Add(10 * time.Minute)
	evicted, err := mc.EvictExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	_, found, err := mc.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemory_SetCopiesValue(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	buf := []byte("original")
	require.NoError(t, mc.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'X'

	val, found, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("original"), val)
}
