package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Hour  int     `json:"hour"`
	Price float64 `json:"price"`
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "forecast:v1:24", []point{{1, 40.5}}, time.Minute))

	var got []point
	require.NoError(t, c.Get(ctx, "forecast:v1:24", &got))
	assert.Equal(t, []point{{1, 40.5}}, got)

	var missing []point
	assert.ErrorIs(t, c.Get(ctx, "forecast:v1:48", &missing), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 1, time.Minute))
	now = now.Add(2 * time.Minute)
	var v int
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(WithMemoryLimits(2, 0))
	defer c.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { now = now.Add(time.Second); return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	var v int
	require.NoError(t, c.Get(ctx, "a", &v))
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	assert.NoError(t, c.Get(ctx, "a", &v))
	assert.ErrorIs(t, c.Get(ctx, "b", &v), ErrCacheMiss)
}

func TestMemoryCachePatternAndLock(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "forecast:v1:24", 1, 0))
	require.NoError(t, c.Set(ctx, "forecast:v1:48", 1, 0))
	require.NoError(t, c.Set(ctx, "other", 1, 0))
	require.NoError(t, c.DeleteByPattern(ctx, PrefixPattern("forecast")))

	var v int
	assert.ErrorIs(t, c.Get(ctx, "forecast:v1:24", &v), ErrCacheMiss)
	assert.NoError(t, c.Get(ctx, "other", &v))

	ok, err := c.TryLock(ctx, "lock:train", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = c.TryLock(ctx, "lock:train", time.Minute)
	assert.False(t, ok)
	require.NoError(t, c.Unlock(ctx, "lock:train"))
	ok, _ = c.TryLock(ctx, "lock:train", time.Minute)
	assert.True(t, ok)
}

func TestRedisCachePrefixesKeys(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, "gc")
	ctx := context.Background()

	mock.ExpectSet("gc:forecast:v1:24", []byte(`{"hour":1,"price":2}`), time.Minute).SetVal("OK")
	mock.ExpectGet("gc:forecast:v1:24").SetVal(`{"hour":1,"price":2}`)
	mock.ExpectGet("gc:missing").RedisNil()

	require.NoError(t, c.Set(ctx, "forecast:v1:24", point{1, 2}, time.Minute))
	var got point
	require.NoError(t, c.Get(ctx, "forecast:v1:24", &got))
	assert.Equal(t, point{1, 2}, got)
	assert.ErrorIs(t, c.Get(ctx, "missing", &got), ErrCacheMiss)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheLockIsOwned(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, "gc")
	c.newToken = func() string { return "tok-1" }
	ctx := context.Background()

	mock.ExpectSetNX("gc:lock:train", "tok-1", time.Hour).SetVal(true)
	mock.ExpectEvalSha(unlockScript.Hash(), []string{"gc:lock:train"}, "tok-1").SetVal(int64(1))
	mock.ExpectSetNX("gc:retrain:v1", "tok-1", time.Hour).SetVal(false)

	ok, err := c.TryLock(ctx, "lock:train", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.Unlock(ctx, "lock:train"))

	// A lock held elsewhere is never released from here.
	ok, err = c.TryLock(ctx, "retrain:v1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.Unlock(ctx, "retrain:v1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLayeredCacheFillsMemoryFromRemote(t *testing.T) {
	remote := NewMemoryCache()
	lc := NewLayeredCache(remote)
	defer lc.Close()
	ctx := context.Background()

	require.NoError(t, remote.Set(ctx, "k", point{2, 3}, 0))
	var got point
	require.NoError(t, lc.Get(ctx, "k", &got))
	require.NoError(t, remote.Delete(ctx, "k"))

	got = point{}
	require.NoError(t, lc.Get(ctx, "k", &got), "served from L1")
	assert.Equal(t, point{2, 3}, got)

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "forecast:v1:24", Key("forecast", "v1", 24))
	assert.Equal(t, "forecast:*", PrefixPattern("forecast"))
}
