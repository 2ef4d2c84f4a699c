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

// setupRedisCache creates a test Redis cache with miniredis.
func setupRedisCache(t *testing.T, opts ...RedisOption) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return NewRedisCache(client, opts...), mr
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "job_status:j1", JobStatusKey("j1"))
	assert.Equal(t, "transcription:j1:srt", TranscriptionKey("j1", "srt"))
	assert.Equal(t, "user_jobs:u1", UserJobsKey("u1"))
	assert.Equal(t, "system:metrics", SystemMetricsKey)
	assert.Equal(t, "file_meta:jobs_j1_source.wav", FileMetaKey("jobs/j1/source.wav"))
}

func TestRedisCache_GetMiss(t *testing.T) {
	c, _ := setupRedisCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache_SetGet(t *testing.T) {
	c, _ := setupRedisCache(t)
	ctx := context.Background()

	err := c.Set(ctx, JobStatusKey("j1"), []byte(`{"status":"processing"}`), TTLJobStatus)
	require.NoError(t, err)

	got, err := c.Get(ctx, JobStatusKey("j1"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"status":"processing"}`), got)

	ok, err := c.Exists(ctx, JobStatusKey("j1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache_ZeroTTLPersists(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	mr.FastForward(48 * time.Hour)

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestRedisCache_Delete(t *testing.T) {
	c, _ := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	// Deleting an absent key is not an error.
	assert.NoError(t, c.Delete(ctx, "k"))
}

func TestRedisCache_Clear(t *testing.T) {
	c, _ := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Clear(ctx))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache_PrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a := NewRedisCache(client, WithPrefix("a"))
	b := NewRedisCache(client, WithPrefix("b"))
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", []byte("va"), 0))
	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache_CopyInAndOut(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	v := []byte("original")
	require.NoError(t, c.Set(ctx, "k", v, 0))
	v[0] = 'X'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	got[0] = 'Y'
	again, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestMemoryCache_LazyExpiry(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache(withClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_EvictsOldestInserted(t *testing.T) {
	c := NewMemoryCache(WithMaxSize(2))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "first", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "second", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "third", []byte("3"), 0))

	_, err := c.Get(ctx, "first")
	assert.ErrorIs(t, err, ErrMiss, "oldest-inserted entry should be evicted")

	_, err = c.Get(ctx, "second")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "third")
	assert.NoError(t, err)
}

func TestMemoryCache_UpdateDoesNotEvict(t *testing.T) {
	c := NewMemoryCache(WithMaxSize(2))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "a", []byte("updated"), 0))

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), got)

	_, err = c.Get(ctx, "b")
	assert.NoError(t, err)
}

func TestDisabled_AllOperations(t *testing.T) {
	c := NewDisabled()
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.Clear(ctx))
}
