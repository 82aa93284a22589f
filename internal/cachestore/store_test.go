package cachestore_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/media-pipeline/internal/cachestore"
)

func openStoreForTest(t *testing.T, version string) *cachestore.Store {
	t.Helper()
	store, err := cachestore.Open(t.TempDir(), version)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func entryAt(key string, cachedAt time.Time) cachestore.Entry {
	return cachestore.Entry{
		Key:         key,
		CachedAt:    cachedAt,
		Status:      200,
		ContentType: "application/json",
		Headers:     map[string]string{"Cache-Control": "no-store"},
		Body:        []byte(`{"ok":true}`),
	}
}

func TestOpen_CreatesVersionedBuckets(t *testing.T) {
	store := openStoreForTest(t, "v3")

	names := store.BucketNamesForTest()
	assert.ElementsMatch(t, []string{
		"static-v3", "dynamic-v3", "image-v3", "remote-media-v3",
	}, names)
}

func TestOpen_DropsBucketsOfOtherVersions(t *testing.T) {
	dir := t.TempDir()

	old, err := cachestore.Open(dir, "v2")
	require.NoError(t, err)
	require.NoError(t, old.Put(cachestore.CacheStatic, "https://app.example.com/shell.css", entryAt("", time.Now())))
	require.NoError(t, old.Close())

	fresh, err := cachestore.Open(dir, "v3")
	require.NoError(t, err)
	defer fresh.Close()

	for _, name := range fresh.BucketNamesForTest() {
		assert.NotContains(t, name, "v2")
	}

	// the old write is gone
	_, found, err := fresh.Get(cachestore.CacheStatic, "https://app.example.com/shell.css")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutGetDelete_RoundTrip(t *testing.T) {
	store := openStoreForTest(t, "v1")
	cachedAt := time.Now().Truncate(time.Second)

	written := entryAt("", cachedAt)
	require.NoError(t, store.Put(cachestore.CacheDynamic, "https://app.example.com/api/courses", written))

	entry, found, err := store.Get(cachestore.CacheDynamic, "https://app.example.com/api/courses")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://app.example.com/api/courses", entry.Key)
	assert.Equal(t, 200, entry.Status)
	assert.Equal(t, "application/json", entry.ContentType)
	assert.Equal(t, []byte(`{"ok":true}`), entry.Body)
	assert.True(t, entry.CachedAt.Equal(cachedAt))

	require.NoError(t, store.Delete(cachestore.CacheDynamic, "https://app.example.com/api/courses"))
	_, found, err = store.Get(cachestore.CacheDynamic, "https://app.example.com/api/courses")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGet_MissingKeyIsNotAnError(t *testing.T) {
	store := openStoreForTest(t, "v1")

	_, found, err := store.Get(cachestore.CacheImage, "https://app.example.com/missing.png")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUnknownCacheNameIsRejected(t *testing.T) {
	store := openStoreForTest(t, "v1")

	err := store.Put(cachestore.CacheName("bogus"), "k", cachestore.Entry{})

	var storeErr *cachestore.StoreError
	require.Error(t, err)
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, cachestore.StoreErrorCause(cachestore.ErrCauseUnknownCache), storeErr.Cause)
}

func TestCountAndKeys(t *testing.T) {
	store := openStoreForTest(t, "v1")
	now := time.Now()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("https://app.example.com/img/%d.png", i)
		require.NoError(t, store.Put(cachestore.CacheImage, key, entryAt("", now)))
	}

	count, err := store.Count(cachestore.CacheImage)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	keys, err := store.Keys(cachestore.CacheImage)
	require.NoError(t, err)
	assert.Len(t, keys, 5)

	// tiers are isolated
	count, err = store.Count(cachestore.CacheStatic)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEvictOldest_DropsByWriteTimeUntilAtLimit(t *testing.T) {
	store := openStoreForTest(t, "v1")
	base := time.Now().Add(-time.Hour)

	// write 7 entries with strictly increasing age markers
	for i := 0; i < 7; i++ {
		key := fmt.Sprintf("https://app.example.com/img/%d.png", i)
		require.NoError(t, store.Put(cachestore.CacheImage, key, entryAt("", base.Add(time.Duration(i)*time.Minute))))
	}

	evicted, remaining, err := store.EvictOldest(cachestore.CacheImage, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, evicted)
	assert.Equal(t, 4, remaining)

	// exactly the newest 4 survive
	keys, err := store.Keys(cachestore.CacheImage)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"https://app.example.com/img/3.png",
		"https://app.example.com/img/4.png",
		"https://app.example.com/img/5.png",
		"https://app.example.com/img/6.png",
	}, keys)
}

func TestEvictOldest_UnderLimitIsANoOp(t *testing.T) {
	store := openStoreForTest(t, "v1")
	now := time.Now()

	require.NoError(t, store.Put(cachestore.CacheStatic, "https://app.example.com/a.css", entryAt("", now)))
	require.NoError(t, store.Put(cachestore.CacheStatic, "https://app.example.com/b.css", entryAt("", now)))

	evicted, remaining, err := store.EvictOldest(cachestore.CacheStatic, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, evicted)
	assert.Equal(t, 2, remaining)
}

func TestEntry_Freshness(t *testing.T) {
	now := time.Now()
	entry := cachestore.Entry{CachedAt: now.Add(-30 * time.Second)}

	assert.True(t, entry.Fresh(now, time.Minute))
	assert.False(t, entry.Fresh(now, 10*time.Second))
	assert.Equal(t, 30*time.Second, entry.Age(now))
}
