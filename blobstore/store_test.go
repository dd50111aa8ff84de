package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlobStore(t *testing.T, s BlobStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "media/1.webp", []byte("first")))
	require.NoError(t, s.Put(ctx, "media/2.webp", []byte("second")))
	require.NoError(t, s.Put(ctx, "other/3.webp", []byte("third")))

	data, err := s.Get(ctx, "media/1.webp")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	// Overwrite replaces.
	require.NoError(t, s.Put(ctx, "media/1.webp", []byte("replaced")))
	data, err = s.Get(ctx, "media/1.webp")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)

	_, err = s.Get(ctx, "media/missing.webp")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err := s.List(ctx, "media/")
	require.NoError(t, err)
	assert.Equal(t, []string{"media/1.webp", "media/2.webp"}, names)

	require.NoError(t, s.Delete(ctx, "media/2.webp"))
	_, err = s.Get(ctx, "media/2.webp")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent blob is not an error.
	assert.NoError(t, s.Delete(ctx, "media/2.webp"))
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	testBlobStore(t, s)
}

func TestMemoryStore(t *testing.T) {
	testBlobStore(t, NewMemoryStore())
}

func TestCachingStore(t *testing.T) {
	testBlobStore(t, NewCachingStore(NewMemoryStore(), 0))
}

func TestCachingStoreServesFromCache(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	s := NewCachingStore(inner, 1<<20)

	require.NoError(t, s.Put(ctx, "a", []byte("payload")))

	// Warm the cache, then remove from the backing store directly.
	data, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, inner.Delete(ctx, "a"))
	data, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	// Delete through the caching layer drops the cached copy too.
	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachingStoreEvictsByCapacity(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	s := NewCachingStore(inner, 8)

	require.NoError(t, s.Put(ctx, "a", []byte("12345")))
	require.NoError(t, s.Put(ctx, "b", []byte("67890")))

	// Warm both (the second fill evicts the first), then drop the
	// backing copies to observe which entries survived.
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)
	_, err = s.Get(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, inner.Delete(ctx, "a"))
	require.NoError(t, inner.Delete(ctx, "b"))

	_, err = s.Get(ctx, "b")
	assert.NoError(t, err, "most recent entry stays cached")
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound, "oldest entry was evicted")
}

func TestCachingStoreSkipsOversizedBlobs(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	s := NewCachingStore(inner, 4)

	require.NoError(t, s.Put(ctx, "big", []byte("too large to cache")))
	_, err := s.Get(ctx, "big")
	require.NoError(t, err)

	require.NoError(t, inner.Delete(ctx, "big"))
	_, err = s.Get(ctx, "big")
	assert.ErrorIs(t, err, ErrNotFound, "oversized blobs are never cached")
}
