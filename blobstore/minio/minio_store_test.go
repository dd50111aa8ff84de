package minio

import (
	"context"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mediastore/blobstore"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucket := "test-mediastore"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	// Check if MinIO is reachable
	if _, err = client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")

	data := []byte("sticker bytes")
	require.NoError(t, store.Put(ctx, "media/1.webp", data))

	got, err := store.Get(ctx, "media/1.webp")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "media/")
	require.NoError(t, err)
	assert.Contains(t, names, "media/1.webp")

	require.NoError(t, store.Delete(ctx, "media/1.webp"))
	_, err = store.Get(ctx, "media/1.webp")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	// Idempotent delete.
	assert.NoError(t, store.Delete(ctx, "media/1.webp"))
}
