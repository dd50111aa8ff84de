package mediastore

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mediastore/blobstore"
	"github.com/hupe1980/mediastore/hash"
	"github.com/hupe1980/mediastore/ingest"
)

func testImage(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*31 + y*17 + seed*13) % 251)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func openTestStore(t *testing.T, optFns ...Option) *MediaStore {
	t.Helper()

	opts := append([]Option{
		WithBlobStore(blobstore.NewMemoryStore()),
		WithRetryBackoff(time.Millisecond),
		WithCheckpointInterval(0),
	}, optFns...)

	ms, err := Open(filepath.Join(t.TempDir(), "media.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ms.Close() })

	return ms
}

func pngRequest(t *testing.T, seed int) ingest.Request {
	t.Helper()
	return ingest.Request{
		Data:     testImage(t, seed),
		MimeType: "image/png",
		Kind:     hash.KindStatic,
		Uploader: "tester",
	}
}

func TestIngestAndGet(t *testing.T) {
	ms := openTestStore(t)
	ctx := context.Background()

	res, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusStored, res.Status)
	assert.Equal(t, int64(1), res.Record.ID)

	rec, err := ms.Get(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Record.ExactHash, rec.ExactHash)
	assert.Equal(t, "tester", rec.Uploader)

	count, err := ms.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIngestDuplicate(t *testing.T) {
	ms := openTestStore(t)
	ctx := context.Background()

	first, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)

	second, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusDuplicate, second.Status)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, 0, second.Distance)

	count, err := ms.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGetContent(t *testing.T) {
	ms := openTestStore(t)
	ctx := context.Background()

	req := pngRequest(t, 1)
	res, err := ms.Ingest(ctx, req)
	require.NoError(t, err)

	data, err := ms.GetContent(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, req.Data, data)

	_, err = ms.GetContent(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesRecordAndBlob(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	ms := openTestStore(t, WithBlobStore(blobs))
	ctx := context.Background()

	res, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)

	require.NoError(t, ms.Delete(ctx, res.Record.ID))

	_, err = ms.Get(ctx, res.Record.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = blobs.Get(ctx, res.Record.FilePath)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	assert.ErrorIs(t, ms.Delete(ctx, res.Record.ID), ErrNotFound)
}

func TestIngestUndecodable(t *testing.T) {
	ms := openTestStore(t)

	_, err := ms.Ingest(context.Background(), ingest.Request{
		Data:     []byte("definitely not an image"),
		MimeType: "image/png",
		Kind:     hash.KindStatic,
	})
	require.Error(t, err)

	var undecodable *UndecodableError
	require.ErrorAs(t, err, &undecodable)
	assert.Equal(t, "image/png", undecodable.MimeType)
}

func TestIncrementUsage(t *testing.T) {
	ms := openTestStore(t)
	ctx := context.Background()

	res, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)

	require.NoError(t, ms.IncrementUsage(ctx, res.Record.ID))
	require.NoError(t, ms.IncrementUsage(ctx, res.Record.ID))

	rec, err := ms.Get(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.UsageCount)
}

func TestRecalculateVisualHash(t *testing.T) {
	ms := openTestStore(t)
	ctx := context.Background()

	res, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)
	original := res.Record.VisualHash
	require.NotEmpty(t, original)

	// Simulate a record ingested before visual hashing existed.
	require.NoError(t, ms.store.SetVisualHash(ctx, res.Record.ID, ""))

	require.NoError(t, ms.RecalculateVisualHash(ctx, res.Record.ID))

	rec, err := ms.Get(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, original, rec.VisualHash)
}

func TestBackupRoundTrip(t *testing.T) {
	ms := openTestStore(t)
	ctx := context.Background()

	_, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ms.Backup(ctx, &buf))
	assert.NotZero(t, buf.Len())
}

func TestCheckpoint(t *testing.T) {
	ms := openTestStore(t)
	ctx := context.Background()

	_, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)

	assert.NoError(t, ms.Checkpoint(ctx))
}

func TestStatsAndDrain(t *testing.T) {
	ms := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ms.Ingest(ctx, pngRequest(t, i))
		require.NoError(t, err)
	}
	ms.Drain()

	stats := ms.Stats()
	assert.Equal(t, uint64(3), stats.Submitted)
	assert.Equal(t, uint64(3), stats.Completed)
	assert.Zero(t, stats.Queued)
}

func TestSubmitAfterClose(t *testing.T) {
	ms := openTestStore(t)
	require.NoError(t, ms.Close())

	_, err := ms.Submit(pngRequest(t, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDuplicateGroups(t *testing.T) {
	ms := openTestStore(t)
	ctx := context.Background()

	res, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)

	// Force a second record with the same visual hash by rewriting it.
	other, err := ms.Ingest(ctx, pngRequest(t, 5))
	require.NoError(t, err)
	require.NoError(t, ms.store.SetVisualHash(ctx, other.Record.ID, res.Record.VisualHash))

	groups, err := ms.DuplicateGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []int64{res.Record.ID, other.Record.ID}, groups[0].IDs)
}

func TestMetricsCollector(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	ms := openTestStore(t, WithMetricsCollector(metrics))
	ctx := context.Background()

	res, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)
	_, err = ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)
	require.NoError(t, ms.Delete(ctx, res.Record.ID))

	assert.Equal(t, int64(2), metrics.IngestCount.Load())
	assert.Equal(t, int64(1), metrics.IngestDuplicates.Load())
	assert.Equal(t, int64(1), metrics.DeleteCount.Load())
	assert.Positive(t, metrics.AverageIngestDuration())
}

func TestNilOptionValuesDisable(t *testing.T) {
	ms := openTestStore(t,
		WithLogger(nil),
		WithMetricsCollector(nil),
		WithEvents(nil),
	)
	ctx := context.Background()

	res, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)
	require.NoError(t, ms.Delete(ctx, res.Record.ID))
}

func TestLocalBlobDefault(t *testing.T) {
	dir := t.TempDir()
	ms, err := Open(filepath.Join(dir, "media.db"), WithCheckpointInterval(0))
	require.NoError(t, err)
	defer ms.Close()

	ctx := context.Background()
	res, err := ms.Ingest(ctx, pngRequest(t, 1))
	require.NoError(t, err)

	data, err := ms.GetContent(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
