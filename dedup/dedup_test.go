package dedup

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mediastore/hash"
	"github.com/hupe1980/mediastore/lsh"
	"github.com/hupe1980/mediastore/store"
)

type fakeCatalog struct {
	records   map[int64]*store.MediaRecord
	buckets   map[string][]lsh.Candidate
	exactErr  error
	scanErr   error
	bucketErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		records: make(map[int64]*store.MediaRecord),
		buckets: make(map[string][]lsh.Candidate),
	}
}

func (f *fakeCatalog) add(rec *store.MediaRecord, bucketed bool) {
	f.records[rec.ID] = rec
	if bucketed {
		if key := lsh.BucketKey(rec.VisualHash); key != "" {
			f.buckets[key] = append(f.buckets[key], lsh.Candidate{MediaID: rec.ID, VisualHash: rec.VisualHash})
		}
	}
}

func (f *fakeCatalog) FindByExactHash(_ context.Context, exactHash string) (*store.MediaRecord, error) {
	if f.exactErr != nil {
		return nil, f.exactErr
	}
	for _, rec := range f.records {
		if rec.ExactHash == exactHash {
			return rec, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeCatalog) GetByID(_ context.Context, id int64) (*store.MediaRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeCatalog) ScanVisual(_ context.Context, limit int) ([]lsh.Candidate, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	var out []lsh.Candidate
	for id, rec := range f.records {
		if rec.VisualHash != "" {
			out = append(out, lsh.Candidate{MediaID: id, VisualHash: rec.VisualHash})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MediaID < out[j].MediaID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCatalog) CandidatesByBucket(_ context.Context, bucketKey string) ([]lsh.Candidate, error) {
	if f.bucketErr != nil {
		return nil, f.bucketErr
	}
	return f.buckets[bucketKey], nil
}

func (f *fakeCatalog) UpsertBucket(_ context.Context, mediaID int64, bucketKey, visualHash string) error {
	f.buckets[bucketKey] = append(f.buckets[bucketKey], lsh.Candidate{MediaID: mediaID, VisualHash: visualHash})
	return nil
}

func newResolver(catalog *fakeCatalog, optFns ...func(o *Options)) *Resolver {
	return New(catalog, lsh.New(catalog), optFns...)
}

func baseVisual() string {
	raw := make([]byte, hash.DigestBits/8)
	for i := range raw {
		raw[i] = byte(i)*3 + 1
	}
	return hex.EncodeToString(raw)
}

// flipBits returns a copy of the digest with exactly n distinct bits
// flipped, i.e. at Hamming distance n from the input.
func flipBits(t *testing.T, s string, n int) string {
	t.Helper()
	raw, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.LessOrEqual(t, n, len(raw)*8)
	for i := 0; i < n; i++ {
		raw[i/8] ^= 1 << (i % 8)
	}
	return hex.EncodeToString(raw)
}

func mediaRecord(id int64, exact, visual string) *store.MediaRecord {
	return &store.MediaRecord{
		ID:         id,
		ExactHash:  exact,
		VisualHash: visual,
		FilePath:   "blobs/x.webp",
		MimeType:   "image/webp",
	}
}

func TestResolveExactMatch(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add(mediaRecord(1, "e1", baseVisual()), true)
	r := newResolver(catalog)

	// Exact match wins even when the visual hashes are unrelated.
	m, err := r.Resolve(context.Background(), "e1", flipBits(t, baseVisual(), 500))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.Record.ID)
	assert.Equal(t, 0, m.Distance)
}

func TestResolveEmptyStore(t *testing.T) {
	r := newResolver(newFakeCatalog())

	m, err := r.Resolve(context.Background(), "e1", baseVisual())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolveThresholdBoundary(t *testing.T) {
	visual := baseVisual()
	catalog := newFakeCatalog()
	catalog.add(mediaRecord(1, "e1", visual), true)
	r := newResolver(catalog, func(o *Options) { o.Threshold = 8 })
	ctx := context.Background()

	// Distance exactly at the threshold matches (inclusive boundary).
	m, err := r.Resolve(ctx, "e2", flipBits(t, visual, 8))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.Record.ID)
	assert.Equal(t, 8, m.Distance)

	// One bit past the threshold does not.
	m, err = r.Resolve(ctx, "e2", flipBits(t, visual, 9))
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolveDegenerateQueryNeverMatches(t *testing.T) {
	degenerate := strings.Repeat("0", hash.DigestHexLen)
	catalog := newFakeCatalog()
	catalog.add(mediaRecord(1, "e1", degenerate), true)
	r := newResolver(catalog)

	// Even an identical stored degenerate hash is not a match.
	m, err := r.Resolve(context.Background(), "e2", degenerate)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolveSkipsDegenerateCandidates(t *testing.T) {
	visual := baseVisual()
	degenerate := strings.Repeat("f", hash.DigestHexLen)
	catalog := newFakeCatalog()
	catalog.add(mediaRecord(1, "e1", degenerate), true)
	r := newResolver(catalog)

	// The degenerate candidate is dropped before any distance is taken.
	m, err := r.Resolve(context.Background(), "e2", visual)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolveBucketFallback(t *testing.T) {
	visual := baseVisual()
	catalog := newFakeCatalog()
	// Record exists but its bucket entry is missing.
	catalog.add(mediaRecord(1, "e1", visual), false)
	r := newResolver(catalog)

	m, err := r.Resolve(context.Background(), "e2", flipBits(t, visual, 5))
	require.NoError(t, err)
	require.NotNil(t, m, "missing bucket index must not disable dedup")
	assert.Equal(t, int64(1), m.Record.ID)
	assert.Equal(t, 5, m.Distance)
}

func TestResolveStaleBucketEntries(t *testing.T) {
	visual := baseVisual()
	catalog := newFakeCatalog()
	catalog.add(mediaRecord(2, "e2", flipBits(t, visual, 10)), false)
	// Both entries share a bucket; the closer one points at a deleted
	// record.
	key := lsh.BucketKey(visual)
	catalog.buckets[key] = []lsh.Candidate{
		{MediaID: 1, VisualHash: flipBits(t, visual, 5)},
		{MediaID: 2, VisualHash: flipBits(t, visual, 10)},
	}

	r := newResolver(catalog, func(o *Options) { o.Threshold = 20 })

	m, err := r.Resolve(context.Background(), "e3", visual)
	require.NoError(t, err)
	require.NotNil(t, m, "stale entry must be skipped in favor of the next candidate")
	assert.Equal(t, int64(2), m.Record.ID)
	assert.Equal(t, 10, m.Distance)
}

func TestResolveOnlyStaleEntries(t *testing.T) {
	visual := baseVisual()
	catalog := newFakeCatalog()
	key := lsh.BucketKey(visual)
	catalog.buckets[key] = []lsh.Candidate{{MediaID: 1, VisualHash: visual}}

	r := newResolver(catalog)

	m, err := r.Resolve(context.Background(), "e3", visual)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolvePrefersClosestCandidate(t *testing.T) {
	visual := baseVisual()
	catalog := newFakeCatalog()
	catalog.add(mediaRecord(1, "e1", flipBits(t, visual, 40)), true)
	catalog.add(mediaRecord(2, "e2", flipBits(t, visual, 10)), true)
	r := newResolver(catalog)

	m, err := r.Resolve(context.Background(), "e3", visual)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(2), m.Record.ID)
	assert.Equal(t, 10, m.Distance)
}

func TestResolvePropagatesErrors(t *testing.T) {
	visual := baseVisual()
	ctx := context.Background()

	t.Run("exact lookup", func(t *testing.T) {
		catalog := newFakeCatalog()
		catalog.exactErr = errors.New("disk error")
		_, err := newResolver(catalog).Resolve(ctx, "e1", visual)
		assert.ErrorContains(t, err, "disk error")
	})

	t.Run("bucket lookup", func(t *testing.T) {
		catalog := newFakeCatalog()
		catalog.bucketErr = errors.New("database locked")
		_, err := newResolver(catalog).Resolve(ctx, "e1", visual)
		assert.ErrorContains(t, err, "database locked")
	})

	t.Run("fallback scan", func(t *testing.T) {
		catalog := newFakeCatalog()
		catalog.scanErr = errors.New("io failure")
		_, err := newResolver(catalog).Resolve(ctx, "e1", visual)
		assert.ErrorContains(t, err, "io failure")
	})
}
