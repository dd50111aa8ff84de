// Package lsh provides the bucket layer of the similarity index. Visual
// hashes are grouped under a coarse key, a fixed-length prefix of the
// first frame digest, so duplicate resolution can compare against a
// small same-bucket candidate set instead of scanning the whole corpus.
package lsh

import (
	"context"
	"fmt"

	"github.com/hupe1980/mediastore/hash"
)

// PrefixLen is the bucket key width in hex characters. Sixteen characters
// cover the top 64 bits of the frame digest, coarse enough that visually
// near-identical content lands in the same bucket.
const PrefixLen = 16

// BucketKey derives the bucket key for a visual hash. It returns "" when
// the hash carries no usable first frame, in which case the content has
// no bucket and similarity lookups must use their fallback path.
func BucketKey(visual string) string {
	first := hash.FirstFrame(visual)
	if len(first) < PrefixLen {
		return ""
	}
	return first[:PrefixLen]
}

// Candidate is a bucket entry: a media id together with the denormalized
// visual hash of the owning record, so bucket scans avoid a join.
type Candidate struct {
	MediaID    int64
	VisualHash string
}

// Storage is the persistence surface the index reads from and writes
// through. All mutations go through the transactional store; the index
// itself holds no state.
type Storage interface {
	CandidatesByBucket(ctx context.Context, bucketKey string) ([]Candidate, error)
	UpsertBucket(ctx context.Context, mediaID int64, bucketKey, visualHash string) error
}

// Index maps visual hashes to same-bucket candidate sets.
type Index struct {
	storage Storage
}

// New creates an Index backed by the given storage.
func New(storage Storage) *Index {
	return &Index{storage: storage}
}

// Lookup returns the candidates sharing the given bucket key. It never
// falls back to a full-corpus scan; an empty bucket returns an empty
// slice and the caller decides whether to widen the search.
func (i *Index) Lookup(ctx context.Context, bucketKey string) ([]Candidate, error) {
	if bucketKey == "" {
		return nil, nil
	}
	candidates, err := i.storage.CandidatesByBucket(ctx, bucketKey)
	if err != nil {
		return nil, fmt.Errorf("lookup bucket %q: %w", bucketKey, err)
	}
	return candidates, nil
}

// Insert records the bucket entry for a media id. Re-inserting the same
// id replaces its prior entry, so the index stays consistent when a
// record's visual hash is backfilled or recomputed.
func (i *Index) Insert(ctx context.Context, mediaID int64, visualHash string) error {
	key := BucketKey(visualHash)
	if key == "" {
		return nil
	}
	if err := i.storage.UpsertBucket(ctx, mediaID, key, visualHash); err != nil {
		return fmt.Errorf("insert bucket entry for media %d: %w", mediaID, err)
	}
	return nil
}
