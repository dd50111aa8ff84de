// Package dedup decides whether incoming content duplicates something
// already stored. Resolution is exact-hash first, then perceptual: a
// bucket lookup against the similarity index, with a bounded full-corpus
// scan as the explicit fallback when the bucket is empty.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/hupe1980/mediastore/hash"
	"github.com/hupe1980/mediastore/lsh"
	"github.com/hupe1980/mediastore/store"
)

const (
	// DefaultThreshold is the inclusive maximum distance treated as a
	// duplicate, roughly 90% similarity on the 1024-bit digest scale.
	DefaultThreshold = 102

	// DefaultScanLimit caps the fallback corpus scan so a missing or
	// empty bucket cannot turn one resolution into an unbounded read.
	DefaultScanLimit = 1000

	// nearZeroDistance ends the candidate scan early: a hit this close
	// cannot be beaten by enough to change the outcome.
	nearZeroDistance = 2
)

// Catalog is the read surface the resolver needs from the store.
type Catalog interface {
	FindByExactHash(ctx context.Context, exactHash string) (*store.MediaRecord, error)
	GetByID(ctx context.Context, id int64) (*store.MediaRecord, error)
	ScanVisual(ctx context.Context, limit int) ([]lsh.Candidate, error)
}

// Match is a successful resolution: the existing record and its distance
// from the query. Distance 0 means byte-identical content.
type Match struct {
	Record   *store.MediaRecord
	Distance int
}

// Options configures a Resolver.
type Options struct {
	// Threshold is the inclusive duplicate distance cutoff.
	Threshold int

	// ScanLimit bounds the fallback corpus scan.
	ScanLimit int

	// Logger receives the fallback-path warnings. Defaults to silent.
	Logger *slog.Logger
}

// DefaultOptions are the options used when none are overridden.
var DefaultOptions = Options{
	Threshold: DefaultThreshold,
	ScanLimit: DefaultScanLimit,
}

// Resolver finds existing records that duplicate incoming content.
type Resolver struct {
	catalog Catalog
	index   *lsh.Index
	opts    Options
	logger  *slog.Logger
}

// New creates a Resolver over the given catalog and similarity index.
func New(catalog Catalog, index *lsh.Index, optFns ...func(o *Options)) *Resolver {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		catalog: catalog,
		index:   index,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Resolve returns the stored duplicate of the given content, or nil when
// nothing matches. Lookup errors always propagate: treating a failed
// lookup as "no duplicate" would silently store the same content twice.
func (r *Resolver) Resolve(ctx context.Context, exactHash, visualHash string) (*Match, error) {
	// Byte-identical re-uploads never fall through to perceptual
	// comparison, whatever their visual hash looks like.
	rec, err := r.catalog.FindByExactHash(ctx, exactHash)
	if err == nil {
		return &Match{Record: rec, Distance: 0}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("exact lookup: %w", err)
	}

	// A degenerate query hash sits near everything in Hamming space and
	// must not be compared at all.
	if hash.FullyDegenerate(visualHash) {
		return nil, nil
	}

	candidates, err := r.candidates(ctx, visualHash)
	if err != nil {
		return nil, err
	}

	scored := r.score(visualHash, candidates)
	for _, sc := range scored {
		if sc.distance > r.opts.Threshold {
			break
		}
		// Bucket entries may be stale after a delete; only a record
		// that still exists counts as a match.
		rec, err := r.catalog.GetByID(ctx, sc.mediaID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch candidate %d: %w", sc.mediaID, err)
		}
		return &Match{Record: rec, Distance: sc.distance}, nil
	}
	return nil, nil
}

func (r *Resolver) candidates(ctx context.Context, visualHash string) ([]lsh.Candidate, error) {
	key := lsh.BucketKey(visualHash)

	candidates, err := r.index.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return candidates, nil
	}

	r.logger.Warn("similarity bucket empty, falling back to bounded corpus scan",
		"bucket_key", key,
		"limit", r.opts.ScanLimit,
	)
	candidates, err = r.catalog.ScanVisual(ctx, r.opts.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("fallback scan: %w", err)
	}
	return candidates, nil
}

type scoredCandidate struct {
	mediaID  int64
	distance int
}

// score computes distances for all comparable candidates, ascending.
// Scanning stops early once a near-zero hit is found.
func (r *Resolver) score(visualHash string, candidates []lsh.Candidate) []scoredCandidate {
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if hash.FullyDegenerate(c.VisualHash) {
			continue
		}
		d := hash.Distance(visualHash, c.VisualHash)
		scored = append(scored, scoredCandidate{mediaID: c.MediaID, distance: d})
		if d <= nearZeroDistance {
			break
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].distance != scored[j].distance {
			return scored[i].distance < scored[j].distance
		}
		return scored[i].mediaID < scored[j].mediaID
	})
	return scored
}
