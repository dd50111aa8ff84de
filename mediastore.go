// Package mediastore provides an embedded content-addressable media store
// for Go.
//
// Mediastore deduplicates media at ingest time using two signatures per
// item: an exact BLAKE3 content hash and a multi-frame perceptual hash
// for near-duplicate detection. Records live in SQLite (WAL mode with
// background checkpointing), content bytes live in a pluggable blob
// store, and ingestion runs through a bounded-concurrency queue with
// retry on contention.
//
// Features:
//
//   - Exact dedup via BLAKE3 content hashing
//   - Near-duplicate detection via per-frame dHash and bucketed
//     similarity lookup
//   - Gap-reusing id allocation backed by a Roaring Bitmap
//   - Transactional SQLite persistence with retry/backoff and WAL
//     checkpointing
//   - Pluggable blob storage: local disk, in-memory, MinIO, S3, with an
//     optional LRU cache
//   - Compressed online backups (zstd or lz4) with optional rate limiting
//
// # Quick Start
//
// Open a store and ingest media:
//
//	ctx := context.Background()
//	ms, err := mediastore.Open("media.db",
//	    mediastore.WithConcurrency(4),
//	    mediastore.WithLogLevel(slog.LevelInfo),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer ms.Close()
//
//	res, err := ms.Ingest(ctx, ingest.Request{
//	    Data:     imageBytes,
//	    MimeType: "image/webp",
//	    Kind:     hash.KindStatic,
//	    Uploader: "user-42",
//	})
//	if err != nil {
//	    panic(err)
//	}
//	if res.Status == ingest.StatusDuplicate {
//	    fmt.Printf("already stored as #%d (distance %d)\n", res.Record.ID, res.Distance)
//	}
//
// Fire-and-forget submission returns a future instead:
//
//	fut, _ := ms.Submit(ingest.Request{Data: data, MimeType: "image/png", Kind: hash.KindStatic})
//	// ... later ...
//	res, err := fut.Wait(ctx)
//
// Content in object storage instead of local disk:
//
//	blobs, _ := s3.NewFromDefaultConfig(ctx, "my-bucket")
//	ms, _ := mediastore.Open("media.db", mediastore.WithBlobStore(blobs))
package mediastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/hupe1980/mediastore/blobstore"
	"github.com/hupe1980/mediastore/dedup"
	"github.com/hupe1980/mediastore/hash"
	"github.com/hupe1980/mediastore/ingest"
	"github.com/hupe1980/mediastore/lsh"
	"github.com/hupe1980/mediastore/store"
)

// MediaStore is a content-addressable media store with perceptual
// deduplication.
type MediaStore struct {
	store     *store.Store
	blobs     blobstore.BlobStore
	hasher    *hash.Hasher
	index     *lsh.Index
	resolver  *dedup.Resolver
	allocator *store.IDAllocator
	queue     *ingest.Queue
	metrics   MetricsCollector
	logger    *Logger
}

// Open opens (or creates) the media store at path. Content blobs default
// to a local directory named "blobs" next to the database file; pass
// WithBlobStore to keep them elsewhere.
func Open(path string, optFns ...Option) (*MediaStore, error) {
	opts := applyOptions(optFns)

	st, err := store.Open(path, func(o *store.Options) {
		o.Logger = opts.logger.WithComponent("store").Logger
		o.Metrics = opts.metricsCollector
		o.CheckpointInterval = opts.checkpointInterval
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	blobs := opts.blobs
	if blobs == nil {
		blobs, err = blobstore.NewLocalStore(filepath.Join(filepath.Dir(path), "blobs"))
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open blob store: %w", err)
		}
	}
	if opts.blobCacheCapacity > 0 {
		blobs = blobstore.NewCachingStore(blobs, opts.blobCacheCapacity)
	}

	hasher := hash.New(func(o *hash.Options) {
		if opts.maxFrames > 0 {
			o.MaxFrames = opts.maxFrames
		}
	})
	index := lsh.New(st)
	resolver := dedup.New(st, index, func(o *dedup.Options) {
		o.Threshold = opts.similarityThreshold
		o.ScanLimit = opts.scanLimit
		o.Logger = opts.logger.WithComponent("dedup").Logger
	})
	allocator := store.NewIDAllocator(st)

	queue := ingest.New(hasher, resolver, allocator, st, blobs, func(o *ingest.Options) {
		o.Concurrency = opts.concurrency
		o.MaxAttempts = opts.maxAttempts
		o.RetryBackoff = opts.retryBackoff
		o.Events = opts.events
		o.Logger = opts.logger.WithComponent("ingest").Logger
	})

	return &MediaStore{
		store:     st,
		blobs:     blobs,
		hasher:    hasher,
		index:     index,
		resolver:  resolver,
		allocator: allocator,
		queue:     queue,
		metrics:   opts.metricsCollector,
		logger:    opts.logger,
	}, nil
}

// Submit queues media for ingestion and returns a future for its result.
func (ms *MediaStore) Submit(req ingest.Request) (*ingest.Future, error) {
	fut, err := ms.queue.Submit(req)
	if err != nil {
		return nil, translateError(err)
	}
	return fut, nil
}

// Ingest stores media synchronously: it submits the request and waits
// for the outcome. A duplicate outcome carries the pre-existing record.
func (ms *MediaStore) Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error) {
	start := time.Now()

	fut, err := ms.Submit(req)
	if err != nil {
		ms.metrics.RecordIngest(time.Since(start), false, err)
		return nil, err
	}

	res, err := fut.Wait(ctx)
	if err != nil {
		ms.metrics.RecordIngest(time.Since(start), false, err)
		ms.logger.LogIngest(ctx, "failed", 0, err)
		return nil, translateIngestError(err, req.MimeType)
	}

	ms.metrics.RecordIngest(time.Since(start), res.Status == ingest.StatusDuplicate, nil)
	ms.logger.LogIngest(ctx, res.Status.String(), res.Record.ID, nil)
	return res, nil
}

// Get returns the record with the given id.
func (ms *MediaStore) Get(ctx context.Context, id int64) (*store.MediaRecord, error) {
	rec, err := ms.store.GetByID(ctx, id)
	if err != nil {
		return nil, translateError(err)
	}
	return rec, nil
}

// GetContent returns the stored bytes for the record with the given id.
func (ms *MediaStore) GetContent(ctx context.Context, id int64) ([]byte, error) {
	rec, err := ms.store.GetByID(ctx, id)
	if err != nil {
		return nil, translateError(err)
	}
	data, err := ms.blobs.Get(ctx, rec.FilePath)
	if err != nil {
		return nil, translateError(err)
	}
	return data, nil
}

// Delete removes the record, its similarity bucket entry and its content
// blob. Deleting an absent id returns ErrNotFound.
func (ms *MediaStore) Delete(ctx context.Context, id int64) error {
	start := time.Now()

	rec, err := ms.store.GetByID(ctx, id)
	if err != nil {
		err = translateError(err)
		ms.metrics.RecordDelete(time.Since(start), err)
		return err
	}

	if err := ms.store.DeleteMedia(ctx, id); err != nil {
		err = translateError(err)
		ms.metrics.RecordDelete(time.Since(start), err)
		ms.logger.LogDelete(ctx, id, err)
		return err
	}

	// The record is gone; a leftover blob is an orphan, not corruption.
	if err := ms.blobs.Delete(ctx, rec.FilePath); err != nil {
		ms.logger.WithMediaID(id).Warn("blob delete failed after record delete",
			"blob", rec.FilePath,
			"error", err,
		)
	}

	ms.metrics.RecordDelete(time.Since(start), nil)
	ms.logger.LogDelete(ctx, id, nil)
	return nil
}

// IncrementUsage bumps the usage counter of a record. It is safe to call
// concurrently with ingestion.
func (ms *MediaStore) IncrementUsage(ctx context.Context, id int64) error {
	return translateError(ms.store.IncrementUsage(ctx, id))
}

// Count returns the number of stored records.
func (ms *MediaStore) Count(ctx context.Context) (int64, error) {
	return ms.store.Count(ctx)
}

// DuplicateGroups reports groups of records that share a visual hash,
// for maintenance tooling.
func (ms *MediaStore) DuplicateGroups(ctx context.Context) ([]store.DuplicateGroup, error) {
	return ms.store.DuplicateGroups(ctx)
}

// RecalculateVisualHash recomputes the perceptual hash of a stored
// record from its blob and repairs the record and its bucket entry.
// Records ingested before a hashing fix keep stale hashes until this
// runs.
func (ms *MediaStore) RecalculateVisualHash(ctx context.Context, id int64) error {
	rec, err := ms.store.GetByID(ctx, id)
	if err != nil {
		return translateError(err)
	}

	data, err := ms.blobs.Get(ctx, rec.FilePath)
	if err != nil {
		return translateError(err)
	}

	digest, err := ms.hasher.Hash(data, rec.Kind)
	if err != nil {
		return translateIngestError(err, rec.MimeType)
	}

	return translateError(ms.store.SetVisualHash(ctx, id, digest.Visual))
}

// Checkpoint forces a WAL checkpoint outside the background schedule.
func (ms *MediaStore) Checkpoint(ctx context.Context) error {
	return ms.store.Checkpoint(ctx)
}

// Backup writes a compressed, consistent snapshot of the database to w.
// The store stays fully usable during the backup.
func (ms *MediaStore) Backup(ctx context.Context, w io.Writer, optFns ...func(o *store.BackupOptions)) error {
	return ms.store.Backup(ctx, w, optFns...)
}

// Stats returns a snapshot of ingest queue activity.
func (ms *MediaStore) Stats() ingest.Stats {
	return ms.queue.Stats()
}

// Drain blocks until all submitted ingest jobs have finished. The store
// keeps accepting new submissions.
func (ms *MediaStore) Drain() {
	ms.queue.Drain()
}

// Close drains the ingest queue and closes the underlying store. It is
// safe to call more than once.
func (ms *MediaStore) Close() error {
	return errors.Join(
		ms.queue.Close(),
		ms.store.Close(),
	)
}
