package mediastore

import (
	"log/slog"
	"time"

	"github.com/hupe1980/mediastore/blobstore"
	"github.com/hupe1980/mediastore/dedup"
	"github.com/hupe1980/mediastore/ingest"
	"github.com/hupe1980/mediastore/store"
)

type options struct {
	blobs               blobstore.BlobStore
	blobCacheCapacity   int64
	logger              *Logger
	metricsCollector    MetricsCollector
	similarityThreshold int
	scanLimit           int
	concurrency         int
	maxAttempts         int
	retryBackoff        time.Duration
	checkpointInterval  time.Duration
	maxFrames           int
	events              ingest.EventSink
}

// Option configures MediaStore constructor behavior.
type Option func(*options)

// WithBlobStore configures where media content is stored.
//
// If not set, a LocalStore rooted next to the database file is used.
// Pass a minio or s3 backed store to keep content in object storage.
func WithBlobStore(bs blobstore.BlobStore) Option {
	return func(o *options) {
		o.blobs = bs
	}
}

// WithBlobCache wraps the blob store in an in-memory LRU cache with the
// given capacity in bytes. A capacity <= 0 uses the cache default.
func WithBlobCache(capacity int64) Option {
	return func(o *options) {
		o.blobCacheCapacity = capacity
	}
}

// WithSimilarityThreshold configures the maximum visual distance at which
// two items are treated as duplicates. Lower values are stricter.
func WithSimilarityThreshold(threshold int) Option {
	return func(o *options) {
		o.similarityThreshold = threshold
	}
}

// WithScanLimit bounds the number of records examined when a similarity
// bucket is empty and the resolver falls back to scanning the corpus.
func WithScanLimit(limit int) Option {
	return func(o *options) {
		o.scanLimit = limit
	}
}

// WithConcurrency configures how many ingest jobs run concurrently.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithMaxAttempts configures how many times an ingest job is attempted
// before its error is reported to the caller.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithRetryBackoff configures the initial delay before a failed ingest
// job is retried. The delay doubles on each subsequent attempt.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *options) {
		o.retryBackoff = d
	}
}

// WithCheckpointInterval configures how often the WAL is checkpointed.
// A zero or negative interval disables periodic checkpointing; the
// startup checkpoint still runs.
func WithCheckpointInterval(d time.Duration) Option {
	return func(o *options) {
		o.checkpointInterval = d
	}
}

// WithMaxFrames configures how many frames are sampled from animated
// content when computing visual hashes.
func WithMaxFrames(n int) Option {
	return func(o *options) {
		o.maxFrames = n
	}
}

// WithEvents configures a sink notified about ingest job lifecycle
// transitions. Pass nil to disable notifications.
func WithEvents(sink ingest.EventSink) Option {
	return func(o *options) {
		o.events = sink
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &mediastore.BasicMetricsCollector{}
//	ms, _ := mediastore.Open("media.db", mediastore.WithMetricsCollector(metrics))
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := mediastore.NewJSONLogger(slog.LevelInfo)
//	ms, _ := mediastore.Open("media.db", mediastore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector:    NoopMetricsCollector{},
		logger:              NoopLogger(),
		similarityThreshold: dedup.DefaultThreshold,
		scanLimit:           dedup.DefaultScanLimit,
		concurrency:         ingest.DefaultOptions.Concurrency,
		maxAttempts:         ingest.DefaultOptions.MaxAttempts,
		retryBackoff:        ingest.DefaultOptions.RetryBackoff,
		checkpointInterval:  store.DefaultOptions.CheckpointInterval,
		events:              ingest.NoopEvents{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	// "Pass nil to disable" means noop, not a nil dereference later.
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.events == nil {
		o.events = ingest.NoopEvents{}
	}
	return o
}
