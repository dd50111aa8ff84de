// Package ingest runs media ingestion jobs through a bounded worker
// pool: hash the bytes, resolve duplicates, and either report the
// existing record or allocate an id, store the blob and commit the new
// record. Producers submit concurrently; excess jobs wait in FIFO
// order, and a job retried after a transient failure re-queues at the
// front so retries finish before new work starts.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/mediastore/blobstore"
	"github.com/hupe1980/mediastore/dedup"
	"github.com/hupe1980/mediastore/hash"
	"github.com/hupe1980/mediastore/store"
)

var (
	// ErrClosed is returned when submitting to a closed queue.
	ErrClosed = errors.New("ingest queue is closed")

	// ErrCanceled is returned from a future whose job was canceled
	// before a worker picked it up.
	ErrCanceled = errors.New("ingest job canceled")
)

// Status classifies a successful ingest outcome.
type Status int

const (
	// StatusStored means new content was persisted as a fresh record.
	StatusStored Status = iota
	// StatusDuplicate means the content matched an existing record.
	StatusDuplicate
)

func (s Status) String() string {
	switch s {
	case StatusStored:
		return "stored"
	case StatusDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Request is one piece of media to ingest. Bytes are already fetched;
// Kind tells the hasher whether to sample multiple frames.
type Request struct {
	Data     []byte
	MimeType string
	Kind     hash.Kind
	Uploader string
	Origin   string
}

// Result is a completed ingest. For StatusDuplicate, Record is the
// pre-existing record and Distance its perceptual distance from the
// submitted content (0 for byte-identical re-uploads).
type Result struct {
	Status   Status
	Record   *store.MediaRecord
	Distance int
}

// Resolver finds existing duplicates of hashed content.
type Resolver interface {
	Resolve(ctx context.Context, exactHash, visualHash string) (*dedup.Match, error)
}

// Allocator hands out record ids.
type Allocator interface {
	NextID(ctx context.Context) (int64, error)
}

// Inserter commits new records.
type Inserter interface {
	InsertMedia(ctx context.Context, rec *store.MediaRecord) error
}

// Options configures a Queue.
type Options struct {
	// Concurrency is the maximum number of jobs running at once.
	Concurrency int

	// MaxAttempts bounds how often one job is run before its failure
	// becomes terminal.
	MaxAttempts int

	// RetryBackoff is the delay before a job's first retry, doubled per
	// attempt.
	RetryBackoff time.Duration

	// Events receives lifecycle notifications.
	Events EventSink

	// Logger receives structured queue events. Defaults to silent.
	Logger *slog.Logger
}

// DefaultOptions are the options used when none are overridden.
var DefaultOptions = Options{
	Concurrency:  3,
	MaxAttempts:  3,
	RetryBackoff: 50 * time.Millisecond,
	Events:       NoopEvents{},
}

// Future is the pending result of a submitted job.
type Future struct {
	job *job
}

// Wait blocks until the job finishes or ctx is done. A timed-out wait
// means "outcome unknown", not "not ingested": the underlying write may
// still commit afterwards.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.job.done:
		return f.job.result, f.job.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel discards the job if no worker has picked it up yet. It reports
// whether cancellation won: a true return guarantees the job never
// executes, a false return means execution has begun (or finished) and
// its outcome stands. A job between retry attempts counts as begun.
func (f *Future) Cancel() bool {
	return f.job.state.CompareAndSwap(jobPending, jobCanceled)
}

const (
	jobPending int32 = iota
	jobRunning
	jobCanceled
)

type job struct {
	id       uint64
	req      Request
	digest   hash.Digest
	hashed   bool
	attempt  int
	blobName string

	state  atomic.Int32
	done   chan struct{}
	result *Result
	err    error
}

func (j *job) finish(res *Result, err error) {
	j.result = res
	j.err = err
	close(j.done)
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Submitted uint64
	Queued    int
	Running   int64
	Completed uint64
	Failed    uint64
	Retries   uint64
}

// Queue is a bounded-concurrency ingest pipeline.
type Queue struct {
	hasher    *hash.Hasher
	resolver  Resolver
	allocator Allocator
	inserter  Inserter
	blobs     blobstore.BlobStore

	opts   Options
	logger *slog.Logger
	events EventSink

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*job
	inflight int // picked up but not yet terminal, including backoff waits
	closed   bool

	sem     *semaphore.Weighted
	workers sync.WaitGroup
	nextID  atomic.Uint64

	submitted atomic.Uint64
	running   atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
}

// New creates a Queue. It starts dispatching immediately.
func New(hasher *hash.Hasher, resolver Resolver, allocator Allocator, inserter Inserter, blobs blobstore.BlobStore, optFns ...func(o *Options)) *Queue {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Events == nil {
		opts.Events = NoopEvents{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	q := &Queue{
		hasher:    hasher,
		resolver:  resolver,
		allocator: allocator,
		inserter:  inserter,
		blobs:     blobs,
		opts:      opts,
		logger:    opts.Logger,
		events:    opts.Events,
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
	}
	q.cond = sync.NewCond(&q.mu)

	q.workers.Add(1)
	go q.dispatch()

	return q
}

// Submit queues a request and returns its future.
func (q *Queue) Submit(req Request) (*Future, error) {
	j := &job{
		id:   q.nextID.Add(1),
		req:  req,
		done: make(chan struct{}),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.pending = append(q.pending, j)
	q.submitted.Add(1)
	// Broadcast, not Signal: a Drain waiter may be parked on the same
	// condition as the dispatcher.
	q.cond.Broadcast()
	q.mu.Unlock()

	q.events.JobAdded(j.id)
	return &Future{job: j}, nil
}

// Close stops accepting new jobs, waits for queued and running work to
// finish, and returns.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.workers.Wait()
	return nil
}

// Drain blocks until every queued and running job has finished. Unlike
// Close, the queue keeps accepting new submissions afterwards.
func (q *Queue) Drain() {
	q.mu.Lock()
	for len(q.pending) > 0 || q.inflight > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Stats returns a snapshot of queue activity.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	queued := len(q.pending)
	q.mu.Unlock()

	return Stats{
		Submitted: q.submitted.Load(),
		Queued:    queued,
		Running:   q.running.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Retries:   q.retries.Load(),
	}
}

func (q *Queue) dispatch() {
	defer q.workers.Done()

	for {
		q.mu.Lock()
		// Jobs in backoff are not in pending but will re-queue, so the
		// dispatcher must outlive them.
		for len(q.pending) == 0 && !(q.closed && q.inflight == 0) {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed && q.inflight == 0 {
			q.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending = q.pending[1:]
		if j.attempt == 0 {
			q.inflight++
		}
		q.mu.Unlock()

		if j.state.Load() == jobCanceled {
			q.terminal(j, nil, ErrCanceled)
			continue
		}

		// Block until a worker slot frees up; this is what bounds
		// concurrency.
		if err := q.sem.Acquire(context.Background(), 1); err != nil {
			q.terminal(j, nil, err)
			continue
		}

		q.workers.Add(1)
		go func(j *job) {
			defer q.workers.Done()
			defer q.sem.Release(1)
			q.run(j)
		}(j)
	}
}

func (q *Queue) run(j *job) {
	ctx := context.Background()

	// Last cancellation point: a job may have been canceled while it
	// waited for a worker slot. The CAS settles the race with Cancel,
	// whichever side wins the other observes it.
	if j.attempt == 0 && !j.state.CompareAndSwap(jobPending, jobRunning) {
		q.terminal(j, nil, ErrCanceled)
		return
	}

	j.attempt++
	if j.attempt == 1 {
		q.events.JobStarted(j.id)
	}
	q.running.Add(1)
	defer q.running.Add(-1)

	res, err := q.execute(ctx, j)
	if err == nil {
		q.completed.Add(1)
		q.events.JobCompleted(j.id, res)
		q.terminal(j, res, nil)
		return
	}

	if !q.retryable(err) || j.attempt >= q.opts.MaxAttempts {
		q.failed.Add(1)
		// Best-effort orphan cleanup. A lost insert race shares its blob
		// name with the winner, so that blob stays.
		if j.blobName != "" && !store.IsConflict(err) {
			if derr := q.blobs.Delete(ctx, j.blobName); derr != nil {
				q.logger.Warn("orphan blob cleanup failed",
					"job_id", j.id,
					"blob", j.blobName,
					"error", derr,
				)
			}
		}
		q.logger.Error("ingest job failed",
			"job_id", j.id,
			"attempt", j.attempt,
			"error", err,
		)
		q.events.JobFailed(j.id, err)
		q.terminal(j, nil, err)
		return
	}

	delay := q.opts.RetryBackoff << (j.attempt - 1)
	q.retries.Add(1)
	q.logger.Warn("ingest job retrying",
		"job_id", j.id,
		"attempt", j.attempt,
		"delay", delay,
		"error", err,
	)
	q.events.JobRetry(j.id, j.attempt, delay)

	// Re-queue at the front after the backoff, so the retry runs ahead
	// of newer work. The job stays inflight until it finishes for real.
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		q.pending = append([]*job{j}, q.pending...)
		q.cond.Broadcast()
		q.mu.Unlock()
	})
}

// terminal completes a job and releases its inflight slot.
func (q *Queue) terminal(j *job, res *Result, err error) {
	j.finish(res, err)

	q.mu.Lock()
	q.inflight--
	q.cond.Broadcast()
	q.mu.Unlock()
}

// execute is one attempt of the job body: resolve dedup, then allocate,
// store the blob and commit the record.
func (q *Queue) execute(ctx context.Context, j *job) (*Result, error) {
	if !j.hashed {
		digest, err := q.hasher.Hash(j.req.Data, j.req.Kind)
		if err != nil {
			// Corrupt bytes stay corrupt; retrying cannot help.
			return nil, fmt.Errorf("hash content: %w", err)
		}
		j.digest = digest
		j.hashed = true
	}

	// Re-resolve on every attempt: a retry after a lost insert race must
	// observe the row the winner just committed.
	match, err := q.resolver.Resolve(ctx, j.digest.Exact, j.digest.Visual)
	if err != nil {
		return nil, fmt.Errorf("resolve duplicates: %w", err)
	}
	if match != nil {
		return &Result{
			Status:   StatusDuplicate,
			Record:   match.Record,
			Distance: match.Distance,
		}, nil
	}

	j.blobName = blobName(j.digest.Exact, j.req.MimeType)
	if err := q.blobs.Put(ctx, j.blobName, j.req.Data); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	id, err := q.allocator.NextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate id: %w", err)
	}

	rec := &store.MediaRecord{
		ID:         id,
		ExactHash:  j.digest.Exact,
		VisualHash: j.digest.Visual,
		FilePath:   j.blobName,
		MimeType:   j.req.MimeType,
		Kind:       j.req.Kind,
		Uploader:   j.req.Uploader,
		Origin:     j.req.Origin,
	}
	if err := q.inserter.InsertMedia(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert media: %w", err)
	}
	return &Result{Status: StatusStored, Record: rec}, nil
}

// retryable decides whether an error is worth another attempt: insert
// races (the retry resolves into a dedup hit) and residual contention.
// Hashing failures and integrity errors are terminal.
func (q *Queue) retryable(err error) bool {
	if errors.Is(err, hash.ErrUndecodable) {
		return false
	}
	return store.IsConflict(err) || store.IsContention(err)
}

func blobName(exactHash, mimeType string) string {
	return "media/" + exactHash + extension(mimeType)
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/webp":
		return ".webp"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
