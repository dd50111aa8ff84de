// Package store persists media records and their similarity-bucket
// entries in SQLite. It is the only component that mutates persisted
// state: every multi-statement write runs in a single transaction, the
// database runs in WAL mode so readers proceed concurrently with the
// single writer, and contended writes are retried with exponential
// backoff on top of SQLite's own busy timeout.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/mediastore/hash"
	"github.com/hupe1980/mediastore/lsh"
)

// MediaRecord is one stored media item.
type MediaRecord struct {
	ID         int64
	ExactHash  string
	VisualHash string // empty when the content has no perceptual hash
	FilePath   string
	MimeType   string
	Kind       hash.Kind
	Uploader   string
	Origin     string
	UsageCount int64
	CreatedAt  time.Time
}

// Metrics receives store-level operational signals. The zero-cost
// default discards everything.
type Metrics interface {
	RecordRetry(op string, attempt int)
	RecordCheckpoint(duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordRetry(string, int)               {}
func (noopMetrics) RecordCheckpoint(time.Duration, error) {}

// Options configures a Store.
type Options struct {
	// Logger receives structured store events. Defaults to a silent logger.
	Logger *slog.Logger

	// Metrics receives retry and checkpoint signals.
	Metrics Metrics

	// BusyTimeout is handed to SQLite so brief contention resolves in
	// the driver before the retry layer engages.
	BusyTimeout time.Duration

	// MaxAttempts bounds the retry loop for contended writes.
	MaxAttempts int

	// RetryBackoff is the initial retry delay, doubled per attempt.
	RetryBackoff time.Duration

	// CheckpointInterval is how often the background checkpointer folds
	// the WAL back into the main database. Zero disables the background
	// loop (the startup checkpoint still runs).
	CheckpointInterval time.Duration
}

// DefaultOptions are the options used when none are overridden.
var DefaultOptions = Options{
	Metrics:            noopMetrics{},
	BusyTimeout:        5 * time.Second,
	MaxAttempts:        DefaultMaxAttempts,
	RetryBackoff:       DefaultRetryBackoff,
	CheckpointInterval: 5 * time.Minute,
}

// Store is a transactional media store over a single SQLite database.
type Store struct {
	db      *sql.DB
	path    string
	opts    Options
	logger  *slog.Logger
	metrics Metrics

	checkpointer *checkpointer
}

// Open opens (creating if necessary) the database at path and prepares
// the schema. A non-empty WAL left over from a prior run is folded back
// into the main database before the store is handed to callers.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		url.PathEscape(path), opts.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids the
	// cross-connection busy churn of the default pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:      db,
		path:    path,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	s.checkpointer = newCheckpointer(s)

	if err := s.checkpointer.startup(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.checkpointer.start()

	return s, nil
}

// Close stops the background checkpointer and closes the database.
func (s *Store) Close() error {
	s.checkpointer.stop()
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tooling (backups).
func (s *Store) DB() *sql.DB {
	return s.db
}

// InsertMedia inserts a record with its pre-allocated id and, when the
// record carries a bucketable visual hash, the matching bucket entry, in
// one transaction. A uniqueness violation (id race or duplicate
// exact_hash) is surfaced as-is for the caller to classify via
// IsConflict; contention is retried internally.
func (s *Store) InsertMedia(ctx context.Context, rec *MediaRecord) error {
	return s.Execute(ctx, "insert media", true, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO media (id, exact_hash, visual_hash, file_path, mime_type, kind, uploader, origin, usage_count)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.ID, rec.ExactHash, nullable(rec.VisualHash), rec.FilePath, rec.MimeType,
				int(rec.Kind), rec.Uploader, rec.Origin, rec.UsageCount)
			if err != nil {
				return fmt.Errorf("insert media %d: %w", rec.ID, err)
			}

			if key := lsh.BucketKey(rec.VisualHash); key != "" {
				if err := upsertBucketTx(ctx, tx, rec.ID, key, rec.VisualHash); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// DeleteMedia removes a record. Its bucket entry goes with it in the
// same transaction via the schema's cascade, so the similarity index
// never accumulates rows for ids it could hand out again.
func (s *Store) DeleteMedia(ctx context.Context, id int64) error {
	return s.Execute(ctx, "delete media", true, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete media %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delete media %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// GetByID fetches a single record.
func (s *Store) GetByID(ctx context.Context, id int64) (*MediaRecord, error) {
	return s.queryOne(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, id)
}

// FindByExactHash fetches the record with the given exact hash, or
// ErrNotFound.
func (s *Store) FindByExactHash(ctx context.Context, exactHash string) (*MediaRecord, error) {
	return s.queryOne(ctx, `SELECT `+mediaColumns+` FROM media WHERE exact_hash = ?`, exactHash)
}

// CandidatesByBucket returns the bucket entries under a key, oldest
// record first so dedup resolution prefers the original over later
// near-duplicates.
func (s *Store) CandidatesByBucket(ctx context.Context, bucketKey string) ([]lsh.Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT media_id, visual_hash FROM hash_buckets WHERE bucket_key = ? ORDER BY media_id`,
		bucketKey)
	if err != nil {
		return nil, fmt.Errorf("query bucket %q: %w", bucketKey, err)
	}
	defer rows.Close()

	var out []lsh.Candidate
	for rows.Next() {
		var c lsh.Candidate
		if err := rows.Scan(&c.MediaID, &c.VisualHash); err != nil {
			return nil, fmt.Errorf("scan bucket row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertBucket writes or replaces the bucket entry for a media id.
func (s *Store) UpsertBucket(ctx context.Context, mediaID int64, bucketKey, visualHash string) error {
	return s.Execute(ctx, "upsert bucket", true, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO hash_buckets (media_id, bucket_key, visual_hash) VALUES (?, ?, ?)
			 ON CONFLICT(media_id) DO UPDATE SET bucket_key = excluded.bucket_key, visual_hash = excluded.visual_hash`,
			mediaID, bucketKey, visualHash)
		if err != nil {
			return fmt.Errorf("upsert bucket entry for media %d: %w", mediaID, err)
		}
		return nil
	})
}

func upsertBucketTx(ctx context.Context, tx *sql.Tx, mediaID int64, bucketKey, visualHash string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO hash_buckets (media_id, bucket_key, visual_hash) VALUES (?, ?, ?)
		 ON CONFLICT(media_id) DO UPDATE SET bucket_key = excluded.bucket_key, visual_hash = excluded.visual_hash`,
		mediaID, bucketKey, visualHash)
	if err != nil {
		return fmt.Errorf("upsert bucket entry for media %d: %w", mediaID, err)
	}
	return nil
}

// ScanVisual returns up to limit (id, visual_hash) pairs of records that
// carry a visual hash, oldest first. It backs the bounded full-corpus
// fallback of dedup resolution.
func (s *Store) ScanVisual(ctx context.Context, limit int) ([]lsh.Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, visual_hash FROM media WHERE visual_hash IS NOT NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("scan visual hashes: %w", err)
	}
	defer rows.Close()

	var out []lsh.Candidate
	for rows.Next() {
		var c lsh.Candidate
		if err := rows.Scan(&c.MediaID, &c.VisualHash); err != nil {
			return nil, fmt.Errorf("scan visual row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetVisualHash backfills or recomputes a record's visual hash and keeps
// its bucket entry in step, in one transaction.
func (s *Store) SetVisualHash(ctx context.Context, id int64, visualHash string) error {
	return s.Execute(ctx, "set visual hash", true, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				`UPDATE media SET visual_hash = ? WHERE id = ?`, nullable(visualHash), id)
			if err != nil {
				return fmt.Errorf("update visual hash for media %d: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("update visual hash for media %d: %w", id, ErrNotFound)
			}
			if key := lsh.BucketKey(visualHash); key != "" {
				return upsertBucketTx(ctx, tx, id, key, visualHash)
			}
			_, err = tx.ExecContext(ctx, `DELETE FROM hash_buckets WHERE media_id = ?`, id)
			return err
		})
	})
}

// IncrementUsage bumps a record's usage counter. This is a deliberately
// narrow single-statement path outside the ingest transaction machinery,
// so read-heavy usage traffic does not contend with ingest writes.
func (s *Store) IncrementUsage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE media SET usage_count = usage_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment usage for media %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("increment usage for media %d: %w", id, ErrNotFound)
	}
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count media: %w", err)
	}
	return n, nil
}

// DuplicateGroup is a set of record ids sharing one visual hash.
type DuplicateGroup struct {
	VisualHash string
	IDs        []int64
}

// DuplicateGroups reports visual hashes carried by more than one record.
// Exact-hash uniqueness makes byte-level duplicates impossible, so any
// group here is near-duplicate content that slipped past perceptual
// dedup, useful for maintenance audits.
func (s *Store) DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT visual_hash, GROUP_CONCAT(id) FROM media
		 WHERE visual_hash IS NOT NULL
		 GROUP BY visual_hash HAVING COUNT(*) > 1
		 ORDER BY visual_hash`)
	if err != nil {
		return nil, fmt.Errorf("query duplicate groups: %w", err)
	}
	defer rows.Close()

	var out []DuplicateGroup
	for rows.Next() {
		var g DuplicateGroup
		var ids string
		if err := rows.Scan(&g.VisualHash, &ids); err != nil {
			return nil, fmt.Errorf("scan duplicate group: %w", err)
		}
		g.IDs, err = splitIDs(ids)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const mediaColumns = `id, exact_hash, visual_hash, file_path, mime_type, kind, uploader, origin, usage_count, created_at`

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*MediaRecord, error) {
	var (
		rec    MediaRecord
		visual sql.NullString
		kind   int
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID, &rec.ExactHash, &visual, &rec.FilePath, &rec.MimeType,
		&kind, &rec.Uploader, &rec.Origin, &rec.UsageCount, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	rec.VisualHash = visual.String
	rec.Kind = hash.Kind(kind)
	return &rec, nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func splitIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse id list %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
