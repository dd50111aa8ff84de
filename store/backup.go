package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/time/rate"
)

// BackupCodec selects the compression applied to a backup stream.
type BackupCodec string

const (
	// BackupZstd favors compression ratio.
	BackupZstd BackupCodec = "zstd"
	// BackupLZ4 favors throughput.
	BackupLZ4 BackupCodec = "lz4"
)

// BackupOptions configures Backup.
type BackupOptions struct {
	// Codec selects the compression format. Defaults to zstd.
	Codec BackupCodec

	// BytesPerSecond throttles how fast the snapshot is read, so a
	// backup running next to live ingest traffic does not saturate the
	// disk. Zero means unthrottled.
	BytesPerSecond int
}

// Backup writes a compressed, transactionally consistent snapshot of the
// database to w. The snapshot is produced with VACUUM INTO, so it
// contains everything committed at the time the backup starts and
// nothing of any write in flight after it.
func (s *Store) Backup(ctx context.Context, w io.Writer, optFns ...func(o *BackupOptions)) error {
	opts := BackupOptions{Codec: BackupZstd}
	for _, fn := range optFns {
		fn(&opts)
	}

	tmp := filepath.Join(filepath.Dir(s.path), fmt.Sprintf(".backup-%d.db", time.Now().UnixNano()))
	defer os.Remove(tmp)

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}

	f, err := os.Open(tmp)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if opts.BytesPerSecond > 0 {
		src = &throttledReader{
			ctx:     ctx,
			r:       f,
			limiter: rate.NewLimiter(rate.Limit(opts.BytesPerSecond), opts.BytesPerSecond),
		}
	}

	switch opts.Codec {
	case BackupZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		if _, err := io.Copy(zw, src); err != nil {
			_ = zw.Close()
			return fmt.Errorf("compress snapshot: %w", err)
		}
		return zw.Close()
	case BackupLZ4:
		lw := lz4.NewWriter(w)
		if _, err := io.Copy(lw, src); err != nil {
			_ = lw.Close()
			return fmt.Errorf("compress snapshot: %w", err)
		}
		return lw.Close()
	default:
		return fmt.Errorf("unknown backup codec %q", opts.Codec)
	}
}

// throttledReader paces reads through a token-bucket limiter.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
