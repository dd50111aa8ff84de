package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	// checkpointTimeout bounds a single checkpoint pass. A pass that
	// cannot finish in this window is competing with a long writer and
	// will be retried on the next tick.
	checkpointTimeout = 10 * time.Second

	// checkpointFailureCeiling stops the background loop after this many
	// consecutive failures. A checkpoint that keeps failing points at a
	// stuck reader or a sick disk; hammering it every interval only adds
	// load without fixing anything.
	checkpointFailureCeiling = 3
)

// checkpointer folds the write-ahead log back into the main database:
// once at startup when a prior run left a non-empty WAL behind, then on
// a fixed interval to bound log growth.
type checkpointer struct {
	store *Store

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newCheckpointer(s *Store) *checkpointer {
	return &checkpointer{
		store: s,
		done:  make(chan struct{}),
	}
}

// startup recovers the WAL left by a previous run. An empty or absent
// WAL costs nothing to skip.
func (c *checkpointer) startup() error {
	info, err := os.Stat(c.store.path + "-wal")
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat wal: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	c.store.logger.Info("recovering write-ahead log from previous run",
		"wal_size", info.Size(),
	)
	if err := c.checkpoint(); err != nil {
		return fmt.Errorf("startup checkpoint: %w", err)
	}
	return nil
}

func (c *checkpointer) start() {
	if c.store.opts.CheckpointInterval <= 0 {
		return
	}
	c.wg.Add(1)
	go c.run()
}

func (c *checkpointer) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.store.opts.CheckpointInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.checkpoint(); err != nil {
				failures++
				c.store.logger.Error("checkpoint failed",
					"error", err,
					"consecutive_failures", failures,
				)
				if failures >= checkpointFailureCeiling {
					c.store.logger.Error("checkpoint failure ceiling reached, stopping background checkpointing")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (c *checkpointer) checkpoint() error {
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()

	return c.store.Checkpoint(ctx)
}

// Checkpoint folds the write-ahead log into the main database file now,
// outside the background schedule.
func (s *Store) Checkpoint(ctx context.Context) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	s.metrics.RecordCheckpoint(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	s.logger.Debug("wal checkpoint complete", "duration", time.Since(start))
	return nil
}

func (c *checkpointer) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}
