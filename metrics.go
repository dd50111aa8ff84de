package mediastore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    ingestCounter   prometheus.Counter
//	    ingestHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordIngest(duration time.Duration, duplicate bool, err error) {
//	    p.ingestCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordIngest is called after each ingest operation.
	// duplicate reports whether the content resolved to an existing
	// record, err is nil if successful.
	RecordIngest(duration time.Duration, duplicate bool, err error)

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration, err error)

	// RecordRetry is called for each database contention retry.
	RecordRetry(op string, attempt int)

	// RecordCheckpoint is called after each write-ahead log checkpoint.
	RecordCheckpoint(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(time.Duration, bool, error) {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)       {}
func (NoopMetricsCollector) RecordRetry(string, int)                 {}
func (NoopMetricsCollector) RecordCheckpoint(time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestCount      atomic.Int64
	IngestDuplicates atomic.Int64
	IngestErrors     atomic.Int64
	IngestTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	RetryCount       atomic.Int64
	CheckpointCount  atomic.Int64
	CheckpointErrors atomic.Int64
}

func (c *BasicMetricsCollector) RecordIngest(duration time.Duration, duplicate bool, err error) {
	c.IngestCount.Add(1)
	c.IngestTotalNanos.Add(int64(duration))
	if duplicate {
		c.IngestDuplicates.Add(1)
	}
	if err != nil {
		c.IngestErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	c.DeleteCount.Add(1)
	if err != nil {
		c.DeleteErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordRetry(string, int) {
	c.RetryCount.Add(1)
}

func (c *BasicMetricsCollector) RecordCheckpoint(_ time.Duration, err error) {
	c.CheckpointCount.Add(1)
	if err != nil {
		c.CheckpointErrors.Add(1)
	}
}

// AverageIngestDuration returns the mean ingest latency so far.
func (c *BasicMetricsCollector) AverageIngestDuration() time.Duration {
	count := c.IngestCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(c.IngestTotalNanos.Load() / count)
}
