package ingest

import "time"

// EventSink receives job lifecycle notifications. Sinks exist for
// observers (metrics, logging) only; nothing in the ingest contract
// depends on them. Implementations must be safe for concurrent use and
// should return quickly, since events fire on worker goroutines.
type EventSink interface {
	JobAdded(id uint64)
	JobStarted(id uint64)
	JobCompleted(id uint64, result *Result)
	JobFailed(id uint64, err error)
	JobRetry(id uint64, attempt int, delay time.Duration)
}

// NoopEvents discards all events.
type NoopEvents struct{}

func (NoopEvents) JobAdded(uint64)                     {}
func (NoopEvents) JobStarted(uint64)                   {}
func (NoopEvents) JobCompleted(uint64, *Result)        {}
func (NoopEvents) JobFailed(uint64, error)             {}
func (NoopEvents) JobRetry(uint64, int, time.Duration) {}
