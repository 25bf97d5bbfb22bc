package pipeline

import (
	"sync/atomic"
	"time"
)

// State is the lifecycle stage of a Driver
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateFlushing
	StateFinalFlushing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFlushing:
		return "flushing"
	case StateFinalFlushing:
		return "final_flushing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Stats summarises a run
type Stats struct {
	RunID string

	RowsSeen int64
	Skipped  int64 // Sum of the per-reason counts below

	MissingCoordinate int64
	InvalidCoordinate int64
	OutOfRange        int64
	Malformed         int64

	Filtered  int64 // Dropped by the property filter or the hook
	Tiled     int64 // Records whose flush succeeded
	Unflushed int64 // Records still buffered when a run failed

	Flushes         int
	TilesCreated    int64
	TilesUpdated    int64
	FeaturesWritten int64
	BytesWritten    int64

	Duration time.Duration
}

// LiveStats holds counters read by the progress reporter while a run is active
type LiveStats struct {
	RowsSeen  atomic.Int64
	Skipped   atomic.Int64
	Tiled     atomic.Int64
	Flushes   atomic.Int64
	Features  atomic.Int64
	BytesRead atomic.Int64
	StartTime time.Time
}
