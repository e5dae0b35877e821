package model

import (
	"time"

	"Go2FlowSpectra/internal/metrics"
)

// Writer defines a generic interface for exporting collector snapshots.
type Writer interface {
	// Write takes the snapshots of every collector and persists or ships them.
	Write(snapshots []Snapshot, timestamp string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration

	// Close releases connections and files held by the writer.
	Close() error
}

// MetricsWriter is a Writer that also ships bare interval metric lines. In
// live mode the manager feeds it on every metrics interval, right as the
// interval counters are reset, instead of running a snapshotter for it.
type MetricsWriter interface {
	Writer
	WriteMetrics(lines []metrics.Line) error
}
