package model

import (
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/metrics"
)

// Collector owns the flow table and aggregate table of one protocol.
// ProcessPacket, AdvanceTick and Flush belong to the single ingest goroutine;
// the remaining methods are safe to call concurrently with it.
type Collector interface {
	// Name returns the collector's registered name (e.g. "tcp").
	Name() string

	// ProcessPacket advances the flow state machines with one packet.
	ProcessPacket(packet *PacketInfo)

	// AdvanceTick runs the timeout sweep for the given packet time.
	AdvanceTick(now time.Time)

	// Flush force-reports every pending flow as if it had timed out.
	Flush()

	// Status renders the aggregates. Empty q.Fields selects DefaultFields.
	Status(q aggregate.Query) *aggregate.Status

	// DefaultFields lists the columns shown when a query names none.
	DefaultFields() []aggregate.Field

	// Metrics returns metric lines built from the counters of scope.
	Metrics(scope metrics.Scope) []metrics.Line

	// ResetMetrics clears interval counters, and lifetime state when resetTotal is set.
	ResetMetrics(resetTotal bool)

	// DrainMetrics returns the interval metric lines and resets the counters
	// in the same step, fully when resetTotal is set.
	DrainMetrics(resetTotal bool) []metrics.Line
}

// Snapshot is the rendered state of one collector at a point in time.
type Snapshot struct {
	Collector string
	Timestamp time.Time
	Status    *aggregate.Status
	Metrics   []metrics.Line
}
