package aggregate

import "Go2FlowSpectra/internal/metrics"

// Counter pairs an interval counter with its lifetime counterpart. The
// lifetime value only grows until a full reset.
type Counter struct {
	Interval uint64
	Total    uint64
}

// Add increments both generations by n.
func (c *Counter) Add(n uint64) {
	c.Interval += n
	c.Total += n
}

// Inc increments both generations by one.
func (c *Counter) Inc() {
	c.Add(1)
}

// Merge sums other into c.
func (c *Counter) Merge(other Counter) {
	c.Interval += other.Interval
	c.Total += other.Total
}

// Reset clears the interval value, and the lifetime value when resetTotal is set.
func (c *Counter) Reset(resetTotal bool) {
	c.Interval = 0
	if resetTotal {
		c.Total = 0
	}
}

// Value returns the generation selected by scope.
func (c Counter) Value(scope metrics.Scope) uint64 {
	if scope == metrics.Interval {
		return c.Interval
	}
	return c.Total
}

// Rate returns the lifetime value per second over the given duration.
func (c Counter) Rate(seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(c.Total) / seconds
}

// Max tracks the largest observation per generation.
type Max struct {
	Interval uint64
	Total    uint64
}

// Observe records v if it exceeds the current maximum.
func (m *Max) Observe(v uint64) {
	m.Interval = max(m.Interval, v)
	m.Total = max(m.Total, v)
}

// Merge keeps the larger of both maxima.
func (m *Max) Merge(other Max) {
	m.Interval = max(m.Interval, other.Interval)
	m.Total = max(m.Total, other.Total)
}

// Reset clears the interval maximum, and the lifetime one when resetTotal is set.
func (m *Max) Reset(resetTotal bool) {
	m.Interval = 0
	if resetTotal {
		m.Total = 0
	}
}

// Gauge is a level that saturates at zero instead of going negative.
type Gauge struct {
	v uint64
}

func (g *Gauge) Inc() { g.v++ }

// Dec lowers the gauge by one, clamping at zero.
func (g *Gauge) Dec() {
	if g.v > 0 {
		g.v--
	}
}

func (g *Gauge) Merge(other Gauge) { g.v += other.v }

func (g Gauge) Value() uint64 { return g.v }

// Value returns the generation selected by scope.
func (m Max) Value(scope metrics.Scope) uint64 {
	if scope == metrics.Interval {
		return m.Interval
	}
	return m.Total
}
