package statistic

import (
	"math"
	"slices"
)

// DefaultMaxPoints bounds a Percentile created with a non-positive limit.
const DefaultMaxPoints = 1 << 16

// Percentile is an append-only sample buffer answering nearest-rank
// percentile queries. AddPoint keeps at most maxPoints samples. Samples are
// sorted lazily: any mutation clears the sorted flag and the next query
// sorts again.
type Percentile struct {
	points    []float64
	sorted    bool
	maxPoints int
	dropped   uint64
}

// NewPercentile creates an accumulator that records at most maxPoints samples.
func NewPercentile(maxPoints int) *Percentile {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	return &Percentile{maxPoints: maxPoints, sorted: true}
}

// AddPoint appends one sample. Samples beyond the bound are dropped.
func (p *Percentile) AddPoint(v float64) {
	if len(p.points) >= p.limit() {
		p.dropped++
		return
	}
	p.points = append(p.points, v)
	p.sorted = false
}

// Merge appends every sample of other. The bound only limits AddPoint, so
// a merged accumulator holds the full concatenation and its quantiles do
// not depend on merge order.
func (p *Percentile) Merge(other *Percentile) {
	if other == nil {
		return
	}
	if len(other.points) > 0 {
		p.points = append(p.points, other.points...)
		p.sorted = false
	}
	p.dropped += other.dropped
}

// Finalize sorts the samples ascending. It is idempotent.
func (p *Percentile) Finalize() {
	if p.sorted {
		return
	}
	slices.Sort(p.points)
	p.sorted = true
}

// Get returns the sample at ordinal round(n*q+0.5)-1, or 0 when empty.
func (p *Percentile) Get(q float64) float64 {
	n := len(p.points)
	if n == 0 {
		return 0
	}
	p.Finalize()
	q = math.Max(0, math.Min(1, q))
	idx := int(math.Round(float64(n)*q+0.5)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return p.points[idx]
}

func (p *Percentile) limit() int {
	if p.maxPoints <= 0 {
		return DefaultMaxPoints
	}
	return p.maxPoints
}

// Len returns the number of retained samples.
func (p *Percentile) Len() int {
	return len(p.points)
}

// Dropped returns how many samples did not fit under the bound.
func (p *Percentile) Dropped() uint64 {
	return p.dropped
}

// Reset discards every sample.
func (p *Percentile) Reset() {
	p.points = p.points[:0]
	p.sorted = true
	p.dropped = 0
}
