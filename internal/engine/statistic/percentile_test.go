package statistic

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestPercentileNearestRank(t *testing.T) {
	p := NewPercentile(0)
	for _, v := range []float64{50, 10, 40, 20, 30} {
		p.AddPoint(v)
	}

	tests := []struct {
		q    float64
		want float64
	}{
		{0, 10},
		{0.2, 20},
		{0.5, 30},
		{0.9, 50},
		{1, 50},
		{-1, 10},
		{2, 50},
	}
	for _, tt := range tests {
		assert.Equal(t, p.Get(tt.q), tt.want, "q=%v", tt.q)
	}
}

func TestPercentileEmpty(t *testing.T) {
	p := NewPercentile(10)
	assert.Equal(t, p.Get(0.5), 0.0)
	assert.Equal(t, p.Len(), 0)
}

func TestPercentileBound(t *testing.T) {
	p := NewPercentile(3)
	for i := 1; i <= 5; i++ {
		p.AddPoint(float64(i))
	}
	assert.Equal(t, p.Len(), 3)
	assert.Equal(t, p.Dropped(), uint64(2))
	assert.Equal(t, p.Get(1), 3.0)

	p.Reset()
	assert.Equal(t, p.Len(), 0)
	assert.Equal(t, p.Dropped(), uint64(0))
}

func TestPercentileMerge(t *testing.T) {
	a := NewPercentile(4)
	a.AddPoint(5)
	a.AddPoint(1)
	b := NewPercentile(4)
	for _, v := range []float64{9, 3, 7} {
		b.AddPoint(v)
	}

	a.Merge(b)
	assert.Equal(t, a.Len(), 5)
	assert.Equal(t, a.Dropped(), uint64(0))
	assert.Equal(t, a.Get(0), 1.0)
	assert.Equal(t, a.Get(1), 9.0)

	a.Merge(nil)
	assert.Equal(t, a.Len(), 5)
	// the source is left untouched
	assert.Equal(t, b.Len(), 3)

	// the bound still applies to new samples
	a.AddPoint(100)
	assert.Equal(t, a.Len(), 5)
	assert.Equal(t, a.Dropped(), uint64(1))
}

func TestPercentileMergeOrderIndependent(t *testing.T) {
	parts := [][]float64{{10, 11}, {20, 21}, {30, 31}, {40, 41}}
	build := func(order []int) *Percentile {
		total := NewPercentile(2)
		for _, i := range order {
			p := NewPercentile(2)
			for _, v := range parts[i] {
				p.AddPoint(v)
			}
			total.Merge(p)
		}
		return total
	}

	forward := build([]int{0, 1, 2, 3})
	backward := build([]int{3, 2, 1, 0})
	shuffled := build([]int{2, 0, 3, 1})
	for _, q := range []float64{0, 0.25, 0.5, 0.95, 1} {
		assert.Equal(t, forward.Get(q), backward.Get(q), "q=%v", q)
		assert.Equal(t, forward.Get(q), shuffled.Get(q), "q=%v", q)
	}
	assert.Equal(t, forward.Len(), 8)
	assert.Equal(t, forward.Get(1), 41.0)
	assert.Equal(t, forward.Get(0), 10.0)
}
