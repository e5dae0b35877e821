package tcp

import (
	"net/netip"
	"testing"
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/metrics"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

func render(a *Aggregate, k aggregate.Key, scope metrics.Scope) []string {
	var out []string
	for _, f := range aggregate.AllFields() {
		out = append(out, f.String()+"="+a.Field(k, f, 10))
	}
	for _, l := range a.Metrics("tcp", k, scope) {
		out = append(out, l.String())
	}
	return out
}

// connections builds an aggregate with one closed request/response
// connection per round trip time, a failed attempt and one connection
// still open.
func connections(maxSamples int, from netip.Addr, srts ...int) *Aggregate {
	a := NewAggregate(maxSamples)
	for _, ms := range srts {
		a.AddFlow(Event{Opened: true, HasConnTime: true, ConnTime: time.Duration(ms) * time.Millisecond})
		a.AddFlow(Event{Packet: true, ToServer: true, Client: from, Frame: 100})
		a.AddFlow(Event{Packet: true, Client: from, Frame: 1500})
		a.AddFlow(Event{HasSRT: true, SRT: time.Duration(ms) * time.Millisecond, ReqSize: 100})
		a.AddFlow(Event{Packet: true, ToServer: true, Client: from, Frame: 60, Fin: true, Closed: true})
	}
	a.AddFlow(Event{Packet: true, ToServer: true, Client: from, Frame: 60, Syn: true, Failed: true})
	a.AddFlow(Event{Opened: true, Gap: true})
	return a
}

func TestAggregateResetIntervalTwice(t *testing.T) {
	a := connections(0, clientIP, 10, 20, 30)
	lifetime := render(a, webKey, metrics.Lifetime)

	a.Reset(false)
	once := append(render(a, webKey, metrics.Interval), render(a, webKey, metrics.Lifetime)...)
	a.Reset(false)
	twice := append(render(a, webKey, metrics.Interval), render(a, webKey, metrics.Lifetime)...)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second reset changed the aggregate (-once +twice):\n%s", diff)
	}
	if diff := cmp.Diff(lifetime, render(a, webKey, metrics.Lifetime)); diff != "" {
		t.Errorf("interval reset touched lifetime values (-before +after):\n%s", diff)
	}
	assert.Equal(t, a.Connections.Interval, uint64(0))
	assert.Equal(t, a.Connections.Total, uint64(4))
	assert.Equal(t, a.MaxFrame[toClient].Interval, uint64(0))
	assert.Equal(t, a.MaxFrame[toClient].Total, uint64(1500))
	assert.Equal(t, a.Active.Value(), uint64(1))
	assert.Equal(t, a.SRT.Len(), 3)
}

func TestAggregateMergeOrder(t *testing.T) {
	k := aggregate.TotalKey
	other := netip.MustParseAddr("10.0.0.9")

	for _, tc := range []struct {
		name       string
		maxSamples int
		wantLen    int
		wantMax    float64
	}{
		{name: "unbounded", maxSamples: 0, wantLen: 6, wantMax: 42},
		// Each part keeps its first two samples of every accumulator.
		{name: "capped", maxSamples: 2, wantLen: 4, wantMax: 41},
	} {
		t.Run(tc.name, func(t *testing.T) {
			first := connections(tc.maxSamples, clientIP, 10, 11, 12)
			second := connections(tc.maxSamples, other, 40, 41, 42)

			ab := NewAggregate(tc.maxSamples)
			ab.Merge(first)
			ab.Merge(second)
			ab.MergePercentiles()

			ba := NewAggregate(tc.maxSamples)
			ba.Merge(second)
			ba.Merge(first)
			ba.MergePercentiles()

			if diff := cmp.Diff(render(ab, k, metrics.Lifetime), render(ba, k, metrics.Lifetime)); diff != "" {
				t.Errorf("merge order changed the total (-ab +ba):\n%s", diff)
			}
			for _, p := range []struct {
				name string
				len  int
				max  float64
			}{
				{"srt", ab.SRT.Len(), ab.SRT.Get(1)},
				{"conn", ab.ConnTime.Len(), ab.ConnTime.Get(1)},
			} {
				assert.Equal(t, p.len, tc.wantLen, p.name)
				assert.Equal(t, p.max, tc.wantMax, p.name)
			}
			assert.Equal(t, ab.SRT.Get(0), 10.0)
			assert.Equal(t, ab.Connections.Total, uint64(8))
			assert.Equal(t, ab.Failed.Total, uint64(2))
			assert.Equal(t, ab.Active.Value(), uint64(2))
			assert.Equal(t, ab.Field(k, aggregate.FieldTopClient, 1), "10.0.0.1(5040)")
		})
	}
}
