package dns

import (
	"net/netip"
	"testing"
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/metrics"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket/layers"
	"gotest.tools/v3/assert"
)

// render lists every column of k followed by its metric lines for scope.
func render(a *Aggregate, k aggregate.Key, scope metrics.Scope) []string {
	var out []string
	for _, f := range aggregate.AllFields() {
		out = append(out, f.String()+"="+a.Field(k, f, 10))
	}
	for _, l := range a.Metrics("dns", k, scope) {
		out = append(out, l.String())
	}
	return out
}

// exchanges builds an aggregate holding one answered query per round trip
// time, plus one NXDOMAIN answer and one timeout.
func exchanges(maxSamples int, from netip.Addr, rtts ...int) *Aggregate {
	a := NewAggregate(maxSamples)
	for _, ms := range rtts {
		a.AddFlow(Event{Query: true, Client: from, Frame: 80})
		a.AddFlow(Event{Response: true, Frame: 120, RTT: time.Duration(ms) * time.Millisecond})
	}
	a.AddFlow(Event{Query: true, Client: from, Frame: 80})
	a.AddFlow(Event{Response: true, Frame: 100, RCode: uint8(layers.DNSResponseCodeNXDomain), Empty: true})
	a.AddFlow(Event{TimedOut: true})
	return a
}

func TestAggregateResetIntervalTwice(t *testing.T) {
	k := keyFor("example.org")
	a := exchanges(0, client, 10, 20, 30)
	lifetime := render(a, k, metrics.Lifetime)

	a.Reset(false)
	once := append(render(a, k, metrics.Interval), render(a, k, metrics.Lifetime)...)
	a.Reset(false)
	twice := append(render(a, k, metrics.Interval), render(a, k, metrics.Lifetime)...)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second reset changed the aggregate (-once +twice):\n%s", diff)
	}
	if diff := cmp.Diff(lifetime, render(a, k, metrics.Lifetime)); diff != "" {
		t.Errorf("interval reset touched lifetime values (-before +after):\n%s", diff)
	}
	assert.Equal(t, a.Queries.Interval, uint64(0))
	assert.Equal(t, a.Queries.Total, uint64(4))
	assert.Equal(t, a.Timeouts.Total, uint64(1))
	assert.Equal(t, a.SRT.Len(), 4)
}

func TestAggregateMergeOrder(t *testing.T) {
	k := aggregate.TotalKey
	other := netip.MustParseAddr("192.168.1.20")

	for _, tc := range []struct {
		name       string
		maxSamples int
		wantLen    int
		wantMin    float64
		wantMax    float64
	}{
		{name: "unbounded", maxSamples: 0, wantLen: 8, wantMin: 0, wantMax: 42},
		// Each part keeps its first two round trips.
		{name: "capped", maxSamples: 2, wantLen: 4, wantMin: 10, wantMax: 41},
	} {
		t.Run(tc.name, func(t *testing.T) {
			first := exchanges(tc.maxSamples, client, 10, 11, 12)
			second := exchanges(tc.maxSamples, other, 40, 41, 42)

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
			assert.Equal(t, ab.SRT.Len(), tc.wantLen)
			assert.Equal(t, ab.SRT.Get(1), tc.wantMax)
			assert.Equal(t, ab.SRT.Get(0), tc.wantMin)
			assert.Equal(t, ab.Queries.Total, uint64(8))
			assert.Equal(t, ab.NXDomain.Total, uint64(2))
			assert.Equal(t, ab.Field(k, aggregate.FieldTopClient, 1), "192.168.1.10(4)")
		})
	}
}
