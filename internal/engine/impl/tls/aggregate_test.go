package tls

import (
	stdtls "crypto/tls"
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
	for _, l := range a.Metrics("tls", k, scope) {
		out = append(out, l.String())
	}
	return out
}

// handshakes builds an aggregate with one completed handshake per latency
// and one that failed.
func handshakes(maxSamples int, from netip.Addr, domain string, version uint16, latencies ...int) *Aggregate {
	a := NewAggregate(maxSamples)
	for _, ms := range latencies {
		a.AddFlow(Event{Packet: true, Frame: 300, Client: from, Hello: true, Domain: domain, Ticket: true})
		a.AddFlow(Event{
			Packet: true, Frame: 1400, Client: from,
			Completed: true, Latency: time.Duration(ms) * time.Millisecond, Version: version,
		})
	}
	a.AddFlow(Event{Packet: true, Frame: 300, Client: from, Hello: true, Domain: domain})
	a.AddFlow(Event{Failed: true})
	return a
}

func TestAggregateResetIntervalTwice(t *testing.T) {
	k := aggregate.Key{Name: "example.com", ServerPort: 443}
	a := handshakes(0, clientIP, "example.com", stdtls.VersionTLS13, 10, 20, 30)
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
	assert.Equal(t, a.Handshakes.Interval, uint64(0))
	assert.Equal(t, a.Handshakes.Total, uint64(4))
	assert.Equal(t, a.Domains["example.com"], uint64(4))
	assert.Equal(t, a.Latency.Len(), 3)
}

func TestAggregateMergeOrder(t *testing.T) {
	k := aggregate.TotalKey
	other := netip.MustParseAddr("10.1.0.9")

	for _, tc := range []struct {
		name       string
		maxSamples int
		wantLen    int
		wantMax    float64
	}{
		{name: "unbounded", maxSamples: 0, wantLen: 6, wantMax: 42},
		// Each part keeps its first two handshakes.
		{name: "capped", maxSamples: 2, wantLen: 4, wantMax: 41},
	} {
		t.Run(tc.name, func(t *testing.T) {
			first := handshakes(tc.maxSamples, clientIP, "b.example", stdtls.VersionTLS13, 10, 11, 12)
			second := handshakes(tc.maxSamples, other, "a.example", stdtls.VersionTLS12, 40, 41, 42)

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
			assert.Equal(t, ab.Latency.Len(), tc.wantLen)
			assert.Equal(t, ab.Latency.Get(1), tc.wantMax)
			assert.Equal(t, ab.Latency.Get(0), 10.0)
			assert.Equal(t, ab.Handshakes.Total, uint64(8))
			assert.Equal(t, ab.Failures.Total, uint64(2))

			// Equal counts resolve the same way whatever the merge order.
			assert.Equal(t, ab.Field(k, aggregate.FieldDomain, 1), "a.example")
			assert.Equal(t, ab.Field(k, aggregate.FieldVersion, 1), "TLS 1.3")
			assert.Equal(t, ab.Field(k, aggregate.FieldTopClient, 1), "10.1.0.5(5400)")
		})
	}
}
